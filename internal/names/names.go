package names

import (
	"fmt"
	"math/rand"
)

// Stage-name halves, mixed to build names for singers who join without one
var firstNames = []string{
	"Aretha", "Billie", "Bruno", "Celine", "Dolly", "Elton", "Ella", "Freddie",
	"Gloria", "Harry", "Janis", "Johnny", "Lionel", "Madonna", "Marvin", "Nina",
	"Otis", "Prince", "Reba", "Shania", "Stevie", "Taylor", "Whitney", "Ziggy",
}

var lastNames = []string{
	"Belter", "Crooner", "Diva", "Encore", "Falsetto", "Groove", "Harmony",
	"Jukebox", "Karaoke", "Limelight", "Melody", "Mic-Drop", "Octave",
	"Power-Ballad", "Refrain", "Spotlight", "Tempo", "Vibrato", "Yodel",
}

// Generate returns a random stage name such as "Dolly Vibrato"
func Generate() string {
	first := firstNames[rand.Intn(len(firstNames))]
	last := lastNames[rand.Intn(len(lastNames))]
	return first + " " + last
}

// GenerateUnique returns a stage name for which taken reports false
func GenerateUnique(taken func(name string) bool) string {
	for i := 0; i < 50; i++ {
		name := Generate()
		if !taken(name) {
			return name
		}
	}
	for {
		name := fmt.Sprintf("%s %d", Generate(), rand.Intn(9000)+1000)
		if !taken(name) {
			return name
		}
	}
}
