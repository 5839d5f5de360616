package scoring

import (
	"math"
	"sync"
	"time"
)

const (
	// MaxScore caps every performance
	MaxScore  = 1000
	baseScore = 100
	perSecond = 10
)

// Score returns the playthrough score: nothing if nobody sang, otherwise
// ten points per second of song plus a base of 100, capped at MaxScore.
func Score(sang bool, duration time.Duration) int {
	if !sang {
		return 0
	}
	seconds := int(math.Round(duration.Seconds()))
	if seconds < 0 {
		seconds = 0
	}
	score := seconds*perSecond + baseScore
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Result is a finished performance
type Result struct {
	Singer   string        `json:"singer"`
	Title    string        `json:"title"`
	VideoID  string        `json:"videoId"`
	Sang     bool          `json:"sang"`
	Duration time.Duration `json:"duration"`
	Score    int           `json:"score"`
}

// Tracker follows one song from load to end
type Tracker struct {
	mu       sync.Mutex
	singer   string
	title    string
	videoID  string
	sang     bool
	started  time.Time
	duration time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker using the wall clock
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// SetClock replaces the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Begin resets the tracker for a newly loaded song
func (t *Tracker) Begin(singer, title, videoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.singer = singer
	t.title = title
	t.videoID = videoID
	t.sang = false
	t.started = time.Time{}
	t.duration = 0
}

// Started marks the moment playback actually began
func (t *Tracker) Started() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = t.now()
}

// SetDuration records the song length reported by the player
func (t *Tracker) SetDuration(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duration = d
}

// MarkSinging records that someone sang along
func (t *Tracker) MarkSinging() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sang = true
}

// Finish computes the result. Without a reported duration the elapsed
// playback time is used.
func (t *Tracker) Finish() Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	duration := t.duration
	if duration == 0 && !t.started.IsZero() {
		duration = t.now().Sub(t.started)
	}
	return Result{
		Singer:   t.singer,
		Title:    t.title,
		VideoID:  t.videoID,
		Sang:     t.sang,
		Duration: duration,
		Score:    Score(t.sang, duration),
	}
}
