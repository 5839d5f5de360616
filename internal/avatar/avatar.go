package avatar

import (
	"fmt"
	"hash/fnv"
	"image"
	"strings"
	"unicode"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Palette is the set of badge colors. A singer always gets the same one.
var Palette = []string{
	"#FF4444", "#FF9500", "#FFCC00", "#4CAF50", "#2196F3", "#9C27B0", "#E91E8C",
	"#00BCD4", "#FF6B9D", "#7C4DFF", "#00E676", "#6B4423",
}

// Badge is a round initials avatar for a singer
type Badge struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// For builds the badge for a display name
func For(name string) Badge {
	return Badge{Name: name, Color: ColorFor(name)}
}

// ColorFor picks a palette color from the case-folded name
func ColorFor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// Initials returns up to two uppercase letters, first and last word.
// Names without letters or digits yield "?".
func Initials(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	switch len(words) {
	case 0:
		return "?"
	case 1:
		return strings.ToUpper(string([]rune(words[0])[:1]))
	}
	first := []rune(words[0])[:1]
	last := []rune(words[len(words)-1])[:1]
	return strings.ToUpper(string(first) + string(last))
}

// ToSVG renders the badge with its initials as text
func (b Badge) ToSVG() string {
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100" width="100" height="100">`+
		`%s`+
		`<text x="50" y="50" dy="0.35em" text-anchor="middle" font-family="sans-serif" font-size="40" font-weight="bold" fill="#FFFFFF">%s</text>`+
		`</svg>`, b.shapes(), escapeText(Initials(b.Name)))
}

// shapes is the part of the badge the rasterizer draws. Text is left to the
// caller, which has fonts.
func (b Badge) shapes() string {
	color := b.Color
	if color == "" {
		color = ColorFor(b.Name)
	}
	return fmt.Sprintf(`<circle cx="50" cy="50" r="48" fill="%s"/>`+
		`<circle cx="50" cy="50" r="44" fill="none" stroke="#FFFFFF" stroke-width="3" stroke-opacity="0.6"/>`, color)
}

// ToImage rasterizes the badge background at size x size pixels
func (b Badge) ToImage(size int) (image.Image, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid badge size %d", size)
	}
	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100" width="100" height="100">` + b.shapes() + `</svg>`

	icon, err := oksvg.ReadIconStream(strings.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	return img, nil
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
