package holdingscreen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/fogleman/gg"
	"github.com/nfnt/resize"

	"singalong/internal/avatar"
)

const (
	canvasWidth  = 1920
	canvasHeight = 1080
	qrSize       = 240
)

var (
	cyanColor   = color.RGBA{0, 188, 212, 255}
	yellowColor = color.RGBA{234, 179, 8, 255}
	whiteColor  = color.RGBA{255, 255, 255, 255}
	grayColor   = color.RGBA{160, 160, 160, 255}
	redColor    = color.RGBA{239, 68, 68, 255}
)

// NextUp is the song shown in the bottom right box
type NextUp struct {
	Title  string
	Artist string
	Singer string
}

// Screen describes what the idle TV shows
type Screen struct {
	JoinURL string
	NextUp  *NextUp
	// Banner is a one-line message across the top, such as a score or an
	// unavailable video notice. Empty hides it.
	Banner string
	// Alert draws the banner in red
	Alert bool
}

// Generator renders holding screen images
type Generator struct {
	tempDir string
	fetch   func(string) (image.Image, error)
}

// NewGenerator creates a generator writing into tempDir
func NewGenerator(tempDir string) (*Generator, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &Generator{tempDir: tempDir, fetch: fetchImage}, nil
}

// Path is where Generate writes the screen
func (g *Generator) Path() string {
	return filepath.Join(g.tempDir, "holding-screen.png")
}

// Generate renders the screen to Path and returns it
func (g *Generator) Generate(s Screen) (string, error) {
	dc := g.render(s)
	if err := dc.SavePNG(g.Path()); err != nil {
		return "", fmt.Errorf("failed to save holding screen: %w", err)
	}
	return g.Path(), nil
}

// WritePNG renders the screen as PNG into w
func (g *Generator) WritePNG(w io.Writer, s Screen) error {
	return png.Encode(w, g.render(s).Image())
}

func (g *Generator) render(s Screen) *gg.Context {
	dc := gg.NewContext(canvasWidth, canvasHeight)
	drawBackground(dc)
	drawBottomOverlay(dc)
	if s.Banner != "" {
		drawBanner(dc, s.Banner, s.Alert)
	}
	g.drawQRSection(dc, s.JoinURL)
	drawNextUpSection(dc, s.NextUp)
	return dc
}

// drawBackground paints a vertical night-sky gradient with the wordmark
func drawBackground(dc *gg.Context) {
	grad := gg.NewLinearGradient(0, 0, 0, canvasHeight)
	grad.AddColorStop(0, color.RGBA{24, 16, 48, 255})
	grad.AddColorStop(0.6, color.RGBA{40, 20, 70, 255})
	grad.AddColorStop(1, color.RGBA{8, 8, 16, 255})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, canvasWidth, canvasHeight)
	dc.Fill()

	if err := loadFont(dc, 180); err != nil {
		return
	}
	w, _ := dc.MeasureString("SINGALONG")
	x := (canvasWidth - w) / 2
	dc.SetColor(cyanColor)
	dc.DrawString("SING", x, 440)
	sw, _ := dc.MeasureString("SING")
	dc.SetColor(yellowColor)
	dc.DrawString("ALONG", x+sw, 440)
}

// drawBottomOverlay draws a semi-transparent black gradient at the bottom
func drawBottomOverlay(dc *gg.Context) {
	overlayHeight := 350.0
	startY := float64(canvasHeight) - overlayHeight

	for y := 0; y < int(overlayHeight); y++ {
		alpha := float64(y) / overlayHeight * 0.85
		dc.SetRGBA(0, 0, 0, alpha)
		dc.DrawRectangle(0, startY+float64(y), canvasWidth, 1)
		dc.Fill()
	}
}

func drawBanner(dc *gg.Context, text string, alert bool) {
	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRoundedRectangle(160, 80, canvasWidth-320, 120, 16)
	dc.Fill()

	if alert {
		dc.SetColor(redColor)
	} else {
		dc.SetColor(yellowColor)
	}
	if err := loadFont(dc, 56); err == nil {
		dc.DrawStringAnchored(truncateString(stripEmoji(text), 48), canvasWidth/2, 140, 0.5, 0.5)
	}
}

// drawQRSection draws the QR code and connection info on bottom left
func (g *Generator) drawQRSection(dc *gg.Context, joinURL string) {
	padding := 50.0
	qrX := padding
	qrY := float64(canvasHeight) - float64(qrSize) - padding - 30

	boxPadding := 20.0
	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRoundedRectangle(qrX-boxPadding, qrY-boxPadding-40, float64(qrSize)+boxPadding*2+320, float64(qrSize)+boxPadding*2+50, 16)
	dc.Fill()

	if qr := g.qrImage(joinURL); qr != nil {
		dc.DrawImage(qr, int(qrX), int(qrY))
	} else {
		dc.SetRGBA(1, 1, 1, 0.3)
		dc.DrawRoundedRectangle(qrX, qrY, qrSize, qrSize, 8)
		dc.Fill()
	}

	textX := qrX + qrSize + 30
	textY := qrY + 50

	dc.SetColor(yellowColor)
	if err := loadFont(dc, 42); err == nil {
		dc.DrawString("Scan to join!", textX, textY)
	}

	dc.SetColor(whiteColor)
	if err := loadFont(dc, 32); err == nil {
		dc.DrawString(joinURL, textX, textY+55)
	}

	dc.SetColor(grayColor)
	if err := loadFont(dc, 24); err == nil {
		dc.DrawString("Join the karaoke session", textX, textY+100)
	}
}

// qrImage fetches the join QR code scaled to qrSize. Nil when unavailable.
func (g *Generator) qrImage(joinURL string) image.Image {
	if joinURL == "" || g.fetch == nil {
		return nil
	}
	qrURL := fmt.Sprintf("https://api.qrserver.com/v1/create-qr-code/?size=%dx%d&data=%s&bgcolor=ffffff&color=000000",
		qrSize, qrSize, url.QueryEscape(joinURL))

	img, err := g.fetch(qrURL)
	if err != nil || img == nil {
		log.Printf("[SCREEN] QR code unavailable: %v", err)
		return nil
	}
	if b := img.Bounds(); b.Dx() != qrSize || b.Dy() != qrSize {
		img = resize.Resize(qrSize, qrSize, img, resize.NearestNeighbor)
	}
	return img
}

// drawNextUpSection draws the "Next Up" info box on bottom right
func drawNextUpSection(dc *gg.Context, next *NextUp) {
	boxWidth := 900.0
	boxHeight := 200.0
	padding := 50.0
	boxX := float64(canvasWidth) - boxWidth - padding
	boxY := float64(canvasHeight) - boxHeight - padding - 30
	innerPadding := 25.0
	badgeSize := 150.0

	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRoundedRectangle(boxX, boxY, boxWidth, boxHeight, 16)
	dc.Fill()

	dc.SetColor(yellowColor)
	dc.DrawRoundedRectangle(boxX, boxY, 6, boxHeight, 3)
	dc.Fill()

	if err := loadFont(dc, 22); err == nil {
		dc.DrawString("NEXT UP", boxX+innerPadding+badgeSize+25, boxY+innerPadding+20)
	}

	badgeX := boxX + innerPadding
	badgeY := boxY + (boxHeight-badgeSize)/2
	textX := boxX + innerPadding + badgeSize + 25

	if next == nil || next.Title == "" {
		drawPlaceholderBadge(dc, badgeX, badgeY, badgeSize)

		dc.SetColor(grayColor)
		if err := loadFont(dc, 32); err == nil {
			dc.DrawString("Waiting for songs...", textX, boxY+innerPadding+70)
		}
		dc.SetColor(color.RGBA{100, 100, 100, 255})
		if err := loadFont(dc, 24); err == nil {
			dc.DrawString("Scan QR code to add a song!", textX, boxY+innerPadding+115)
		}
		return
	}

	drawSingerBadge(dc, next.Singer, badgeX, badgeY, badgeSize)

	dc.SetColor(whiteColor)
	if err := loadFont(dc, 36); err == nil {
		dc.DrawString(truncateString(stripEmoji(next.Title), 35), textX, boxY+innerPadding+65)
	}
	dc.SetColor(grayColor)
	if err := loadFont(dc, 28); err == nil {
		dc.DrawString(truncateString(stripEmoji(next.Artist), 40), textX, boxY+innerPadding+105)
	}
	dc.SetColor(cyanColor)
	if err := loadFont(dc, 24); err == nil {
		dc.DrawString(stripEmoji(next.Singer), textX, boxY+innerPadding+145)
	}
}

func drawSingerBadge(dc *gg.Context, singer string, x, y, size float64) {
	img, err := avatar.For(singer).ToImage(int(size))
	if err != nil {
		log.Printf("[SCREEN] Failed to render badge for %s: %v", singer, err)
		drawPlaceholderBadge(dc, x, y, size)
		return
	}
	dc.DrawImage(img, int(x), int(y))

	dc.SetColor(whiteColor)
	if err := loadFont(dc, size*0.4); err == nil {
		dc.DrawStringAnchored(avatar.Initials(singer), x+size/2, y+size/2, 0.5, 0.5)
	}
}

func drawPlaceholderBadge(dc *gg.Context, x, y, size float64) {
	dc.SetRGBA(0.3, 0.3, 0.3, 0.8)
	dc.DrawCircle(x+size/2, y+size/2, size/2)
	dc.Fill()

	scale := size / 100.0
	dc.SetRGBA(0.5, 0.5, 0.5, 1)
	dc.DrawCircle(x+size/2, y+size/2-10*scale, 18*scale)
	dc.Fill()
	dc.DrawEllipse(x+size/2, y+size/2+30*scale, 28*scale, 20*scale)
	dc.Fill()
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func fetchImage(imageURL string) (image.Image, error) {
	resp, err := httpClient.Get(imageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// stripEmoji drops pictographs the system fonts cannot draw and collapses
// the whitespace they leave behind
func stripEmoji(s string) string {
	var b strings.Builder
	for _, r := range s {
		if isEmoji(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0xFE0F || r == 0x200D:
		return true
	}
	return unicode.Is(unicode.So, r) && r > 0x2000
}

// truncateString shortens s to maxLen runes with an ellipsis
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// loadFont tries to load a font face from various system locations
func loadFont(dc *gg.Context, size float64) error {
	fontPaths := []string{
		"/System/Library/Fonts/SFNS.ttf",
		"/Library/Fonts/Arial.ttf",
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
		"C:\\Windows\\Fonts\\arial.ttf",
	}

	for _, path := range fontPaths {
		if err := dc.LoadFontFace(path, size); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no suitable font found")
}
