package holdingscreen

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"
)

func TestStripEmoji(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no emoji", "Hello World", "Hello World"},
		{"trailing emoji", "Perfect 🎤", "Perfect"},
		{"emoji between words", "Sing 🎶 Along", "Sing Along"},
		{"sparkles", "✨ Score 1000 ✨", "Score 1000"},
		{"accents kept", "Café Olé", "Café Olé"},
		{"only emoji", "🎤🎶", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripEmoji(tt.input); got != tt.expected {
				t.Errorf("stripEmoji(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("short", 10); got != "short" {
		t.Errorf("Expected unchanged, got %q", got)
	}
	if got := truncateString("Bohemian Rhapsody", 10); got != "Bohemia..." {
		t.Errorf("Expected truncation, got %q", got)
	}
	if got := truncateString("ééééééé", 5); got != "éé..." {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
}

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	dir, err := os.MkdirTemp("", "holdingscreen_test_*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	g, err := NewGenerator(dir)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	g.fetch = func(string) (image.Image, error) {
		return nil, errors.New("offline")
	}
	return g
}

func TestQRImageIsScaled(t *testing.T) {
	g := newTestGenerator(t)
	var requested string
	g.fetch = func(u string) (image.Image, error) {
		requested = u
		img := image.NewRGBA(image.Rect(0, 0, 100, 100))
		img.Set(0, 0, color.Black)
		return img, nil
	}

	qr := g.qrImage("http://10.0.0.5:8080")
	if qr == nil {
		t.Fatal("Expected QR image")
	}
	if b := qr.Bounds(); b.Dx() != qrSize || b.Dy() != qrSize {
		t.Errorf("Expected %dx%d QR, got %dx%d", qrSize, qrSize, b.Dx(), b.Dy())
	}
	if !strings.Contains(requested, "data=http%3A%2F%2F10.0.0.5%3A8080") {
		t.Errorf("Expected join URL in QR request, got %s", requested)
	}

	if g.qrImage("") != nil {
		t.Error("Expected no QR without join URL")
	}
}

func TestGenerateWritesPNG(t *testing.T) {
	g := newTestGenerator(t)

	path, err := g.Generate(Screen{
		JoinURL: "http://10.0.0.5:8080",
		NextUp:  &NextUp{Title: "Perfect - Karaoke", Artist: "Ed Sheeran", Singer: "Alex"},
		Banner:  "Score: 1000",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Expected valid PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != canvasWidth || b.Dy() != canvasHeight {
		t.Errorf("Expected %dx%d, got %dx%d", canvasWidth, canvasHeight, b.Dx(), b.Dy())
	}
}

func TestWritePNGWithoutNextUp(t *testing.T) {
	g := newTestGenerator(t)

	var buf bytes.Buffer
	if err := g.WritePNG(&buf, Screen{Banner: "Video unavailable", Alert: true}); err != nil {
		t.Fatalf("WritePNG failed: %v", err)
	}
	if _, err := png.Decode(&buf); err != nil {
		t.Errorf("Expected valid PNG: %v", err)
	}
}
