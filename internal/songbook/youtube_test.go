package songbook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeYouTubeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "perfect karaoke", q.Get("q"))
		assert.Equal(t, "15", q.Get("maxResults"))
		assert.Equal(t, "strict", q.Get("safeSearch"))
		assert.Equal(t, "test-key", q.Get("key"))

		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id": map[string]string{"videoId": "2takcwFERG0"},
					"snippet": map[string]any{
						"title":        "Perfect - Ed Sheeran (Karaoke Version)",
						"channelTitle": "Sing King",
						"thumbnails": map[string]any{
							"medium": map[string]string{"url": "https://i.ytimg.com/vi/2takcwFERG0/mqdefault.jpg"},
						},
					},
				},
				{"id": map[string]string{}, "snippet": map[string]any{"title": "a channel"}},
			},
		})
	})
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2takcwFERG0", r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "2takcwFERG0", "contentDetails": map[string]string{"duration": "PT4M23S"}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestYouTubeSearch(t *testing.T) {
	srv := fakeYouTubeAPI(t)
	yt := NewYouTube("test-key", nil)
	yt.baseURL = srv.URL

	songs, source, err := yt.Search(context.Background(), "  perfect ")
	require.NoError(t, err)
	assert.Equal(t, SourceYouTube, source)
	require.Len(t, songs, 1)
	assert.Equal(t, "2takcwFERG0", songs[0].VideoID)
	assert.Equal(t, "Sing King", songs[0].Artist)
	assert.Equal(t, 263, songs[0].Duration)
	assert.NotEmpty(t, songs[0].ThumbnailURL)
}

func TestYouTubeFallsBackToCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestCatalog(t)
	yt := NewYouTube("test-key", c)
	yt.baseURL = srv.URL

	songs, source, err := yt.Search(context.Background(), "adele")
	require.NoError(t, err)
	assert.Equal(t, SourceCatalog, source)
	assert.Len(t, songs, 2)
}

func TestYouTubeWithoutKeyUsesCatalog(t *testing.T) {
	c := newTestCatalog(t)
	yt := NewYouTube("", c)

	songs, source, err := yt.Search(context.Background(), "queen")
	require.NoError(t, err)
	assert.Equal(t, SourceCatalog, source)
	require.Len(t, songs, 1)
	assert.Equal(t, "fJ9rUzIMt7o", songs[0].VideoID)
}

func TestYouTubeEmptyQuery(t *testing.T) {
	_, _, err := NewYouTube("", nil).Search(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrEmptyQuery))
}

func TestParseDuration(t *testing.T) {
	tests := map[string]int{
		"PT4M30S":  270,
		"PT1H2M3S": 3723,
		"PT45S":    45,
		"PT3M":     180,
		"PT0S":     0,
		"P1D":      0,
		"":         0,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseDuration(in), in)
	}
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		input string
		id    string
		ok    bool
	}{
		{"https://www.youtube.com/watch?v=2takcwFERG0", "2takcwFERG0", true},
		{"https://www.youtube.com/watch?feature=share&v=2takcwFERG0", "2takcwFERG0", true},
		{"https://youtu.be/2takcwFERG0?t=10", "2takcwFERG0", true},
		{"https://www.youtube.com/embed/2takcwFERG0", "2takcwFERG0", true},
		{"2takcwFERG0", "2takcwFERG0", true},
		{"not a video", "", false},
		{"https://example.com/watch?v=short", "", false},
	}
	for _, tt := range tests {
		id, ok := ExtractVideoID(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		assert.Equal(t, tt.id, id, tt.input)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "4:23", FormatDuration(263))
	assert.Equal(t, "1:02:03", FormatDuration(3723))
	assert.Equal(t, "0:05", FormatDuration(5))
}
