package songbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"singalong/pkg/models"
)

const (
	SourceYouTube = "youtube"
	SourceCatalog = "catalog"

	youTubeAPI         = "https://www.googleapis.com/youtube/v3"
	searchMaxResults   = 15
	karaokeQuerySuffix = " karaoke"
)

var ErrEmptyQuery = errors.New("search query cannot be empty")

// searchResponse is the subset of the YouTube Data API search response we use
type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// YouTube searches karaoke videos, falling back to the catalog when the API
// is not configured or fails.
type YouTube struct {
	apiKey  string
	baseURL string
	client  *http.Client
	catalog *Catalog
}

// NewYouTube creates a search client. apiKey may be empty.
func NewYouTube(apiKey string, catalog *Catalog) *YouTube {
	return &YouTube{
		apiKey:  apiKey,
		baseURL: youTubeAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
		catalog: catalog,
	}
}

// Search returns matching songs and where they came from
func (y *YouTube) Search(ctx context.Context, query string) ([]models.Song, string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, "", ErrEmptyQuery
	}

	if y.apiKey != "" {
		songs, err := y.searchAPI(ctx, query)
		if err == nil {
			return songs, SourceYouTube, nil
		}
		log.Printf("[SONGBOOK] YouTube search for %q failed, using catalog: %v", query, err)
	}

	if y.catalog == nil {
		return []models.Song{}, SourceCatalog, nil
	}
	songs, err := y.catalog.Search(query, searchMaxResults)
	return songs, SourceCatalog, err
}

func (y *YouTube) get(ctx context.Context, endpoint string, params url.Values, v any) error {
	params.Set("key", y.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch resp.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("quota exceeded or invalid key: %s", body)
		case http.StatusBadRequest:
			return fmt.Errorf("invalid search parameters: %s", body)
		default:
			return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, body)
		}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (y *YouTube) searchAPI(ctx context.Context, query string) ([]models.Song, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("q", query+karaokeQuerySuffix)
	params.Set("maxResults", strconv.Itoa(searchMaxResults))
	params.Set("safeSearch", "strict")
	params.Set("videoEmbeddable", "true")

	var found searchResponse
	if err := y.get(ctx, "/search", params, &found); err != nil {
		return nil, err
	}

	songs := []models.Song{}
	var ids []string
	for _, item := range found.Items {
		if item.ID.VideoID == "" {
			continue
		}
		thumb := item.Snippet.Thumbnails.Medium.URL
		if thumb == "" {
			thumb = item.Snippet.Thumbnails.Default.URL
		}
		songs = append(songs, models.Song{
			VideoID:      item.ID.VideoID,
			Title:        item.Snippet.Title,
			Artist:       item.Snippet.ChannelTitle,
			ThumbnailURL: thumb,
		})
		ids = append(ids, item.ID.VideoID)
	}

	if len(ids) > 0 {
		durations, err := y.durations(ctx, ids)
		if err != nil {
			log.Printf("[SONGBOOK] Failed to fetch durations: %v", err)
		}
		for i := range songs {
			songs[i].Duration = durations[songs[i].VideoID]
		}
	}
	return songs, nil
}

func (y *YouTube) durations(ctx context.Context, ids []string) (map[string]int, error) {
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("id", strings.Join(ids, ","))

	var details videosResponse
	out := make(map[string]int, len(ids))
	if err := y.get(ctx, "/videos", params, &details); err != nil {
		return out, err
	}
	for _, item := range details.Items {
		out[item.ID] = ParseDuration(item.ContentDetails.Duration)
	}
	return out, nil
}

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseDuration converts an ISO 8601 duration such as PT4M30S to seconds.
// Unparseable values yield 0.
func ParseDuration(iso string) int {
	m := isoDuration.FindStringSubmatch(iso)
	if m == nil {
		return 0
	}
	part := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	return part(m[1])*3600 + part(m[2])*60 + part(m[3])
}

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/shorts/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`^([a-zA-Z0-9_-]{11})$`),
}

// ExtractVideoID returns the 11-character id from a YouTube URL or a bare id
func ExtractVideoID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// FormatDuration renders seconds as m:ss or h:mm:ss
func FormatDuration(seconds int) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
