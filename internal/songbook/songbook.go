// Package songbook keeps the karaoke catalog, each singer's reserved songs
// and the room's play history.
package songbook

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"singalong/internal/scoring"
	"singalong/pkg/models"
)

var ErrSongNotFound = errors.New("song not found")

// DefaultSongs seed an empty catalog so the room works without a search key
var DefaultSongs = []models.Song{
	{VideoID: "fJ9rUzIMt7o", Title: "Bohemian Rhapsody - Karaoke", Artist: "Queen"},
	{VideoID: "YAHxj0k0WL0", Title: "Hallelujah - Karaoke", Artist: "Leonard Cohen"},
	{VideoID: "hHUbLv4ThOk", Title: "Someone Like You - Karaoke", Artist: "Adele"},
	{VideoID: "2takcwFERG0", Title: "Perfect - Karaoke", Artist: "Ed Sheeran"},
	{VideoID: "JGwWNGJdvx8", Title: "Shape of You - Karaoke", Artist: "Ed Sheeran"},
	{VideoID: "rYEDA3JcQqw", Title: "Rolling in the Deep - Karaoke", Artist: "Adele"},
	{VideoID: "DVg2EJvvlF8", Title: "Imagine - Karaoke", Artist: "John Lennon"},
	{VideoID: "6hzrDeceEKc", Title: "Wonderwall - Karaoke", Artist: "Oasis"},
	{VideoID: "1vrEljMfXWc", Title: "Piano Man - Karaoke", Artist: "Billy Joel"},
	{VideoID: "1k8craCGpgs", Title: "Don't Stop Believin' - Karaoke", Artist: "Journey"},
	{VideoID: "F_VJJjcK-5A", Title: "Yesterday - Karaoke", Artist: "The Beatles"},
}

// Catalog is the SQLite-backed song book
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// NewCatalog opens the song book and seeds it on first use
func NewCatalog(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	c := &Catalog{db: db, now: time.Now}
	if err := c.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	if err := c.seed(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS songs (
		video_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT DEFAULT '',
		duration INTEGER DEFAULT 0,
		thumbnail_url TEXT DEFAULT '',
		times_sung INTEGER DEFAULT 0,
		last_sung_by TEXT DEFAULT '',
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS reserved_songs (
		singer TEXT NOT NULL,
		video_id TEXT NOT NULL,
		title TEXT NOT NULL,
		artist TEXT DEFAULT '',
		reserved_at DATETIME NOT NULL,
		PRIMARY KEY (singer, video_id)
	);

	CREATE TABLE IF NOT EXISTS play_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id TEXT NOT NULL,
		title TEXT NOT NULL,
		artist TEXT DEFAULT '',
		singer TEXT DEFAULT '',
		score INTEGER DEFAULT 0,
		played_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		source TEXT NOT NULL,
		results_count INTEGER DEFAULT 0,
		singer TEXT DEFAULT '',
		ip_address TEXT DEFAULT '',
		searched_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_songs_title ON songs(title);
	CREATE INDEX IF NOT EXISTS idx_songs_artist ON songs(artist);
	CREATE INDEX IF NOT EXISTS idx_history_singer ON play_history(singer);
	CREATE INDEX IF NOT EXISTS idx_search_logs_query ON search_logs(query);
	`
	_, err := c.db.Exec(schema)
	return err
}

func (c *Catalog) seed() error {
	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM songs").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, s := range DefaultSongs {
		if err := c.Upsert(s); err != nil {
			return err
		}
	}
	return nil
}

// Upsert adds a song or refreshes its metadata
func (c *Catalog) Upsert(song models.Song) error {
	_, err := c.db.Exec(`
		INSERT INTO songs (video_id, title, artist, duration, thumbnail_url)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			duration = CASE WHEN excluded.duration > 0 THEN excluded.duration ELSE songs.duration END,
			thumbnail_url = CASE WHEN excluded.thumbnail_url != '' THEN excluded.thumbnail_url ELSE songs.thumbnail_url END
	`, song.VideoID, song.Title, song.Artist, song.Duration, song.ThumbnailURL)
	return err
}

const songColumns = "video_id, title, artist, duration, thumbnail_url"

func scanSongs(rows *sql.Rows) ([]models.Song, error) {
	defer rows.Close()
	songs := []models.Song{}
	for rows.Next() {
		var s models.Song
		if err := rows.Scan(&s.VideoID, &s.Title, &s.Artist, &s.Duration, &s.ThumbnailURL); err != nil {
			return nil, err
		}
		songs = append(songs, s)
	}
	return songs, rows.Err()
}

// Search matches query against titles and artists. An empty query lists the
// whole book.
func (c *Catalog) Search(query string, limit int) ([]models.Song, error) {
	if limit <= 0 {
		limit = 50
	}
	term := "%" + strings.TrimSpace(query) + "%"
	rows, err := c.db.Query(`
		SELECT `+songColumns+`
		FROM songs
		WHERE title LIKE ? OR artist LIKE ?
		ORDER BY times_sung DESC, title ASC
		LIMIT ?
	`, term, term, limit)
	if err != nil {
		return nil, err
	}
	return scanSongs(rows)
}

// Get returns a song by video id
func (c *Catalog) Get(videoID string) (models.Song, error) {
	var s models.Song
	err := c.db.QueryRow(`SELECT `+songColumns+` FROM songs WHERE video_id = ?`, videoID).
		Scan(&s.VideoID, &s.Title, &s.Artist, &s.Duration, &s.ThumbnailURL)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrSongNotFound
	}
	return s, err
}

// Popular returns the most sung songs
func (c *Catalog) Popular(limit int) ([]models.Song, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.Query(`
		SELECT `+songColumns+`
		FROM songs
		WHERE times_sung > 0
		ORDER BY times_sung DESC, title ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	return scanSongs(rows)
}

// Reserve saves a song to a singer's list for later
func (c *Catalog) Reserve(singer string, song models.Song) error {
	_, err := c.db.Exec(`
		INSERT INTO reserved_songs (singer, video_id, title, artist, reserved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(singer, video_id) DO NOTHING
	`, singer, song.VideoID, song.Title, song.Artist, c.now().UTC())
	return err
}

// Reserved returns a singer's saved songs, oldest first
func (c *Catalog) Reserved(singer string) ([]models.Song, error) {
	rows, err := c.db.Query(`
		SELECT r.video_id, r.title, r.artist, COALESCE(s.duration, 0), COALESCE(s.thumbnail_url, '')
		FROM reserved_songs r
		LEFT JOIN songs s ON s.video_id = r.video_id
		WHERE r.singer = ?
		ORDER BY r.reserved_at ASC, r.rowid ASC
	`, singer)
	if err != nil {
		return nil, err
	}
	return scanSongs(rows)
}

// Unreserve drops a song from a singer's list
func (c *Catalog) Unreserve(singer, videoID string) error {
	res, err := c.db.Exec(`DELETE FROM reserved_songs WHERE singer = ? AND video_id = ?`, singer, videoID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSongNotFound
	}
	return nil
}

// RecordPlay stores a finished performance and bumps the song's play count
func (c *Catalog) RecordPlay(result scoring.Result) error {
	artist := ""
	if song, err := c.Get(result.VideoID); err == nil {
		artist = song.Artist
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO play_history (video_id, title, artist, singer, score, played_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, result.VideoID, result.Title, artist, result.Singer, result.Score, c.now().UTC()); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE songs SET times_sung = times_sung + 1, last_sung_by = ? WHERE video_id = ?
	`, result.Singer, result.VideoID); err != nil {
		return err
	}
	return tx.Commit()
}

// History returns recent performances, newest first. An empty singer
// returns the whole room's history.
func (c *Catalog) History(singer string, limit int) ([]models.PlayRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.Query(`
		SELECT id, video_id, title, artist, singer, score, played_at
		FROM play_history
		WHERE ? = '' OR singer = ?
		ORDER BY played_at DESC, id DESC
		LIMIT ?
	`, singer, singer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []models.PlayRecord{}
	for rows.Next() {
		var h models.PlayRecord
		if err := rows.Scan(&h.ID, &h.VideoID, &h.Title, &h.Artist, &h.Singer, &h.Score, &h.PlayedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// LogSearch records a search and how many results it found
func (c *Catalog) LogSearch(query, source string, resultsCount int, singer, ipAddress string) error {
	_, err := c.db.Exec(`
		INSERT INTO search_logs (query, source, results_count, singer, ip_address)
		VALUES (?, ?, ?, ?, ?)
	`, query, source, resultsCount, singer, ipAddress)
	return err
}

// SearchLog represents a logged search
type SearchLog struct {
	ID           int64  `json:"id"`
	Query        string `json:"query"`
	Source       string `json:"source"`
	ResultsCount int    `json:"results_count"`
	Singer       string `json:"singer"`
	IPAddress    string `json:"ip_address"`
	SearchedAt   string `json:"searched_at"`
}

// SearchLogs returns recent searches, optionally for one source
func (c *Catalog) SearchLogs(limit int, source string) ([]SearchLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.Query(`
		SELECT id, query, source, results_count, singer, ip_address, searched_at
		FROM search_logs
		WHERE ? = '' OR source = ?
		ORDER BY searched_at DESC, id DESC
		LIMIT ?
	`, source, source, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []SearchLog{}
	for rows.Next() {
		var l SearchLog
		if err := rows.Scan(&l.ID, &l.Query, &l.Source, &l.ResultsCount, &l.Singer, &l.IPAddress, &l.SearchedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Stats returns catalog totals
func (c *Catalog) Stats() (totalSongs, totalPlays int, err error) {
	err = c.db.QueryRow("SELECT COUNT(*) FROM songs").Scan(&totalSongs)
	if err != nil {
		return
	}
	err = c.db.QueryRow("SELECT COUNT(*) FROM play_history").Scan(&totalPlays)
	return
}

// Close closes the database connection
func (c *Catalog) Close() error {
	return c.db.Close()
}
