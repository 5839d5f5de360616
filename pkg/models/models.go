package models

import "time"

// Role is an account role in the user directory
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Account is one entry of the shared `users` array. Password only appears
// in snapshots written by older clients and is replaced by PasswordHash the
// next time the list is persisted.
type Account struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Password     string `json:"password,omitempty"`
	Role         Role   `json:"role"`
	JoinedDate   string `json:"joinedDate"`          // YYYY-MM-DD
	LastActivity int64  `json:"lastActivity"`        // epoch ms, 0 = never
	Disabled     bool   `json:"disabled"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"` // epoch ms
}

// IsAdmin reports whether the account has the admin role
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Redacted returns a copy without password material
func (a Account) Redacted() Account {
	a.PasswordHash = ""
	a.Password = ""
	return a
}

// QueueEntry is a requested song waiting in the shared queue
type QueueEntry struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	VideoID     string `json:"videoId"`
	RequestedBy string `json:"requestedBy"`
}

// Valid reports whether the entry carries the fields needed for playback
func (e QueueEntry) Valid() bool {
	return e.Title != "" && e.VideoID != "" && e.RequestedBy != ""
}

// CurrentSong is the single now-playing record
type CurrentSong struct {
	ID          int    `json:"id,omitempty"` // queue entry id it was promoted from
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	VideoID     string `json:"videoId"`
	RequestedBy string `json:"requestedBy"`
	Singer      string `json:"singer"`
	PlayID      string `json:"playId,omitempty"` // unique per promotion
}

// NewCurrentSong promotes a queue entry to the now-playing record
func NewCurrentSong(e QueueEntry) *CurrentSong {
	return &CurrentSong{
		ID:          e.ID,
		Title:       e.Title,
		Artist:      e.Artist,
		VideoID:     e.VideoID,
		RequestedBy: e.RequestedBy,
		Singer:      e.RequestedBy,
	}
}

// ActivityBeacon is the phone liveness heartbeat
type ActivityBeacon struct {
	Timestamp int64 `json:"timestamp"`
}

// ActiveLogin records which session currently owns an account
type ActiveLogin struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Device    string `json:"device,omitempty"`
}

// Command is a remote-control command name
type Command string

const (
	CmdTogglePlay Command = "togglePlay"
	CmdSkip       Command = "skip"
	CmdRestart    Command = "restart"
	CmdToggleMute Command = "toggleMute"
	CmdSetVolume  Command = "setVolume"
)

// Known reports whether c is one of the supported commands
func (c Command) Known() bool {
	switch c {
	case CmdTogglePlay, CmdSkip, CmdRestart, CmdToggleMute, CmdSetVolume:
		return true
	}
	return false
}

// ControlCommand is the last-write-wins remote control slot
type ControlCommand struct {
	Command  Command `json:"command"`
	Volume   *int    `json:"volume,omitempty"`
	IssuedAt int64   `json:"issuedAt,omitempty"`
	Nonce    string  `json:"nonce,omitempty"`
}

// Song is a song book / search result entry
type Song struct {
	VideoID      string `json:"videoId"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Duration     int    `json:"duration"` // seconds
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// PlayRecord is one finished performance
type PlayRecord struct {
	ID       int64     `json:"id"`
	VideoID  string    `json:"videoId"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	Singer   string    `json:"singer"`
	Score    int       `json:"score"`
	PlayedAt time.Time `json:"playedAt"`
}

// RoomState is the snapshot pushed to connected views
type RoomState struct {
	State          string       `json:"state"`
	Current        *CurrentSong `json:"currentSong"`
	Queue          []QueueEntry `json:"queue"`
	TVEnabled      bool         `json:"tvEnabled"`
	PhoneConnected bool         `json:"phoneConnected"`
	Ready          bool         `json:"ready"`
}

// Millis converts t to epoch milliseconds
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
