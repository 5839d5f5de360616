package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"singalong/internal/scoring"
	"singalong/internal/store"
	"singalong/pkg/models"
)

// State is the now-playing state of the engine
type State string

const (
	Idle    State = "idle"
	Loading State = "loading"
	Playing State = "playing"
	Ended   State = "ended"
)

// Player error codes meaning the video may not be embedded
const (
	ErrCodeEmbedNotAllowed     = 101
	ErrCodeEmbedNotAllowedAlso = 150
)

var (
	ErrInvalidEntry  = errors.New("queue entry needs title, videoId and requestedBy")
	ErrUnauthorized  = errors.New("admin password required")
	ErrEntryNotFound = errors.New("queue entry not found")
)

// Player is the playback widget driven by the engine
type Player interface {
	Load(videoID string) error
	Play() error
	Stop() error
}

// PasswordChecker validates the admin password for clearing the queue
type PasswordChecker interface {
	CheckAdminPassword(password string) bool
}

// History records finished performances
type History interface {
	RecordPlay(result scoring.Result) error
}

// NoticeKind identifies a transient notice for the TV and phones
type NoticeKind string

const (
	NoticeUnavailable NoticeKind = "video_unavailable"
	NoticeCleared     NoticeKind = "queue_cleared"
)

// Notice is a transient, user-visible message
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Title   string     `json:"title,omitempty"`
}

// Events are fired after the engine state changed; never under the lock
type Events struct {
	OnSynced func()
	OnChange func(snapshot Snapshot)
	OnScore  func(result scoring.Result)
	OnNotice func(notice Notice)
}

// Config tunes the engine timings
type Config struct {
	ScoringEnabled    bool
	ScoreDisplay      time.Duration
	UnavailableNotice time.Duration
	RetryDelay        time.Duration
}

// DefaultConfig shows scores and notices for 3s and retries queue writes after 1s
func DefaultConfig() Config {
	return Config{
		ScoringEnabled:    true,
		ScoreDisplay:      3 * time.Second,
		UnavailableNotice: 3 * time.Second,
		RetryDelay:        time.Second,
	}
}

// Snapshot is a copy of the engine state
type Snapshot struct {
	State     State               `json:"state"`
	Current   *models.CurrentSong `json:"currentSong"`
	Queue     []models.QueueEntry `json:"queue"`
	Suspended bool                `json:"suspended"`
}

const (
	retiredPlays = 32
	ownWrites    = 16
)

// echoFilter tells a path's own writes coming back through the store apart
// from changes made elsewhere. Guarded by Engine.mu.
type echoFilter struct {
	dirty bool     // changed locally, not yet handed to the store
	sent  [][]byte // values written, oldest first
}

func (f *echoFilter) mark() {
	f.dirty = true
}

func (f *echoFilter) sending(value []byte) {
	f.dirty = false
	f.sent = append(f.sent, value)
	if len(f.sent) > ownWrites {
		f.sent = f.sent[len(f.sent)-ownWrites:]
	}
}

// stale reports whether a pushed value must be ignored: either a local
// change is still unwritten and will overwrite it, or it is one of our
// own older writes read back after a newer one was issued.
func (f *echoFilter) stale(value []byte) bool {
	if f.dirty {
		return true
	}
	n := len(f.sent)
	if n == 0 {
		return false
	}
	if bytes.Equal(value, f.sent[n-1]) {
		f.sent = f.sent[n-1:]
		return false
	}
	return slices.ContainsFunc(f.sent[:n-1], func(v []byte) bool { return bytes.Equal(v, value) })
}

// Engine owns the song queue and the current-song pointer for one TV. All
// mutation goes through its methods; store writes and player commands are
// issued after the lock is released.
type Engine struct {
	store   store.Store
	player  Player
	admins  PasswordChecker
	history History
	tracker *scoring.Tracker
	cfg     Config
	events  Events

	mu        sync.Mutex
	state     State
	queue     []models.QueueEntry
	current   *models.CurrentSong
	loadedID  string // videoId last handed to the player
	loadSeq   uint64
	endedSeq  uint64
	suspended bool
	synced    bool
	retired   []string // playIds already finished, newest last

	queueEcho   echoFilter
	currentEcho echoFilter

	// persistMu orders store writes; each write re-reads the state under mu
	persistMu sync.Mutex
}

// NewEngine creates an idle engine. player and history may be nil.
func NewEngine(s store.Store, player Player, admins PasswordChecker, cfg Config) *Engine {
	return &Engine{
		store:   s,
		player:  player,
		admins:  admins,
		tracker: scoring.NewTracker(),
		cfg:     cfg,
		state:   Idle,
	}
}

// SetEvents sets the event callbacks
func (e *Engine) SetEvents(events Events) {
	e.events = events
}

// SetHistory sets where finished performances are recorded
func (e *Engine) SetHistory(h History) {
	e.history = h
}

// Tracker exposes the scoring tracker so the player can report durations
func (e *Engine) Tracker() *scoring.Tracker {
	return e.tracker
}

// effects collects the side effects of one transition
type effects struct {
	writeQueue   bool
	writeCurrent bool

	stop bool
	load string
	play bool

	score   *scoring.Result
	notice  *Notice
	changed bool

	advance      bool
	advanceSeq   uint64
	advanceAfter time.Duration
}

// Sync reads the stored current song and queue, in that order, so a
// restarted TV resumes the song it was showing instead of promoting the head.
func (e *Engine) Sync(ctx context.Context) error {
	var current models.CurrentSong
	found, err := store.ReadJSON(ctx, e.store, store.PathCurrentSong, &current)
	if err != nil {
		return fmt.Errorf("failed to read current song: %w", err)
	}
	if found {
		e.ApplyCurrent(ctx, &current)
	}

	var entries []models.QueueEntry
	if _, err := store.ReadJSON(ctx, e.store, store.PathQueue, &entries); err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	e.mu.Lock()
	e.synced = true
	e.mu.Unlock()

	e.ApplyQueue(ctx, entries)
	return nil
}

// Ready reports whether the initial sync has completed
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synced
}

// Run syncs once, fires OnSynced and then follows pushed changes of both
// paths until ctx is done.
func (e *Engine) Run(ctx context.Context, staleAfter time.Duration) error {
	if err := e.Sync(ctx); err != nil {
		log.Printf("[QUEUE] Initial sync failed, starting empty: %v", err)
		e.mu.Lock()
		e.synced = true
		e.mu.Unlock()
	}
	if e.events.OnSynced != nil {
		e.events.OnSynced()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.Watch(ctx, e.store, store.PathCurrentSong, staleAfter, func(value []byte) {
			if value == nil {
				e.applyCurrent(ctx, nil, value, true)
				return
			}
			var current models.CurrentSong
			if err := json.Unmarshal(value, &current); err != nil {
				log.Printf("[QUEUE] Ignoring malformed current song: %v", err)
				return
			}
			e.applyCurrent(ctx, &current, value, true)
		})
	})
	g.Go(func() error {
		return store.Watch(ctx, e.store, store.PathQueue, staleAfter, func(value []byte) {
			var entries []models.QueueEntry
			if value != nil {
				if err := json.Unmarshal(value, &entries); err != nil {
					log.Printf("[QUEUE] Ignoring malformed queue: %v", err)
					return
				}
			}
			e.applyQueue(ctx, entries, value, true)
		})
	})
	return g.Wait()
}

// Request appends a singer's entry and returns it with its assigned id
func (e *Engine) Request(ctx context.Context, entry models.QueueEntry) (models.QueueEntry, error) {
	if !entry.Valid() {
		return models.QueueEntry{}, ErrInvalidEntry
	}

	var fx effects
	e.mu.Lock()
	entry.ID = e.nextIDLocked()
	e.queue = append(e.queue, entry)
	fx.writeQueue = true
	fx.changed = true
	e.promoteLocked(&fx)
	e.captureLocked(&fx)
	e.mu.Unlock()

	log.Printf("[QUEUE] %s requested %q (%s)", entry.RequestedBy, entry.Title, entry.VideoID)
	e.apply(ctx, fx)
	return entry, nil
}

// nextIDLocked returns max(queue ids, current id)+1
func (e *Engine) nextIDLocked() int {
	highest := 0
	if e.current != nil {
		highest = e.current.ID
	}
	for _, q := range e.queue {
		if q.ID > highest {
			highest = q.ID
		}
	}
	return highest + 1
}

// ApplyQueue adopts a queue snapshot pushed by the store
func (e *Engine) ApplyQueue(ctx context.Context, entries []models.QueueEntry) {
	e.applyQueue(ctx, entries, nil, false)
}

func (e *Engine) applyQueue(ctx context.Context, entries []models.QueueEntry, raw []byte, pushed bool) {
	var fx effects
	e.mu.Lock()
	if pushed && e.queueEcho.stale(raw) {
		e.mu.Unlock()
		return
	}
	valid := lo.Filter(entries, func(q models.QueueEntry, _ int) bool {
		if !q.Valid() {
			return false
		}
		// The promoted entry echoing back from a queue write still in flight
		return e.current == nil || q.ID == 0 || q.ID != e.current.ID || q.VideoID != e.current.VideoID
	})
	if !sameEntries(e.queue, valid) {
		e.queue = valid
		fx.changed = true
	}
	e.promoteLocked(&fx)
	e.captureLocked(&fx)
	e.mu.Unlock()

	e.apply(ctx, fx)
}

// ApplyCurrent adopts a current-song value pushed by the store. A value
// carrying the videoId already handed to the player is a no-op.
func (e *Engine) ApplyCurrent(ctx context.Context, current *models.CurrentSong) {
	e.applyCurrent(ctx, current, nil, false)
}

func (e *Engine) applyCurrent(ctx context.Context, current *models.CurrentSong, raw []byte, pushed bool) {
	var fx effects
	e.mu.Lock()
	if pushed && e.currentEcho.stale(raw) {
		e.mu.Unlock()
		return
	}
	switch {
	case current == nil:
		if e.current != nil {
			log.Printf("[QUEUE] Current song cleared elsewhere")
			e.retireLocked()
			e.current = nil
			e.loadedID = ""
			e.state = Idle
			fx.stop = true
			fx.changed = true
			e.promoteLocked(&fx)
		}
	case current.VideoID == "" || current.VideoID == e.loadedID:
	case current.PlayID != "" && lo.Contains(e.retired, current.PlayID):
		// Late notification for a song that already finished here
	default:
		c := *current
		e.current = &c
		fx.changed = true
		if !e.suspended {
			e.startLoadLocked(&fx)
		}
	}
	e.captureLocked(&fx)
	e.mu.Unlock()

	e.apply(ctx, fx)
}

// promoteLocked moves the queue head to the current slot when the engine
// is idle and the slot is empty.
func (e *Engine) promoteLocked(fx *effects) {
	if e.suspended || !e.synced || e.state != Idle || e.current != nil || len(e.queue) == 0 {
		return
	}
	head := e.queue[0]
	e.queue = append([]models.QueueEntry(nil), e.queue[1:]...)
	e.current = models.NewCurrentSong(head)
	e.current.PlayID = uuid.NewString()
	fx.writeQueue = true
	fx.writeCurrent = true
	fx.changed = true
	e.startLoadLocked(fx)
}

func (e *Engine) startLoadLocked(fx *effects) {
	e.loadSeq++
	e.loadedID = e.current.VideoID
	e.state = Loading
	e.tracker.Begin(e.current.Singer, e.current.Title, e.current.VideoID)
	fx.load = e.current.VideoID
	fx.changed = true
}

func (e *Engine) retireLocked() {
	if e.current == nil || e.current.PlayID == "" {
		return
	}
	e.retired = append(e.retired, e.current.PlayID)
	if len(e.retired) > retiredPlays {
		e.retired = e.retired[len(e.retired)-retiredPlays:]
	}
}

// advanceLocked drops the current song and promotes the next entry, or
// clears the slot when the queue is empty.
func (e *Engine) advanceLocked(fx *effects) {
	e.retireLocked()
	e.current = nil
	e.loadedID = ""
	e.state = Idle
	fx.writeQueue = true
	fx.writeCurrent = true
	fx.changed = true
	e.promoteLocked(fx)
	if e.current == nil {
		fx.stop = true
	}
}

// captureLocked flags the paths this transition left unwritten
func (e *Engine) captureLocked(fx *effects) {
	if fx.writeQueue {
		e.queueEcho.mark()
	}
	if fx.writeCurrent {
		e.currentEcho.mark()
	}
}

// PlayerReady handles the widget's ready signal
func (e *Engine) PlayerReady() {
	var fx effects
	e.mu.Lock()
	if e.state == Loading {
		e.state = Playing
		e.tracker.Started()
		fx.play = true
		fx.changed = true
	}
	e.mu.Unlock()

	e.apply(context.Background(), fx)
}

// PlayerEnded handles the widget's end-of-playback signal. It is acted on
// at most once per loaded song.
func (e *Engine) PlayerEnded() {
	var fx effects
	e.mu.Lock()
	if e.state != Playing || e.endedSeq == e.loadSeq {
		e.mu.Unlock()
		return
	}
	e.state = Ended
	e.endedSeq = e.loadSeq
	fx.changed = true
	fx.advance = true
	fx.advanceSeq = e.loadSeq
	if e.cfg.ScoringEnabled {
		result := e.tracker.Finish()
		fx.score = &result
		fx.advanceAfter = e.cfg.ScoreDisplay
	}
	e.mu.Unlock()

	e.apply(context.Background(), fx)
}

// PlayerError handles a widget error. Embedding restrictions end the song
// without scoring after a short notice; anything else is only logged.
func (e *Engine) PlayerError(code int) {
	if code != ErrCodeEmbedNotAllowed && code != ErrCodeEmbedNotAllowedAlso {
		log.Printf("[QUEUE] Player error %d ignored", code)
		return
	}

	var fx effects
	e.mu.Lock()
	if (e.state != Loading && e.state != Playing) || e.endedSeq == e.loadSeq {
		e.mu.Unlock()
		return
	}
	title := ""
	if e.current != nil {
		title = e.current.Title
	}
	e.state = Ended
	e.endedSeq = e.loadSeq
	fx.changed = true
	fx.notice = &Notice{
		Kind:    NoticeUnavailable,
		Message: "Video unavailable, skipping to the next song",
		Title:   title,
	}
	fx.advance = true
	fx.advanceSeq = e.loadSeq
	fx.advanceAfter = e.cfg.UnavailableNotice
	e.mu.Unlock()

	log.Printf("[QUEUE] %q cannot be embedded (code %d)", title, code)
	e.apply(context.Background(), fx)
}

// advanceIfStill advances only if no other transition happened since seq ended
func (e *Engine) advanceIfStill(ctx context.Context, seq uint64) {
	var fx effects
	e.mu.Lock()
	if e.state != Ended || e.loadSeq != seq {
		e.mu.Unlock()
		return
	}
	e.advanceLocked(&fx)
	e.captureLocked(&fx)
	e.mu.Unlock()

	e.apply(ctx, fx)
}

// MarkSinging records that someone is singing the current song
func (e *Engine) MarkSinging() {
	e.tracker.MarkSinging()
}

// Skip ends the current song without scoring and advances
func (e *Engine) Skip(ctx context.Context) {
	var fx effects
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		return
	}
	log.Printf("[QUEUE] Skipping %q", e.current.Title)
	e.advanceLocked(&fx)
	e.captureLocked(&fx)
	e.mu.Unlock()

	e.apply(ctx, fx)
}

// Remove deletes a queue entry by id. Removing the current song skips it.
func (e *Engine) Remove(ctx context.Context, id int) error {
	e.mu.Lock()
	if e.current != nil && e.current.ID != 0 && e.current.ID == id {
		e.mu.Unlock()
		e.Skip(ctx)
		return nil
	}

	_, idx, ok := lo.FindIndexOf(e.queue, func(q models.QueueEntry) bool { return q.ID == id })
	if !ok {
		e.mu.Unlock()
		return ErrEntryNotFound
	}
	e.queue = append(e.queue[:idx:idx], e.queue[idx+1:]...)
	fx := effects{writeQueue: true, changed: true}
	e.captureLocked(&fx)
	e.mu.Unlock()

	e.apply(ctx, fx)
	return nil
}

// Clear empties the queue and the current song when password belongs to
// any admin account.
func (e *Engine) Clear(ctx context.Context, password string) error {
	if e.admins == nil || !e.admins.CheckAdminPassword(password) {
		return ErrUnauthorized
	}

	var fx effects
	e.mu.Lock()
	e.retireLocked()
	e.queue = nil
	e.current = nil
	e.loadedID = ""
	e.state = Idle
	fx.writeQueue = true
	fx.writeCurrent = true
	fx.stop = true
	fx.changed = true
	fx.notice = &Notice{Kind: NoticeCleared, Message: "Queue cleared"}
	e.captureLocked(&fx)
	e.mu.Unlock()

	log.Printf("[QUEUE] Queue cleared by admin")
	e.apply(ctx, fx)
	return nil
}

// Suspend stops playback and holds the queue while the TV is disabled
func (e *Engine) Suspend() {
	var fx effects
	e.mu.Lock()
	if e.suspended {
		e.mu.Unlock()
		return
	}
	e.suspended = true
	e.loadedID = ""
	e.state = Idle
	fx.stop = true
	fx.changed = true
	e.mu.Unlock()

	e.apply(context.Background(), fx)
}

// Resume reloads the current song, or promotes the head, after Suspend
func (e *Engine) Resume(ctx context.Context) {
	var fx effects
	e.mu.Lock()
	if !e.suspended {
		e.mu.Unlock()
		return
	}
	e.suspended = false
	fx.changed = true
	if e.current != nil {
		e.startLoadLocked(&fx)
	} else {
		e.promoteLocked(&fx)
	}
	e.captureLocked(&fx)
	e.mu.Unlock()

	e.apply(ctx, fx)
}

// Snapshot returns a copy of the current state
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		State:     e.state,
		Queue:     append([]models.QueueEntry{}, e.queue...),
		Suspended: e.suspended,
	}
	if e.current != nil {
		c := *e.current
		snap.Current = &c
	}
	return snap
}

func (e *Engine) apply(ctx context.Context, fx effects) {
	if fx.writeCurrent || fx.writeQueue {
		e.persist(ctx, fx.writeCurrent, fx.writeQueue, true)
	}

	if e.player != nil {
		if fx.stop {
			if err := e.player.Stop(); err != nil {
				log.Printf("[QUEUE] Player stop failed: %v", err)
			}
		}
		if fx.load != "" {
			if err := e.player.Load(fx.load); err != nil {
				log.Printf("[QUEUE] Player load of %s failed: %v", fx.load, err)
			}
		}
		if fx.play {
			if err := e.player.Play(); err != nil {
				log.Printf("[QUEUE] Player play failed: %v", err)
			}
		}
	}

	if fx.score != nil {
		if e.history != nil {
			if err := e.history.RecordPlay(*fx.score); err != nil {
				log.Printf("[QUEUE] Failed to record play: %v", err)
			}
		}
		if e.events.OnScore != nil {
			e.events.OnScore(*fx.score)
		}
	}
	if fx.notice != nil && e.events.OnNotice != nil {
		e.events.OnNotice(*fx.notice)
	}
	if fx.changed && e.events.OnChange != nil {
		e.events.OnChange(e.Snapshot())
	}

	if fx.advance {
		if fx.advanceAfter <= 0 {
			e.advanceIfStill(ctx, fx.advanceSeq)
		} else {
			seq := fx.advanceSeq
			time.AfterFunc(fx.advanceAfter, func() {
				e.advanceIfStill(context.Background(), seq)
			})
		}
	}
}

// persist writes the latest current song and queue, in that order. Writes
// are serialized and always carry the state at write time, so an older
// snapshot never lands after a newer one. A path another call already
// wrote is skipped.
func (e *Engine) persist(ctx context.Context, writeCurrent, writeQueue, retry bool) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	var current, entries []byte
	var err error
	e.mu.Lock()
	writeCurrent = writeCurrent && e.currentEcho.dirty
	writeQueue = writeQueue && e.queueEcho.dirty
	if writeCurrent {
		if e.current != nil {
			current, err = json.Marshal(e.current)
		}
		e.currentEcho.sending(current)
	}
	if writeQueue && err == nil && len(e.queue) > 0 {
		entries, err = json.Marshal(e.queue)
	}
	if writeQueue {
		e.queueEcho.sending(entries)
	}
	e.mu.Unlock()
	if err != nil {
		log.Printf("[QUEUE] Failed to encode state: %v", err)
		return
	}

	if writeCurrent {
		if err := e.writePath(ctx, store.PathCurrentSong, current); err != nil {
			log.Printf("[QUEUE] Failed to persist current song: %v", err)
		}
	}
	if !writeQueue {
		return
	}
	err = e.writePath(ctx, store.PathQueue, entries)
	if err == nil {
		return
	}
	log.Printf("[QUEUE] Failed to persist queue: %v", err)
	if retry && e.cfg.RetryDelay > 0 {
		time.AfterFunc(e.cfg.RetryDelay, func() {
			e.mu.Lock()
			e.queueEcho.mark()
			e.mu.Unlock()
			e.persist(context.Background(), false, true, false)
		})
	}
}

// writePath writes value, or removes the path when value is nil
func (e *Engine) writePath(ctx context.Context, path string, value []byte) error {
	if value == nil {
		return e.store.Remove(ctx, path)
	}
	return e.store.Write(ctx, path, value)
}

func sameEntries(a, b []models.QueueEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
