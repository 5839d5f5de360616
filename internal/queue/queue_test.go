package queue

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"singalong/internal/scoring"
	"singalong/internal/store"
	"singalong/pkg/models"
)

type fakePlayer struct {
	mu    sync.Mutex
	loads []string
	plays int
	stops int
}

func (p *fakePlayer) Load(videoID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, videoID)
	return nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loads)
}

type staticAdmins string

func (s staticAdmins) CheckAdminPassword(password string) bool {
	return password == string(s)
}

type recordingHistory struct {
	results []scoring.Result
}

func (h *recordingHistory) RecordPlay(result scoring.Result) error {
	h.results = append(h.results, result)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakePlayer, *store.Local) {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "queue_test_*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	local, err := store.NewLocal(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	cfg := Config{ScoringEnabled: true}
	player := &fakePlayer{}
	engine := NewEngine(local, player, staticAdmins("letmein"), cfg)
	if err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	return engine, player, local
}

func entry(title, videoID, by string) models.QueueEntry {
	return models.QueueEntry{Title: title, Artist: "Various", VideoID: videoID, RequestedBy: by}
}

func storedQueue(t *testing.T, s store.Store) []models.QueueEntry {
	t.Helper()
	var entries []models.QueueEntry
	if _, err := store.ReadJSON(context.Background(), s, store.PathQueue, &entries); err != nil {
		t.Fatalf("Failed to read queue: %v", err)
	}
	return entries
}

func storedCurrent(t *testing.T, s store.Store) *models.CurrentSong {
	t.Helper()
	var current models.CurrentSong
	found, err := store.ReadJSON(context.Background(), s, store.PathCurrentSong, &current)
	if err != nil {
		t.Fatalf("Failed to read current song: %v", err)
	}
	if !found {
		return nil
	}
	return &current
}

// playThrough drives the player callbacks for the loaded song
func playThrough(e *Engine) {
	e.PlayerReady()
	e.PlayerEnded()
}

// =============================================================================
// Request / Promotion Tests
// =============================================================================

func TestRequestIntoEmptyRoomPromotes(t *testing.T) {
	e, player, st := newTestEngine(t)
	ctx := context.Background()

	got, err := e.Request(ctx, entry("Perfect", "2takcwFERG0", "Alex"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got.ID != 1 {
		t.Errorf("Expected id 1, got %d", got.ID)
	}

	snap := e.Snapshot()
	if snap.Current == nil || snap.Current.VideoID != "2takcwFERG0" {
		t.Fatalf("Expected Perfect to be current, got %+v", snap.Current)
	}
	if snap.Current.Singer != "Alex" {
		t.Errorf("Expected singer Alex, got %q", snap.Current.Singer)
	}
	if len(snap.Queue) != 0 {
		t.Errorf("Expected empty queue, got %d entries", len(snap.Queue))
	}
	if snap.State != Loading {
		t.Errorf("Expected loading, got %s", snap.State)
	}
	if player.loadCount() != 1 {
		t.Errorf("Expected one load, got %d", player.loadCount())
	}

	current := storedCurrent(t, st)
	if current == nil || current.Title != "Perfect" {
		t.Errorf("Expected stored current Perfect, got %+v", current)
	}
	if q := storedQueue(t, st); len(q) != 0 {
		t.Errorf("Expected stored queue removed, got %+v", q)
	}
}

func TestRequestRejectsIncompleteEntry(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Request(context.Background(), models.QueueEntry{Title: "Perfect"})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	a, _ := e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	b, _ := e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))
	c, _ := e.Request(ctx, entry("C", "ccccccccccc", "Kim"))

	if a.ID != 1 || b.ID != 2 || c.ID != 3 {
		t.Errorf("Expected ids 1,2,3, got %d,%d,%d", a.ID, b.ID, c.ID)
	}
}

func TestQueueIsFIFO(t *testing.T) {
	e, _, st := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))
	e.Request(ctx, entry("C", "ccccccccccc", "Kim"))

	var order []string
	for i := 0; i < 3; i++ {
		snap := e.Snapshot()
		if snap.Current == nil {
			t.Fatalf("Expected a current song at step %d", i)
		}
		order = append(order, snap.Current.Title)
		playThrough(e)
	}

	if order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Errorf("Expected A,B,C, got %v", order)
	}
	if e.Snapshot().Current != nil {
		t.Error("Expected no current song after the queue drained")
	}
	if storedCurrent(t, st) != nil {
		t.Error("Expected stored current song removed")
	}
}

func TestEndedAdvancesToNextEntry(t *testing.T) {
	e, _, st := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))
	e.Request(ctx, entry("C", "ccccccccccc", "Kim"))

	playThrough(e)

	snap := e.Snapshot()
	if snap.Current == nil || snap.Current.Title != "B" {
		t.Fatalf("Expected B current, got %+v", snap.Current)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].Title != "C" {
		t.Errorf("Expected [C], got %+v", snap.Queue)
	}
	if q := storedQueue(t, st); len(q) != 1 || q[0].Title != "C" {
		t.Errorf("Expected stored [C], got %+v", q)
	}
}

func TestAtMostOneCurrent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))

	snap := e.Snapshot()
	if snap.Current.Title != "A" {
		t.Errorf("Expected A current, got %s", snap.Current.Title)
	}
	for _, q := range snap.Queue {
		if q.ID == snap.Current.ID {
			t.Errorf("Current entry %d still in queue", q.ID)
		}
	}
}

// =============================================================================
// Store Notification Tests
// =============================================================================

func TestApplyCurrentSameVideoIsIdempotent(t *testing.T) {
	e, player, _ := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("Perfect", "2takcwFERG0", "Alex"))
	current := e.Snapshot().Current

	for i := 0; i < 3; i++ {
		e.ApplyCurrent(ctx, current)
	}
	if player.loadCount() != 1 {
		t.Errorf("Expected 1 load for 1 distinct video, got %d", player.loadCount())
	}
}

func TestApplyCurrentFromElsewhereLoads(t *testing.T) {
	e, player, _ := newTestEngine(t)
	ctx := context.Background()

	e.ApplyCurrent(ctx, &models.CurrentSong{Title: "Hello", VideoID: "YQHsXMglC9A", Singer: "Sam"})

	if player.loadCount() != 1 || player.loads[0] != "YQHsXMglC9A" {
		t.Errorf("Expected load of YQHsXMglC9A, got %v", player.loads)
	}
	if e.Snapshot().State != Loading {
		t.Errorf("Expected loading, got %s", e.Snapshot().State)
	}
}

func TestApplyCurrentIgnoresRetiredPlay(t *testing.T) {
	e, player, _ := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	stale := e.Snapshot().Current
	playThrough(e)

	e.ApplyCurrent(ctx, stale)

	if e.Snapshot().Current != nil {
		t.Errorf("Expected late notification ignored, got %+v", e.Snapshot().Current)
	}
	if player.loadCount() != 1 {
		t.Errorf("Expected 1 load, got %d", player.loadCount())
	}
}

func TestApplyCurrentNilClearsAndPromotes(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))

	e.ApplyCurrent(ctx, nil)

	snap := e.Snapshot()
	if snap.Current == nil || snap.Current.Title != "B" {
		t.Errorf("Expected B promoted after external clear, got %+v", snap.Current)
	}
}

func TestApplyQueuePromotesWhenIdle(t *testing.T) {
	e, player, _ := newTestEngine(t)
	ctx := context.Background()

	e.ApplyQueue(ctx, []models.QueueEntry{
		{ID: 4, Title: "Perfect", VideoID: "2takcwFERG0", RequestedBy: "Alex"},
		{ID: 5, Title: "Broken"},
	})

	snap := e.Snapshot()
	if snap.Current == nil || snap.Current.ID != 4 {
		t.Fatalf("Expected entry 4 promoted, got %+v", snap.Current)
	}
	if len(snap.Queue) != 0 {
		t.Errorf("Expected invalid entry dropped, got %+v", snap.Queue)
	}
	if player.loadCount() != 1 {
		t.Errorf("Expected 1 load, got %d", player.loadCount())
	}
}

func TestApplyQueueDropsEchoOfCurrent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, _ := e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	second, _ := e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))

	// Pre-promotion snapshot arriving late
	e.ApplyQueue(ctx, []models.QueueEntry{first, second})

	snap := e.Snapshot()
	if len(snap.Queue) != 1 || snap.Queue[0].ID != second.ID {
		t.Errorf("Expected only B queued, got %+v", snap.Queue)
	}
}

// =============================================================================
// Scoring / Player Error Tests
// =============================================================================

func TestEndedRecordsScore(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	history := &recordingHistory{}
	e.SetHistory(history)

	var scored []scoring.Result
	e.SetEvents(Events{OnScore: func(r scoring.Result) { scored = append(scored, r) }})

	e.Request(ctx, entry("Perfect", "2takcwFERG0", "Alex"))
	e.PlayerReady()
	e.Tracker().SetDuration(263e9)
	e.MarkSinging()
	e.PlayerEnded()
	e.PlayerEnded()

	if len(scored) != 1 {
		t.Fatalf("Expected exactly one score, got %d", len(scored))
	}
	if scored[0].Score != scoring.MaxScore || scored[0].Singer != "Alex" {
		t.Errorf("Expected Alex with %d, got %+v", scoring.MaxScore, scored[0])
	}
	if len(history.results) != 1 {
		t.Errorf("Expected 1 history record, got %d", len(history.results))
	}
}

func TestEndedWithoutPlayingIsIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.PlayerEnded()

	if e.Snapshot().Current == nil {
		t.Error("Expected ended before ready to be ignored")
	}
}

func TestEmbedBlockedSkipsWithoutScore(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	var notices []Notice
	scored := 0
	e.SetEvents(Events{
		OnNotice: func(n Notice) { notices = append(notices, n) },
		OnScore:  func(scoring.Result) { scored++ },
	})

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))
	e.PlayerError(ErrCodeEmbedNotAllowedAlso)

	if scored != 0 {
		t.Errorf("Expected no score, got %d", scored)
	}
	if len(notices) != 1 || notices[0].Kind != NoticeUnavailable {
		t.Errorf("Expected one unavailable notice, got %+v", notices)
	}
	if c := e.Snapshot().Current; c == nil || c.Title != "B" {
		t.Errorf("Expected B current, got %+v", c)
	}
}

func TestOtherPlayerErrorsAreIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.PlayerError(5)

	if c := e.Snapshot().Current; c == nil || c.Title != "A" {
		t.Errorf("Expected A still current, got %+v", c)
	}
}

// =============================================================================
// Skip / Remove / Clear Tests
// =============================================================================

func TestSkipAdvancesWithoutScore(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	scored := 0
	e.SetEvents(Events{OnScore: func(scoring.Result) { scored++ }})

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))
	e.PlayerReady()
	e.Skip(ctx)

	if c := e.Snapshot().Current; c == nil || c.Title != "B" {
		t.Errorf("Expected B current, got %+v", c)
	}
	if scored != 0 {
		t.Errorf("Expected no score on skip, got %d", scored)
	}
}

func TestSkipLastSongStopsPlayer(t *testing.T) {
	e, player, st := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Skip(ctx)

	if e.Snapshot().Current != nil {
		t.Error("Expected no current song")
	}
	if player.stops == 0 {
		t.Error("Expected player stopped")
	}
	if storedCurrent(t, st) != nil {
		t.Error("Expected stored current song removed")
	}
}

func TestRemoveQueuedEntry(t *testing.T) {
	e, _, st := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	b, _ := e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))
	e.Request(ctx, entry("C", "ccccccccccc", "Kim"))

	if err := e.Remove(ctx, b.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	q := storedQueue(t, st)
	if len(q) != 1 || q[0].Title != "C" {
		t.Errorf("Expected stored [C], got %+v", q)
	}
	if err := e.Remove(ctx, 99); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Expected ErrEntryNotFound, got %v", err)
	}
}

func TestRemoveCurrentSkips(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	a, _ := e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))

	if err := e.Remove(ctx, a.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if c := e.Snapshot().Current; c == nil || c.Title != "B" {
		t.Errorf("Expected B current, got %+v", c)
	}
}

func TestClearRequiresAdminPassword(t *testing.T) {
	e, _, st := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))

	if err := e.Clear(ctx, "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
	if len(e.Snapshot().Queue) != 1 {
		t.Error("Expected queue untouched after wrong password")
	}

	if err := e.Clear(ctx, "letmein"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	snap := e.Snapshot()
	if snap.Current != nil || len(snap.Queue) != 0 {
		t.Errorf("Expected everything cleared, got %+v", snap)
	}
	if storedCurrent(t, st) != nil || len(storedQueue(t, st)) != 0 {
		t.Error("Expected both paths removed from the store")
	}
}

// =============================================================================
// Suspend / Resume Tests
// =============================================================================

func TestSuspendHoldsQueue(t *testing.T) {
	e, player, _ := newTestEngine(t)
	ctx := context.Background()

	e.Suspend()
	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))

	if e.Snapshot().Current != nil {
		t.Error("Expected no promotion while suspended")
	}
	if player.loadCount() != 0 {
		t.Errorf("Expected no loads, got %d", player.loadCount())
	}

	e.Resume(ctx)
	if c := e.Snapshot().Current; c == nil || c.Title != "A" {
		t.Errorf("Expected A promoted on resume, got %+v", c)
	}
}

func TestSuspendAndResumeReloadsCurrent(t *testing.T) {
	e, player, _ := newTestEngine(t)
	ctx := context.Background()

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Suspend()
	e.Resume(ctx)

	if player.loadCount() != 2 {
		t.Errorf("Expected reload after resume, got %d loads", player.loadCount())
	}
	if e.Snapshot().State != Loading {
		t.Errorf("Expected loading, got %s", e.Snapshot().State)
	}
}

// =============================================================================
// Sync Tests
// =============================================================================

func TestSyncResumesStoredCurrentSong(t *testing.T) {
	e, _, st := newTestEngine(t)
	ctx := context.Background()
	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))

	// A second TV starting from the same store
	player := &fakePlayer{}
	restarted := NewEngine(st, player, nil, Config{})
	if err := restarted.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	snap := restarted.Snapshot()
	if snap.Current == nil || snap.Current.Title != "A" {
		t.Fatalf("Expected A resumed, got %+v", snap.Current)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].Title != "B" {
		t.Errorf("Expected [B] queued, got %+v", snap.Queue)
	}
	if !restarted.Ready() {
		t.Error("Expected engine ready after sync")
	}
	if len(player.loads) != 1 || player.loads[0] != "aaaaaaaaaaa" {
		t.Errorf("Expected A loaded once, got %v", player.loads)
	}
}

// =============================================================================
// Persistence Ordering Tests
// =============================================================================

// heldStore pauses the first queue write after hold is armed until release
// is closed.
type heldStore struct {
	store.Store
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (h *heldStore) hold() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.armed = true
	h.entered = make(chan struct{})
	h.release = make(chan struct{})
}

func (h *heldStore) Write(ctx context.Context, path string, value []byte) error {
	h.mu.Lock()
	held := h.armed && path == store.PathQueue
	if held {
		h.armed = false
	}
	entered, release := h.entered, h.release
	h.mu.Unlock()

	if held {
		close(entered)
		<-release
	}
	return h.Store.Write(ctx, path, value)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func titles(entries []models.QueueEntry) []string {
	out := make([]string, len(entries))
	for i, q := range entries {
		out[i] = q.Title
	}
	return out
}

func TestOverlappingRequestsKeepEveryEntry(t *testing.T) {
	_, _, local := newTestEngine(t)
	held := &heldStore{Store: local}
	e := NewEngine(held, &fakePlayer{}, nil, Config{})

	synced := make(chan struct{})
	e.SetEvents(Events{OnSynced: func() { close(synced) }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, 0)
	<-synced

	if _, err := e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex")); err != nil {
		t.Fatalf("Request A failed: %v", err)
	}

	held.hold()
	doneB := make(chan error, 1)
	go func() {
		_, err := e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))
		doneB <- err
	}()
	<-held.entered

	doneC := make(chan error, 1)
	go func() {
		_, err := e.Request(ctx, entry("C", "ccccccccccc", "Kim"))
		doneC <- err
	}()
	waitUntil(t, "C to be queued", func() bool { return len(e.Snapshot().Queue) == 2 })

	close(held.release)
	if err := <-doneB; err != nil {
		t.Fatalf("Request B failed: %v", err)
	}
	if err := <-doneC; err != nil {
		t.Fatalf("Request C failed: %v", err)
	}

	waitUntil(t, "B and C stored", func() bool { return len(storedQueue(t, local)) == 2 })
	// Let the notifications of both writes come back
	time.Sleep(50 * time.Millisecond)

	if got := titles(e.Snapshot().Queue); len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Errorf("Expected engine queue [B C], got %v", got)
	}
	if got := titles(storedQueue(t, local)); len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Errorf("Expected stored queue [B C], got %v", got)
	}
}

func TestPushedQueueFromElsewhereIsAdopted(t *testing.T) {
	_, _, local := newTestEngine(t)
	e := NewEngine(local, &fakePlayer{}, nil, Config{})

	synced := make(chan struct{})
	e.SetEvents(Events{OnSynced: func() { close(synced) }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, 0)
	<-synced

	e.Request(ctx, entry("A", "aaaaaaaaaaa", "Alex"))
	e.Request(ctx, entry("B", "bbbbbbbbbbb", "Sam"))
	waitUntil(t, "B stored", func() bool { return len(storedQueue(t, local)) == 1 })

	waitUntil(t, "own write seen", func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.queueEcho.sent) == 1
	})

	// Another node empties the queue
	if err := local.Remove(ctx, store.PathQueue); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	waitUntil(t, "queue emptied", func() bool { return len(e.Snapshot().Queue) == 0 })
}

func TestEchoFilter(t *testing.T) {
	var f echoFilter
	if f.stale([]byte("x")) {
		t.Error("Expected values to pass before any write")
	}

	f.mark()
	if !f.stale([]byte("x")) {
		t.Error("Expected pushes ignored while a local change is unwritten")
	}

	f.sending([]byte("[1]"))
	f.mark()
	f.sending([]byte("[1,2]"))
	if !f.stale([]byte("[1]")) {
		t.Error("Expected an older own write to be ignored")
	}
	if f.stale([]byte("[1,2]")) {
		t.Error("Expected the newest own write to pass")
	}
	// Once the newest write came back, older values are foreign again
	if f.stale([]byte("[1]")) {
		t.Error("Expected [1] from elsewhere to pass after the echo")
	}
	if f.stale(nil) {
		t.Error("Expected a removal from elsewhere to pass")
	}
}

func TestRunFiresSyncedOnce(t *testing.T) {
	_, _, local := newTestEngine(t)
	e := NewEngine(local, nil, nil, Config{})

	var mu sync.Mutex
	calls := 0
	e.SetEvents(Events{OnSynced: func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 0) }()

	waitUntil(t, "engine ready", e.Ready)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected OnSynced once, got %d", calls)
	}
}
