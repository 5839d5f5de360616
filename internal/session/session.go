// Package session enforces a single active login per account. The newest
// login for an account wins; older sessions notice on their next check and
// are evicted.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"singalong/internal/device"
	"singalong/internal/store"
	"singalong/pkg/models"
)

const (
	// ValidateInterval is how often a session checks it still owns its account
	ValidateInterval = 10 * time.Second
	// ActivityInterval is how often a logged-in account's activity is refreshed
	ActivityInterval = 30 * time.Second
)

var ErrUnknownSession = errors.New("unknown session")

// ActivityToucher refreshes an account's last activity
type ActivityToucher interface {
	TouchUser(ctx context.Context, username string) error
}

// Session is one logged-in device
type Session struct {
	ID         string    `json:"sessionId"`
	Username   string    `json:"username"`
	Device     string    `json:"device"`
	LoggedInAt time.Time `json:"loggedInAt"`
}

type tracked struct {
	Session
	cancel  context.CancelFunc
	evicted bool
}

// Manager tracks the sessions opened on this node
type Manager struct {
	store   store.Store
	toucher ActivityToucher
	now     func() time.Time

	validateEvery time.Duration
	touchEvery    time.Duration
	onEvict       func(s Session)

	base context.Context

	mu       sync.Mutex
	sessions map[string]*tracked
}

// NewManager creates a session manager whose background checks end with
// ctx. toucher may be nil.
func NewManager(ctx context.Context, s store.Store, toucher ActivityToucher) *Manager {
	return &Manager{
		store:         s,
		toucher:       toucher,
		now:           time.Now,
		validateEvery: ValidateInterval,
		touchEvery:    ActivityInterval,
		base:          ctx,
		sessions:      make(map[string]*tracked),
	}
}

// SetIntervals overrides the validation and activity intervals
func (m *Manager) SetIntervals(validate, touch time.Duration) {
	m.validateEvery = validate
	m.touchEvery = touch
}

// OnEvict sets the callback fired once when a session loses its account
func (m *Manager) OnEvict(fn func(s Session)) {
	m.onEvict = fn
}

// Run blocks until ctx is done and then stops every session loop
func (m *Manager) Run(ctx context.Context) error {
	<-ctx.Done()

	m.mu.Lock()
	for _, t := range m.sessions {
		t.cancel()
	}
	m.mu.Unlock()
	return nil
}

// Login claims username for a new session and starts its background checks
func (m *Manager) Login(ctx context.Context, username, userAgent string) (Session, error) {
	sess := Session{
		ID:         uuid.New().String(),
		Username:   username,
		Device:     device.Label(userAgent),
		LoggedInAt: m.now(),
	}

	record := models.ActiveLogin{
		SessionID: sess.ID,
		Timestamp: models.Millis(sess.LoggedInAt),
		Device:    sess.Device,
	}
	if err := store.WriteJSON(ctx, m.store, store.ActiveLoginPath(username), record); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	loopCtx, cancel := context.WithCancel(m.base)
	m.sessions[sess.ID] = &tracked{Session: sess, cancel: cancel}
	m.mu.Unlock()

	log.Printf("[SESSION] %s logged in from %s (%s)", username, sess.Device, sess.ID)

	if !m.Validate(ctx, sess.ID) {
		return Session{}, ErrUnknownSession
	}
	go m.loop(loopCtx, sess)
	return sess, nil
}

func (m *Manager) loop(ctx context.Context, sess Session) {
	validate := time.NewTicker(m.validateEvery)
	defer validate.Stop()
	touch := time.NewTicker(m.touchEvery)
	defer touch.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-validate.C:
			if !m.Validate(ctx, sess.ID) {
				return
			}
		case <-touch.C:
			if m.toucher == nil {
				continue
			}
			if err := m.toucher.TouchUser(ctx, sess.Username); err != nil {
				log.Printf("[SESSION] Activity refresh for %s failed: %v", sess.Username, err)
			}
		}
	}
}

// Validate re-reads the active login of the session's account. A different
// or missing session id evicts this session. Read errors keep the session.
func (m *Manager) Validate(ctx context.Context, id string) bool {
	m.mu.Lock()
	t, ok := m.sessions[id]
	if !ok || t.evicted {
		m.mu.Unlock()
		return false
	}
	username := t.Username
	m.mu.Unlock()

	var active models.ActiveLogin
	found, err := store.ReadJSON(ctx, m.store, store.ActiveLoginPath(username), &active)
	if err != nil {
		log.Printf("[SESSION] Could not validate %s: %v", username, err)
		return true
	}
	if found && active.SessionID == id {
		return true
	}

	m.evict(id)
	return false
}

func (m *Manager) evict(id string) {
	m.mu.Lock()
	t, ok := m.sessions[id]
	if !ok || t.evicted {
		m.mu.Unlock()
		return
	}
	t.evicted = true
	t.cancel()
	delete(m.sessions, id)
	sess := t.Session
	m.mu.Unlock()

	log.Printf("[SESSION] %s was logged in elsewhere, evicting %s", sess.Username, id)
	if m.onEvict != nil {
		m.onEvict(sess)
	}
}

// Logout ends a session. The active login is only cleared while it still
// belongs to this session.
func (m *Manager) Logout(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.sessions[id]
	if ok {
		t.cancel()
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	path := store.ActiveLoginPath(t.Username)
	var active models.ActiveLogin
	found, err := store.ReadJSON(ctx, m.store, path, &active)
	if err != nil {
		return err
	}
	if found && active.SessionID == id {
		if err := m.store.Remove(ctx, path); err != nil {
			return err
		}
	}
	log.Printf("[SESSION] %s logged out (%s)", t.Username, id)
	return nil
}

// Touch refreshes the timestamp of the session's active login. A session
// that no longer owns its account is evicted instead.
func (m *Manager) Touch(ctx context.Context, id string) error {
	sess, ok := m.Get(id)
	if !ok {
		return ErrUnknownSession
	}
	if !m.Validate(ctx, id) {
		return ErrUnknownSession
	}
	return store.WriteJSON(ctx, m.store, store.ActiveLoginPath(sess.Username), models.ActiveLogin{
		SessionID: sess.ID,
		Timestamp: models.Millis(m.now()),
		Device:    sess.Device,
	})
}

// Get returns a live session by id
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return t.Session, true
}
