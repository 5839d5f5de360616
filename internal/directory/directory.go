package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"singalong/internal/names"
	"singalong/internal/store"
	"singalong/pkg/models"
)

var (
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmptyUsername      = errors.New("username is required")
	ErrInvalidRole        = errors.New("role must be admin or user")
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDisabled           = errors.New("account is disabled")
)

const (
	// OnlineWindow is how recent lastActivity must be to count as online
	OnlineWindow = 5 * time.Minute
	// ActivityInterval is how often a logged-in client touches its account
	ActivityInterval = 30 * time.Second
)

// Filter selects accounts by presence
type Filter string

const (
	FilterAll     Filter = "all"
	FilterOnline  Filter = "online"
	FilterOffline Filter = "offline"
)

// Changes is a partial account update; nil fields are left untouched
type Changes struct {
	Username *string
	Password *string
	Role     *models.Role
}

// Service owns the account list and keeps it in sync with the shared
// `users` path. The list is always persisted whole.
type Service struct {
	store  store.Store
	policy Policy
	now    func() time.Time

	mu       sync.RWMutex
	accounts []models.Account

	persistMu sync.Mutex
	onChange  func(accounts []models.Account)
}

// NewService creates a directory bound to s
func NewService(s store.Store, policy Policy) *Service {
	if policy == "" {
		policy = PolicyLength
	}
	return &Service{
		store:  s,
		policy: policy,
		now:    time.Now,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now is the directory's current time, used for presence checks
func (s *Service) Now() time.Time {
	return s.now()
}

// OnChange sets the callback fired after the local list changed
func (s *Service) OnChange(fn func(accounts []models.Account)) {
	s.onChange = fn
}

// Load replaces the local list with the stored one, if any
func (s *Service) Load(ctx context.Context) error {
	var accounts []models.Account
	found, err := store.ReadJSON(ctx, s.store, store.PathUsers, &accounts)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	if !found {
		return nil
	}
	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
	return nil
}

// Run feeds every pushed `users` snapshot through Reconcile until ctx is done
func (s *Service) Run(ctx context.Context, staleAfter time.Duration) error {
	return store.Watch(ctx, s.store, store.PathUsers, staleAfter, func(value []byte) {
		if value == nil {
			return
		}
		var remote []models.Account
		if err := json.Unmarshal(value, &remote); err != nil {
			log.Printf("[DIRECTORY] Ignoring malformed users snapshot: %v", err)
			return
		}
		s.Reconcile(ctx, remote)
	})
}

// List returns accounts matching filter in stored order
func (s *Service) List(filter Filter) []models.Account {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Filter(s.accounts, func(a models.Account, _ int) bool {
		switch filter {
		case FilterOnline:
			return IsOnline(a, now)
		case FilterOffline:
			return !IsOnline(a, now)
		default:
			return true
		}
	})
}

// Get returns the account with id
func (s *Service) Get(id int) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(s.accounts, func(a models.Account) bool { return a.ID == id })
}

// FindByUsername returns the account named username
func (s *Service) FindByUsername(username string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(s.accounts, func(a models.Account) bool { return a.Username == username })
}

// IsOnline reports whether a was active within OnlineWindow of now
func IsOnline(a models.Account, now time.Time) bool {
	if a.LastActivity == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(a.LastActivity)) < OnlineWindow
}

// Create adds an account. The password must be at least MinPasswordLength
// characters and the username must not be taken.
func (s *Service) Create(ctx context.Context, username, password string, role models.Role) (models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.Account{}, ErrEmptyUsername
	}
	if err := checkPasswordStrength(password); err != nil {
		return models.Account{}, err
	}
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleAdmin && role != models.RoleUser {
		return models.Account{}, ErrInvalidRole
	}
	hash, err := hashPassword(password)
	if err != nil {
		return models.Account{}, err
	}

	account, err := s.insert(username, hash, role)
	if err != nil {
		return models.Account{}, err
	}
	s.persist(ctx)
	log.Printf("[DIRECTORY] Created %s account %q (id %d)", role, account.Username, account.ID)
	return account, nil
}

func (s *Service) insert(username, hash string, role models.Role) (models.Account, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usernameTaken(username, 0) {
		return models.Account{}, ErrDuplicateUsername
	}
	account := models.Account{
		ID:           s.nextID(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		JoinedDate:   now.Format("2006-01-02"),
		UpdatedAt:    models.Millis(now),
	}
	s.accounts = append(s.accounts, account)
	return account, nil
}

// nextID returns max(existing ids)+1; callers hold mu
func (s *Service) nextID() int {
	return lo.Reduce(s.accounts, func(highest int, a models.Account, _ int) int {
		if a.ID > highest {
			return a.ID
		}
		return highest
	}, 0) + 1
}

// usernameTaken reports whether another account (not exceptID) uses name; callers hold mu
func (s *Service) usernameTaken(name string, exceptID int) bool {
	return lo.ContainsBy(s.accounts, func(a models.Account) bool {
		return a.Username == name && a.ID != exceptID
	})
}

// Update applies changes to the account with id
func (s *Service) Update(ctx context.Context, id int, changes Changes) error {
	var hash string
	if changes.Password != nil {
		if err := checkPasswordStrength(*changes.Password); err != nil {
			return err
		}
		h, err := hashPassword(*changes.Password)
		if err != nil {
			return err
		}
		hash = h
	}
	if changes.Role != nil && *changes.Role != models.RoleAdmin && *changes.Role != models.RoleUser {
		return ErrInvalidRole
	}

	err := s.mutate(id, func(a *models.Account) error {
		if changes.Username != nil {
			name := strings.TrimSpace(*changes.Username)
			if name == "" {
				return ErrEmptyUsername
			}
			if s.usernameTaken(name, id) {
				return ErrDuplicateUsername
			}
			a.Username = name
		}
		if hash != "" {
			a.PasswordHash = hash
			a.Password = ""
		}
		if changes.Role != nil {
			a.Role = *changes.Role
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// SetDisabled enables or disables the account with id
func (s *Service) SetDisabled(ctx context.Context, id int, disabled bool) error {
	err := s.mutate(id, func(a *models.Account) error {
		a.Disabled = disabled
		return nil
	})
	if err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// Delete removes the account with id
func (s *Service) Delete(ctx context.Context, id int) error {
	s.mu.Lock()
	before := len(s.accounts)
	s.accounts = lo.Reject(s.accounts, func(a models.Account, _ int) bool { return a.ID == id })
	removed := len(s.accounts) != before
	s.mu.Unlock()

	if !removed {
		return ErrNotFound
	}
	s.persist(ctx)
	return nil
}

// TouchActivity stamps lastActivity = now on the account with id and
// persists the entire list.
func (s *Service) TouchActivity(ctx context.Context, id int) error {
	now := models.Millis(s.now())
	err := s.mutate(id, func(a *models.Account) error {
		a.LastActivity = now
		return nil
	})
	if err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// TouchUser is TouchActivity by username
func (s *Service) TouchUser(ctx context.Context, username string) error {
	account, ok := s.FindByUsername(username)
	if !ok {
		return ErrNotFound
	}
	return s.TouchActivity(ctx, account.ID)
}

// mutate runs fn on the account with id under the lock and bumps UpdatedAt
func (s *Service) mutate(id int, fn func(a *models.Account) error) error {
	now := models.Millis(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(s.accounts, func(a models.Account) bool { return a.ID == id })
	if !ok {
		return ErrNotFound
	}
	updated := s.accounts[idx]
	if err := fn(&updated); err != nil {
		return err
	}
	updated.UpdatedAt = now
	s.accounts[idx] = updated
	return nil
}

// Authenticate verifies credentials and returns the account
func (s *Service) Authenticate(username, password string) (models.Account, error) {
	account, ok := s.FindByUsername(username)
	if !ok || !passwordMatches(account, password) {
		return models.Account{}, ErrInvalidCredentials
	}
	if account.Disabled {
		return models.Account{}, ErrDisabled
	}
	return account, nil
}

// CheckAdminPassword reports whether password matches any admin account
func (s *Service) CheckAdminPassword(password string) bool {
	if password == "" {
		return false
	}
	s.mu.RLock()
	admins := lo.Filter(s.accounts, func(a models.Account, _ int) bool { return a.IsAdmin() })
	s.mu.RUnlock()

	for _, a := range admins {
		if passwordMatches(a, password) {
			return true
		}
	}
	return false
}

// EnsureSinger returns the account for a singer display name, creating a
// user account without a password on first sight. An empty name gets a
// generated stage name.
func (s *Service) EnsureSinger(ctx context.Context, name string) (models.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		s.mu.RLock()
		taken := lo.SliceToMap(s.accounts, func(a models.Account) (string, bool) { return a.Username, true })
		s.mu.RUnlock()
		name = names.GenerateUnique(func(n string) bool { return taken[n] })
	}
	if account, ok := s.FindByUsername(name); ok {
		return account, nil
	}

	account, err := s.insert(name, "", models.RoleUser)
	if errors.Is(err, ErrDuplicateUsername) {
		// Lost a race with another request for the same name
		account, _ = s.FindByUsername(name)
		return account, nil
	}
	if err != nil {
		return models.Account{}, err
	}
	s.persist(ctx)
	log.Printf("[DIRECTORY] Provisioned singer %q (id %d)", account.Username, account.ID)
	return account, nil
}

// EnsureAdmin creates the given admin account when no admin exists yet
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	s.mu.RLock()
	hasAdmin := lo.ContainsBy(s.accounts, func(a models.Account) bool { return a.IsAdmin() })
	s.mu.RUnlock()
	if hasAdmin || username == "" {
		return nil
	}
	_, err := s.Create(ctx, username, password, models.RoleAdmin)
	return err
}

// snapshot copies the list; callers hold mu
func (s *Service) snapshot() []models.Account {
	out := make([]models.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// persist writes the latest full list. Write failures are logged only; the
// in-memory list stays authoritative until the next successful write.
func (s *Service) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	for i := range s.accounts {
		if err := upgradeLegacyPassword(&s.accounts[i]); err != nil {
			log.Printf("[DIRECTORY] Failed to upgrade password of %q: %v", s.accounts[i].Username, err)
		}
	}
	accounts := s.snapshot()
	s.mu.Unlock()

	if err := store.WriteJSON(ctx, s.store, store.PathUsers, accounts); err != nil {
		log.Printf("[DIRECTORY] Failed to persist users: %v", err)
	}
	if s.onChange != nil {
		s.onChange(accounts)
	}
}
