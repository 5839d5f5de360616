package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"singalong/internal/session"
	"singalong/pkg/models"
	"singalong/pkg/validator"
)

const TokenExpiry = 24 * time.Hour

var (
	ErrNotAdmin     = errors.New("account is not an admin")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Authenticator verifies account credentials
type Authenticator interface {
	Authenticate(username, password string) (models.Account, error)
}

// Sessions opens and closes single-login sessions
type Sessions interface {
	Login(ctx context.Context, username, userAgent string) (session.Session, error)
	Logout(ctx context.Context, id string) error
	Get(id string) (session.Session, bool)
}

// Claims is what a valid token resolves to
type Claims struct {
	Username  string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager handles admin authentication and authorization. Every token is
// bound to a session; when the session is evicted the token dies with it.
type Manager struct {
	auth        Authenticator
	sessions    Sessions
	validator   *validator.Validator
	tokens      map[string]Claims
	mu          sync.RWMutex
	tokenExpiry time.Duration
	now         func() time.Time
}

// NewManager creates a new admin manager
func NewManager(auth Authenticator, sessions Sessions) *Manager {
	return &Manager{
		auth:        auth,
		sessions:    sessions,
		validator:   validator.NewValidator(),
		tokens:      make(map[string]Claims),
		tokenExpiry: TokenExpiry,
		now:         time.Now,
	}
}

// Login checks admin credentials, opens a session and issues a token
func (m *Manager) Login(ctx context.Context, username, password, userAgent string) (string, session.Session, error) {
	account, err := m.auth.Authenticate(username, password)
	if err != nil {
		return "", session.Session{}, err
	}
	if !account.IsAdmin() {
		return "", session.Session{}, ErrNotAdmin
	}

	sess, err := m.sessions.Login(ctx, account.Username, userAgent)
	if err != nil {
		return "", session.Session{}, err
	}
	return m.GenerateToken(account.Username, sess.ID), sess, nil
}

// GenerateToken creates a new admin token for a session
func (m *Manager) GenerateToken(username, sessionID string) string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	token := hex.EncodeToString(bytes)

	now := m.now()
	m.mu.Lock()
	m.tokens[token] = Claims{
		Username:  username,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.tokenExpiry),
	}
	m.mu.Unlock()
	return token
}

// ValidateToken checks a token is known, unexpired and its session alive
func (m *Manager) ValidateToken(token string) (Claims, bool) {
	m.mu.RLock()
	claims, ok := m.tokens[token]
	m.mu.RUnlock()
	if !ok || m.now().After(claims.ExpiresAt) {
		return Claims{}, false
	}
	if m.sessions != nil {
		if _, live := m.sessions.Get(claims.SessionID); !live {
			return Claims{}, false
		}
	}
	return claims, true
}

// RevokeToken removes a token
func (m *Manager) RevokeToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
}

// RevokeSession removes every token bound to sessionID
func (m *Manager) RevokeSession(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for token, claims := range m.tokens {
		if claims.SessionID == sessionID {
			delete(m.tokens, token)
			n++
		}
	}
	return n
}

// Logout revokes the token and ends its session
func (m *Manager) Logout(ctx context.Context, token string) error {
	m.mu.Lock()
	claims, ok := m.tokens[token]
	delete(m.tokens, token)
	m.mu.Unlock()
	if !ok {
		return ErrInvalidToken
	}
	m.RevokeSession(claims.SessionID)
	if err := m.sessions.Logout(ctx, claims.SessionID); err != nil && !errors.Is(err, session.ErrUnknownSession) {
		return err
	}
	return nil
}

// CleanupExpiredTokens removes expired tokens
func (m *Manager) CleanupExpiredTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for token, claims := range m.tokens {
		if now.After(claims.ExpiresAt) {
			delete(m.tokens, token)
		}
	}
}

// Run cleans up expired tokens every hour until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CleanupExpiredTokens()
		}
	}
}

// IsLocalRequest checks if a request is from localhost
func IsLocalRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	return ip.IsLoopback()
}

// BearerToken extracts the token from an Authorization header
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

type claimsKey struct{}

// FromContext returns the claims the middleware attached
func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// AuthResponse is the response for auth endpoints
type AuthResponse struct {
	Success   bool                        `json:"success"`
	Token     string                      `json:"token,omitempty"`
	Username  string                      `json:"username,omitempty"`
	SessionID string                      `json:"sessionId,omitempty"`
	ExpiresAt int64                       `json:"expiresAt,omitempty"`
	Error     string                      `json:"error,omitempty"`
	Errors    []validator.ValidationError `json:"errors,omitempty"`
	IsLocal   bool                        `json:"is_local"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Middleware rejects requests without a valid admin token
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, AuthResponse{Error: "Authentication required"})
			return
		}
		claims, valid := m.ValidateToken(token)
		if !valid {
			writeJSON(w, http.StatusUnauthorized, AuthResponse{Error: ErrInvalidToken.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

// HandleLogin handles POST /api/admin/login
func (m *Manager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, AuthResponse{Error: "Invalid request"})
		return
	}
	if errs, ok := m.validator.Validate(req); !ok {
		writeJSON(w, http.StatusBadRequest, AuthResponse{Error: "Invalid request", Errors: errs})
		return
	}

	token, sess, err := m.Login(r.Context(), req.Username, req.Password, r.UserAgent())
	if err != nil {
		log.Printf("[ADMIN] Login failed for %q: %v", req.Username, err)
		writeJSON(w, http.StatusUnauthorized, AuthResponse{Error: err.Error()})
		return
	}

	claims, _ := m.ValidateToken(token)
	writeJSON(w, http.StatusOK, AuthResponse{
		Success:   true,
		Token:     token,
		Username:  sess.Username,
		SessionID: sess.ID,
		ExpiresAt: models.Millis(claims.ExpiresAt),
		IsLocal:   IsLocalRequest(r),
	})
}

// HandleLogout handles POST /api/admin/logout
func (m *Manager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := m.Logout(r.Context(), BearerToken(r)); err != nil {
		writeJSON(w, http.StatusUnauthorized, AuthResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Success: true})
}

// HandleCheckAuth checks if current auth is valid
func (m *Manager) HandleCheckAuth(w http.ResponseWriter, r *http.Request) {
	claims, valid := m.ValidateToken(BearerToken(r))
	if !valid {
		writeJSON(w, http.StatusOK, AuthResponse{IsLocal: IsLocalRequest(r)})
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Success:   true,
		Username:  claims.Username,
		SessionID: claims.SessionID,
		ExpiresAt: models.Millis(claims.ExpiresAt),
		IsLocal:   IsLocalRequest(r),
	})
}
