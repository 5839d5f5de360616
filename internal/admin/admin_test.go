package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"singalong/internal/session"
	"singalong/pkg/models"
)

type fakeAuth struct{}

func (fakeAuth) Authenticate(username, password string) (models.Account, error) {
	switch {
	case username == "boss" && password == "secret1":
		return models.Account{ID: 1, Username: "boss", Role: models.RoleAdmin}, nil
	case username == "alex" && password == "secret2":
		return models.Account{ID: 2, Username: "alex", Role: models.RoleUser}, nil
	}
	return models.Account{}, errors.New("invalid username or password")
}

type fakeSessions struct {
	live    map[string]session.Session
	next    int
	logouts []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{live: make(map[string]session.Session)}
}

func (f *fakeSessions) Login(ctx context.Context, username, userAgent string) (session.Session, error) {
	f.next++
	s := session.Session{ID: "sess-" + string(rune('0'+f.next)), Username: username}
	f.live[s.ID] = s
	return s, nil
}

func (f *fakeSessions) Logout(ctx context.Context, id string) error {
	if _, ok := f.live[id]; !ok {
		return session.ErrUnknownSession
	}
	delete(f.live, id)
	f.logouts = append(f.logouts, id)
	return nil
}

func (f *fakeSessions) Get(id string) (session.Session, bool) {
	s, ok := f.live[id]
	return s, ok
}

func newTestManager() (*Manager, *fakeSessions) {
	sessions := newFakeSessions()
	return NewManager(fakeAuth{}, sessions), sessions
}

// =============================================================================
// Login Tests
// =============================================================================

func TestLoginIssuesTokenBoundToSession(t *testing.T) {
	m, _ := newTestManager()

	token, sess, err := m.Login(context.Background(), "boss", "secret1", "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}

	claims, valid := m.ValidateToken(token)
	if !valid {
		t.Fatal("Expected token to be valid")
	}
	if claims.SessionID != sess.ID || claims.Username != "boss" {
		t.Errorf("Expected claims for %s, got %+v", sess.ID, claims)
	}
}

func TestLoginRejectsNonAdmin(t *testing.T) {
	m, sessions := newTestManager()

	_, _, err := m.Login(context.Background(), "alex", "secret2", "")
	if !errors.Is(err, ErrNotAdmin) {
		t.Errorf("Expected ErrNotAdmin, got %v", err)
	}
	if len(sessions.live) != 0 {
		t.Error("Expected no session for a non-admin")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	m, _ := newTestManager()

	if _, _, err := m.Login(context.Background(), "boss", "nope", ""); err == nil {
		t.Error("Expected error for bad password")
	}
}

// =============================================================================
// Token Management Tests
// =============================================================================

func TestGenerateTokenUnique(t *testing.T) {
	m, _ := newTestManager()

	token1 := m.GenerateToken("boss", "a")
	token2 := m.GenerateToken("boss", "b")
	if token1 == token2 {
		t.Error("Expected unique tokens")
	}
}

func TestValidateToken_Invalid(t *testing.T) {
	m, _ := newTestManager()

	if _, valid := m.ValidateToken("invalid-token"); valid {
		t.Error("Expected invalid token to return false")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	m, _ := newTestManager()
	token, _, _ := m.Login(context.Background(), "boss", "secret1", "")

	m.now = func() time.Time { return time.Now().Add(TokenExpiry + time.Minute) }
	if _, valid := m.ValidateToken(token); valid {
		t.Error("Expected expired token to return false")
	}

	m.CleanupExpiredTokens()
	if len(m.tokens) != 0 {
		t.Errorf("Expected expired token removed, got %d", len(m.tokens))
	}
}

func TestTokenDiesWithSession(t *testing.T) {
	m, sessions := newTestManager()
	token, sess, _ := m.Login(context.Background(), "boss", "secret1", "")

	// Evicted by a newer login elsewhere
	delete(sessions.live, sess.ID)

	if _, valid := m.ValidateToken(token); valid {
		t.Error("Expected token invalid once its session is gone")
	}
}

func TestRevokeSession(t *testing.T) {
	m, _ := newTestManager()
	m.GenerateToken("boss", "s1")
	m.GenerateToken("boss", "s1")
	keep := m.GenerateToken("boss", "s2")

	if n := m.RevokeSession("s1"); n != 2 {
		t.Errorf("Expected 2 revoked tokens, got %d", n)
	}
	m.mu.RLock()
	_, ok := m.tokens[keep]
	m.mu.RUnlock()
	if !ok {
		t.Error("Expected other session's token kept")
	}
}

func TestLogout(t *testing.T) {
	m, sessions := newTestManager()
	token, sess, _ := m.Login(context.Background(), "boss", "secret1", "")

	if err := m.Logout(context.Background(), token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if len(sessions.logouts) != 1 || sessions.logouts[0] != sess.ID {
		t.Errorf("Expected session %s logged out, got %v", sess.ID, sessions.logouts)
	}
	if err := m.Logout(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken on second logout, got %v", err)
	}
}

// =============================================================================
// HTTP Handler Tests
// =============================================================================

func TestIsLocalRequest(t *testing.T) {
	tests := []struct {
		remoteAddr string
		expected   bool
	}{
		{"127.0.0.1:12345", true},
		{"[::1]:12345", true},
		{"192.168.1.100:12345", false},
		{"invalid", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		if got := IsLocalRequest(r); got != tt.expected {
			t.Errorf("IsLocalRequest(%s) = %v, expected %v", tt.remoteAddr, got, tt.expected)
		}
	}
}

func TestHandleLogin(t *testing.T) {
	m, _ := newTestManager()

	body, _ := json.Marshal(map[string]string{"username": "boss", "password": "secret1"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	m.HandleLogin(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp AuthResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp.Success || resp.Token == "" || resp.SessionID == "" {
		t.Errorf("Expected token and session, got %+v", resp)
	}
}

func TestHandleLoginValidation(t *testing.T) {
	m, _ := newTestManager()

	body, _ := json.Marshal(map[string]string{"username": "boss"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	m.HandleLogin(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
	var resp AuthResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Errors) != 1 || resp.Errors[0].Field != "password" {
		t.Errorf("Expected password validation error, got %+v", resp.Errors)
	}
}

func TestMiddleware(t *testing.T) {
	m, _ := newTestManager()
	token, _, _ := m.Login(context.Background(), "boss", "secret1", "")

	var seen Claims
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/accounts", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rr.Code)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rr.Code)
	}
	if seen.Username != "boss" {
		t.Errorf("Expected claims in context, got %+v", seen)
	}
}

func TestHandleCheckAuth(t *testing.T) {
	m, _ := newTestManager()
	token, _, _ := m.Login(context.Background(), "boss", "secret1", "")

	req := httptest.NewRequest(http.MethodGet, "/api/admin/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	m.HandleCheckAuth(rr, req)

	var resp AuthResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp.Success || resp.Username != "boss" {
		t.Errorf("Expected valid auth, got %+v", resp)
	}

	req.Header.Set("Authorization", "Bearer nope")
	rr = httptest.NewRecorder()
	m.HandleCheckAuth(rr, req)
	resp = AuthResponse{}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Success {
		t.Error("Expected invalid auth")
	}
}
