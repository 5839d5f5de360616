package directory

import (
	"context"
	"testing"

	"singalong/pkg/models"
)

func accounts(names ...string) []models.Account {
	out := make([]models.Account, len(names))
	for i, n := range names {
		out[i] = models.Account{ID: i + 1, Username: n, Role: models.RoleUser}
	}
	return out
}

func usernames(list []models.Account) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Username
	}
	return out
}

func equalNames(a, b []string) bool {
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

func TestReconcileLengthTruthTable(t *testing.T) {
	tests := []struct {
		name      string
		local     []string
		remote    []string
		outcome   Outcome
		wantLocal []string
		wantStore []string // nil = store untouched
	}{
		{
			name:      "remote longer is adopted",
			local:     []string{"a"},
			remote:    []string{"a", "b"},
			outcome:   AdoptedRemote,
			wantLocal: []string{"a", "b"},
		},
		{
			name:      "remote shorter is overwritten",
			local:     []string{"a", "b", "c"},
			remote:    []string{"a"},
			outcome:   RepushedLocal,
			wantLocal: []string{"a", "b", "c"},
			wantStore: []string{"a", "b", "c"},
		},
		{
			name:      "equal length keeps local even when different",
			local:     []string{"a", "b"},
			remote:    []string{"x", "y"},
			outcome:   KeptLocal,
			wantLocal: []string{"a", "b"},
		},
		{
			name:      "both empty",
			local:     nil,
			remote:    nil,
			outcome:   KeptLocal,
			wantLocal: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t, PolicyLength)
			ctx := context.Background()
			svc.mu.Lock()
			svc.accounts = accounts(tt.local...)
			svc.mu.Unlock()

			got := svc.Reconcile(ctx, accounts(tt.remote...))
			if got != tt.outcome {
				t.Errorf("Expected outcome %s, got %s", tt.outcome, got)
			}
			if local := usernames(svc.List(FilterAll)); !equalNames(local, tt.wantLocal) {
				t.Errorf("Expected local %v, got %v", tt.wantLocal, local)
			}

			stored := storedUsers(t, st)
			if tt.wantStore == nil {
				if len(stored) != 0 {
					t.Errorf("Expected store untouched, got %v", usernames(stored))
				}
			} else if names := usernames(stored); !equalNames(names, tt.wantStore) {
				t.Errorf("Expected store %v, got %v", tt.wantStore, names)
			}
		})
	}
}

func TestReconcileRecordLastWriterWins(t *testing.T) {
	svc, st := newTestService(t, PolicyRecordLWW)
	ctx := context.Background()

	svc.mu.Lock()
	svc.accounts = []models.Account{
		{ID: 1, Username: "alice", UpdatedAt: 100, Disabled: false},
		{ID: 2, Username: "bob", UpdatedAt: 300},
	}
	svc.mu.Unlock()

	outcome := svc.Reconcile(ctx, []models.Account{
		{ID: 1, Username: "alice", UpdatedAt: 200, Disabled: true}, // newer remote edit
		{ID: 2, Username: "bobby", UpdatedAt: 250},                 // older remote edit
		{ID: 3, Username: "carol", UpdatedAt: 50},                  // only remote
	})
	if outcome != Merged {
		t.Errorf("Expected Merged, got %s", outcome)
	}

	got := svc.List(FilterAll)
	if names := usernames(got); !equalNames(names, []string{"alice", "bob", "carol"}) {
		t.Fatalf("Expected [alice bob carol], got %v", names)
	}
	if !got[0].Disabled {
		t.Error("Expected newer remote disable to win")
	}

	// bob's newer local copy has to be pushed back
	stored := storedUsers(t, st)
	if names := usernames(stored); !equalNames(names, []string{"alice", "bob", "carol"}) {
		t.Errorf("Expected merged list persisted, got %v", names)
	}
}

func TestReconcileRecordNoPushWhenRemoteCurrent(t *testing.T) {
	svc, st := newTestService(t, PolicyRecordLWW)

	remote := []models.Account{{ID: 1, Username: "alice", UpdatedAt: 10}}
	svc.Reconcile(context.Background(), remote)

	if len(storedUsers(t, st)) != 0 {
		t.Error("Expected no write when remote already holds the merge")
	}
	if n := len(svc.List(FilterAll)); n != 1 {
		t.Errorf("Expected 1 account, got %d", n)
	}
}
