package directory

import (
	"context"
	"log"
	"sort"

	"singalong/pkg/models"
)

// Policy selects how a pushed `users` snapshot is merged with the local list
type Policy string

const (
	// PolicyLength compares list lengths only: a longer remote list is
	// adopted, a shorter one is overwritten by the local list, and equal
	// lengths keep the local list even when contents differ.
	PolicyLength Policy = "length"
	// PolicyRecordLWW merges per account id, keeping the copy with the newer
	// UpdatedAt. Deleted accounts reappear if another client still holds
	// them, since deletions leave no tombstone.
	PolicyRecordLWW Policy = "record"
)

// Outcome reports what Reconcile did
type Outcome int

const (
	KeptLocal Outcome = iota
	AdoptedRemote
	RepushedLocal
	Merged
)

func (o Outcome) String() string {
	switch o {
	case AdoptedRemote:
		return "adopted-remote"
	case RepushedLocal:
		return "repushed-local"
	case Merged:
		return "merged"
	default:
		return "kept-local"
	}
}

// Reconcile merges a remote snapshot into the local list according to the
// service's policy.
func (s *Service) Reconcile(ctx context.Context, remote []models.Account) Outcome {
	if s.policy == PolicyRecordLWW {
		return s.reconcileRecords(ctx, remote)
	}
	return s.reconcileLength(ctx, remote)
}

func (s *Service) reconcileLength(ctx context.Context, remote []models.Account) Outcome {
	s.mu.Lock()
	local := len(s.accounts)
	switch {
	case len(remote) > local:
		s.accounts = append([]models.Account(nil), remote...)
		accounts := s.snapshot()
		s.mu.Unlock()
		log.Printf("[DIRECTORY] Adopted remote users (%d > %d)", len(remote), local)
		if s.onChange != nil {
			s.onChange(accounts)
		}
		return AdoptedRemote
	case len(remote) < local:
		s.mu.Unlock()
		log.Printf("[DIRECTORY] Remote users stale (%d < %d), re-pushing local list", len(remote), local)
		s.persist(ctx)
		return RepushedLocal
	default:
		s.mu.Unlock()
		return KeptLocal
	}
}

func (s *Service) reconcileRecords(ctx context.Context, remote []models.Account) Outcome {
	s.mu.Lock()
	merged := make(map[int]models.Account, len(s.accounts)+len(remote))
	for _, a := range s.accounts {
		merged[a.ID] = a
	}
	remoteByID := make(map[int]models.Account, len(remote))
	for _, r := range remote {
		remoteByID[r.ID] = r
		if l, ok := merged[r.ID]; !ok || r.UpdatedAt > l.UpdatedAt {
			merged[r.ID] = r
		}
	}

	accounts := make([]models.Account, 0, len(merged))
	for _, a := range merged {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	// Remote lacks something we hold newer: push the merge back
	needsPush := len(remoteByID) != len(accounts)
	if !needsPush {
		for _, a := range accounts {
			if remoteByID[a.ID].UpdatedAt != a.UpdatedAt {
				needsPush = true
				break
			}
		}
	}
	s.accounts = accounts
	snapshot := s.snapshot()
	s.mu.Unlock()

	if needsPush {
		s.persist(ctx)
	} else if s.onChange != nil {
		s.onChange(snapshot)
	}
	return Merged
}
