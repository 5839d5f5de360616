package store

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Watch delivers the current value of path to fn and then every pushed
// change until ctx is done. When no push has arrived for staleAfter the
// path is re-read once as a safety net; there is no fixed-interval polling.
// A staleAfter of zero disables the safety net.
func Watch(ctx context.Context, s Store, path string, staleAfter time.Duration, fn func(value []byte)) error {
	var (
		mu       sync.Mutex
		lastSeen = time.Now()
	)
	seen := func() {
		mu.Lock()
		lastSeen = time.Now()
		mu.Unlock()
	}

	sub, err := s.Subscribe(ctx, path, func(value []byte) {
		seen()
		fn(value)
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	refetch := func() {
		value, err := s.Read(ctx, path)
		if errors.Is(err, ErrNotFound) {
			value, err = nil, nil
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[STORE] Reconcile read of %s failed: %v", path, err)
			}
			return
		}
		seen()
		fn(value)
	}

	refetch()

	if staleAfter <= 0 {
		<-ctx.Done()
		return nil
	}

	interval := staleAfter / 2
	if interval <= 0 {
		interval = staleAfter
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			mu.Lock()
			stale := time.Since(lastSeen) >= staleAfter
			mu.Unlock()
			if stale {
				refetch()
			}
		}
	}
}
