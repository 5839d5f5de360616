// Package tv holds the TV node's on/off switch and its boot readiness.
package tv

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"singalong/internal/store"
)

// Suspender is paused while the TV is disabled
type Suspender interface {
	Suspend()
	Resume(ctx context.Context)
}

// Gate follows the tvControl/enabled flag
type Gate struct {
	store    store.Store
	target   Suspender
	onChange func(enabled bool)

	mu      sync.Mutex
	known   bool
	enabled bool
}

// NewGate creates a gate; the TV counts as enabled until told otherwise
func NewGate(s store.Store, target Suspender) *Gate {
	return &Gate{store: s, target: target, enabled: true}
}

// OnChange sets the callback fired when the flag flips
func (g *Gate) OnChange(fn func(enabled bool)) {
	g.onChange = fn
}

// Enabled returns the last observed flag
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// ParseEnabled decodes a stored flag. Absent or unreadable values mean enabled.
func ParseEnabled(value []byte) bool {
	if value == nil {
		return true
	}
	var enabled bool
	if err := json.Unmarshal(value, &enabled); err != nil {
		return true
	}
	return enabled
}

// Apply handles a stored value of the flag
func (g *Gate) Apply(ctx context.Context, value []byte) {
	enabled := ParseEnabled(value)

	g.mu.Lock()
	changed := !g.known || enabled != g.enabled
	g.known = true
	g.enabled = enabled
	g.mu.Unlock()

	if !changed {
		return
	}
	log.Printf("[TV] Enabled: %v", enabled)
	if g.target != nil {
		if enabled {
			g.target.Resume(ctx)
		} else {
			g.target.Suspend()
		}
	}
	if g.onChange != nil {
		g.onChange(enabled)
	}
}

// Set writes the flag
func (g *Gate) Set(ctx context.Context, enabled bool) error {
	return store.WriteJSON(ctx, g.store, store.PathTVEnabled, enabled)
}

// Run follows the flag until ctx is done
func (g *Gate) Run(ctx context.Context, staleAfter time.Duration) error {
	return store.Watch(ctx, g.store, store.PathTVEnabled, staleAfter, func(value []byte) {
		g.Apply(ctx, value)
	})
}

// Readiness reports when every boot subsystem has come up
type Readiness struct {
	mu      sync.Mutex
	pending map[string]bool
	ready   bool
	onReady []func()
}

// NewReadiness waits for each named part
func NewReadiness(parts ...string) *Readiness {
	r := &Readiness{pending: make(map[string]bool)}
	for _, p := range parts {
		r.pending[p] = true
	}
	r.ready = len(r.pending) == 0
	return r
}

// OnReady registers fn to run once everything is ready. If that already
// happened, fn runs immediately.
func (r *Readiness) OnReady(fn func()) {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		fn()
		return
	}
	r.onReady = append(r.onReady, fn)
	r.mu.Unlock()
}

// Mark records that part is ready
func (r *Readiness) Mark(part string) {
	r.mu.Lock()
	if r.ready || !r.pending[part] {
		r.mu.Unlock()
		return
	}
	delete(r.pending, part)
	if len(r.pending) > 0 {
		r.mu.Unlock()
		return
	}
	r.ready = true
	callbacks := r.onReady
	r.onReady = nil
	r.mu.Unlock()

	log.Printf("[TV] Boot complete")
	for _, fn := range callbacks {
		fn()
	}
}

// Ready reports whether every part has been marked
func (r *Readiness) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}
