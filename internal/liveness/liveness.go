// Package liveness tracks whether a singer's phone is connected to the room.
// Phones write a heartbeat to the activity path; the TV polls it.
package liveness

import (
	"context"
	"log"
	"sync"
	"time"

	"singalong/internal/store"
	"singalong/pkg/models"
)

const (
	// Window is how recent a heartbeat must be for the phone to count as connected
	Window = 30 * time.Second
	// PollInterval is how often the monitor re-reads the heartbeat
	PollInterval = time.Second
	// BeaconInterval is how often a connected phone refreshes the heartbeat
	BeaconInterval = 10 * time.Second
)

// Beacon writes the heartbeat on behalf of a singer client
type Beacon struct {
	store store.Store
	now   func() time.Time
}

// NewBeacon creates a beacon writing to s
func NewBeacon(s store.Store) *Beacon {
	return &Beacon{store: s, now: time.Now}
}

// Touch writes the current time to the activity path
func (b *Beacon) Touch(ctx context.Context) error {
	return store.WriteJSON(ctx, b.store, store.PathActivity, models.ActivityBeacon{
		Timestamp: models.Millis(b.now()),
	})
}

// Run touches immediately and then every interval until ctx is done
func (b *Beacon) Run(ctx context.Context, every time.Duration) error {
	if err := b.Touch(ctx); err != nil {
		log.Printf("[LIVENESS] Heartbeat write failed: %v", err)
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.Touch(ctx); err != nil {
				log.Printf("[LIVENESS] Heartbeat write failed: %v", err)
			}
		}
	}
}

// Monitor reports connected/disconnected edges of the phone heartbeat
type Monitor struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
	onEdge func(connected bool)

	mu        sync.Mutex
	known     bool
	connected bool
}

// NewMonitor creates a monitor using Window
func NewMonitor(s store.Store) *Monitor {
	return &Monitor{store: s, window: Window, now: time.Now}
}

// SetClock replaces the time source
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// OnEdge sets the callback fired when the connected status changes
func (m *Monitor) OnEdge(fn func(connected bool)) {
	m.onEdge = fn
}

// Connected returns the last observed status
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// IsConnected reports whether a heartbeat at timestamp is fresh at now
func IsConnected(timestamp int64, now time.Time, window time.Duration) bool {
	if timestamp <= 0 {
		return false
	}
	return now.Sub(time.UnixMilli(timestamp)) < window
}

// Poll reads the heartbeat once and fires OnEdge if the status changed.
// The first poll always fires.
func (m *Monitor) Poll(ctx context.Context) {
	var beacon models.ActivityBeacon
	if _, err := store.ReadJSON(ctx, m.store, store.PathActivity, &beacon); err != nil {
		log.Printf("[LIVENESS] Failed to read heartbeat: %v", err)
		return
	}
	connected := IsConnected(beacon.Timestamp, m.now(), m.window)

	m.mu.Lock()
	changed := !m.known || connected != m.connected
	m.known = true
	m.connected = connected
	m.mu.Unlock()

	if changed {
		log.Printf("[LIVENESS] Phone connected: %v", connected)
		if m.onEdge != nil {
			m.onEdge(connected)
		}
	}
}

// Run polls every PollInterval until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	m.Poll(ctx)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}
