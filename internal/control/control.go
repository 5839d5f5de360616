// Package control carries remote-control commands from a singer's phone to
// the TV through a single last-write-wins store slot.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"singalong/internal/store"
	"singalong/pkg/models"
)

var ErrUnknownCommand = errors.New("unknown control command")

// Sender writes commands to the control slot
type Sender struct {
	store store.Store
	now   func() time.Time
}

// NewSender creates a sender writing to s
func NewSender(s store.Store) *Sender {
	return &Sender{store: s, now: time.Now}
}

// Send stamps cmd with the issue time and a fresh nonce and writes it
func (s *Sender) Send(ctx context.Context, cmd models.ControlCommand) (models.ControlCommand, error) {
	if !cmd.Command.Known() {
		return cmd, ErrUnknownCommand
	}
	if cmd.Command == models.CmdSetVolume {
		v := 100
		if cmd.Volume != nil {
			v = clamp(*cmd.Volume)
		}
		cmd.Volume = &v
	} else {
		cmd.Volume = nil
	}
	cmd.IssuedAt = models.Millis(s.now())
	cmd.Nonce = uuid.New().String()

	if err := store.WriteJSON(ctx, s.store, store.PathControl, cmd); err != nil {
		return cmd, err
	}
	return cmd, nil
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Target is what the TV exposes to remote control
type Target interface {
	TogglePlay() error
	Skip(ctx context.Context)
	Restart() error
	ToggleMute() error
	SetVolume(volume int) error
}

// Receiver applies commands from the control slot to a Target. The slot is
// re-delivered on every store notification, so each nonce is handled once
// and commands issued before the receiver started are ignored.
type Receiver struct {
	store   store.Store
	target  Target
	started int64

	mu   sync.Mutex
	seen map[string]struct{}
	last string
}

// NewReceiver creates a receiver that only accepts commands issued from now on
func NewReceiver(s store.Store, target Target) *Receiver {
	return &Receiver{
		store:   s,
		target:  target,
		started: models.Millis(time.Now()),
		seen:    make(map[string]struct{}),
	}
}

// Run follows the control slot until ctx is done
func (r *Receiver) Run(ctx context.Context, staleAfter time.Duration) error {
	return store.Watch(ctx, r.store, store.PathControl, staleAfter, func(value []byte) {
		if value == nil {
			return
		}
		var cmd models.ControlCommand
		if err := json.Unmarshal(value, &cmd); err != nil {
			log.Printf("[CONTROL] Ignoring malformed command: %v", err)
			return
		}
		r.Handle(ctx, cmd)
	})
}

// Handle applies cmd unless it was already handled or predates the receiver.
// It reports whether the command was applied.
func (r *Receiver) Handle(ctx context.Context, cmd models.ControlCommand) bool {
	if cmd.IssuedAt != 0 && cmd.IssuedAt < r.started {
		return false
	}

	key := cmd.Nonce
	if key == "" {
		// Without a nonce only a repeat of the latest command is a duplicate
		b, _ := json.Marshal(cmd)
		key = string(b)
	}
	r.mu.Lock()
	if _, dup := r.seen[key]; dup || key == r.last {
		r.mu.Unlock()
		return false
	}
	if cmd.Nonce != "" {
		r.seen[key] = struct{}{}
		if len(r.seen) > 256 {
			r.seen = map[string]struct{}{key: {}}
		}
	}
	r.last = key
	r.mu.Unlock()

	var err error
	switch cmd.Command {
	case models.CmdTogglePlay:
		err = r.target.TogglePlay()
	case models.CmdSkip:
		r.target.Skip(ctx)
	case models.CmdRestart:
		err = r.target.Restart()
	case models.CmdToggleMute:
		err = r.target.ToggleMute()
	case models.CmdSetVolume:
		v := 100
		if cmd.Volume != nil {
			v = clamp(*cmd.Volume)
		}
		err = r.target.SetVolume(v)
	default:
		log.Printf("[CONTROL] Unknown command %q", cmd.Command)
		return false
	}
	if err != nil {
		log.Printf("[CONTROL] %s failed: %v", cmd.Command, err)
	}
	log.Printf("[CONTROL] Applied %s", cmd.Command)
	return true
}
