package control

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"singalong/internal/store"
	"singalong/pkg/models"
)

type fakeTarget struct {
	toggles int
	skips   int
	restart int
	mutes   int
	volumes []int
}

func (f *fakeTarget) TogglePlay() error        { f.toggles++; return nil }
func (f *fakeTarget) Skip(ctx context.Context) { f.skips++ }
func (f *fakeTarget) Restart() error           { f.restart++; return nil }
func (f *fakeTarget) ToggleMute() error        { f.mutes++; return nil }
func (f *fakeTarget) SetVolume(v int) error    { f.volumes = append(f.volumes, v); return nil }

func newTestStore(t *testing.T) *store.Local {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "control_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	local, err := store.NewLocal(tmpFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	return local
}

func volume(v int) *int { return &v }

func TestSendStampsAndClamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sender := NewSender(s)

	sent, err := sender.Send(ctx, models.ControlCommand{Command: models.CmdSetVolume, Volume: volume(140)})
	require.NoError(t, err)
	assert.Equal(t, 100, *sent.Volume)
	assert.NotEmpty(t, sent.Nonce)
	assert.NotZero(t, sent.IssuedAt)

	var stored models.ControlCommand
	found, err := store.ReadJSON(ctx, s, store.PathControl, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sent.Nonce, stored.Nonce)
	assert.Equal(t, 100, *stored.Volume)

	next, err := sender.Send(ctx, models.ControlCommand{Command: models.CmdSkip, Volume: volume(5)})
	require.NoError(t, err)
	assert.Nil(t, next.Volume)
	assert.NotEqual(t, sent.Nonce, next.Nonce)
}

func TestSendRejectsUnknownCommand(t *testing.T) {
	s := newTestStore(t)

	_, err := NewSender(s).Send(context.Background(), models.ControlCommand{Command: "rewind"})
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestReceiverDispatches(t *testing.T) {
	target := &fakeTarget{}
	r := NewReceiver(nil, target)
	ctx := context.Background()
	now := models.Millis(time.Now())

	r.Handle(ctx, models.ControlCommand{Command: models.CmdTogglePlay, Nonce: "1", IssuedAt: now})
	r.Handle(ctx, models.ControlCommand{Command: models.CmdSkip, Nonce: "2", IssuedAt: now})
	r.Handle(ctx, models.ControlCommand{Command: models.CmdRestart, Nonce: "3", IssuedAt: now})
	r.Handle(ctx, models.ControlCommand{Command: models.CmdToggleMute, Nonce: "4", IssuedAt: now})
	r.Handle(ctx, models.ControlCommand{Command: models.CmdSetVolume, Volume: volume(-3), Nonce: "5", IssuedAt: now})

	assert.Equal(t, 1, target.toggles)
	assert.Equal(t, 1, target.skips)
	assert.Equal(t, 1, target.restart)
	assert.Equal(t, 1, target.mutes)
	assert.Equal(t, []int{0}, target.volumes)
}

func TestReceiverHandlesEachNonceOnce(t *testing.T) {
	target := &fakeTarget{}
	r := NewReceiver(nil, target)
	ctx := context.Background()
	cmd := models.ControlCommand{Command: models.CmdSkip, Nonce: "abc", IssuedAt: models.Millis(time.Now())}

	assert.True(t, r.Handle(ctx, cmd))
	assert.False(t, r.Handle(ctx, cmd))
	assert.False(t, r.Handle(ctx, cmd))
	assert.Equal(t, 1, target.skips)
}

func TestReceiverRepeatsCommandsWithoutNonce(t *testing.T) {
	target := &fakeTarget{}
	r := NewReceiver(nil, target)
	ctx := context.Background()
	toggle := models.ControlCommand{Command: models.CmdTogglePlay}
	mute := models.ControlCommand{Command: models.CmdToggleMute}

	assert.True(t, r.Handle(ctx, toggle))
	assert.False(t, r.Handle(ctx, toggle), "re-fired notification of the latest command")
	assert.True(t, r.Handle(ctx, mute))
	assert.True(t, r.Handle(ctx, toggle), "a later toggle is a new command")
	assert.Equal(t, 2, target.toggles)
	assert.Equal(t, 1, target.mutes)
}

func TestReceiverIgnoresCommandsFromBeforeStart(t *testing.T) {
	target := &fakeTarget{}
	r := NewReceiver(nil, target)

	stale := models.ControlCommand{
		Command:  models.CmdSkip,
		Nonce:    "old",
		IssuedAt: r.started - 60_000,
	}
	assert.False(t, r.Handle(context.Background(), stale))
	assert.Equal(t, 0, target.skips)
}

type signalTarget struct {
	fakeTarget
	muted chan struct{}
}

func (s *signalTarget) ToggleMute() error {
	s.muted <- struct{}{}
	return nil
}

func TestReceiverRunFollowsStore(t *testing.T) {
	s := newTestStore(t)
	target := &signalTarget{muted: make(chan struct{}, 1)}
	r := NewReceiver(s, target)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, time.Minute)

	_, err := NewSender(s).Send(ctx, models.ControlCommand{Command: models.CmdToggleMute})
	require.NoError(t, err)

	select {
	case <-target.muted:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for toggleMute")
	}
}
