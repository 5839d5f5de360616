package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known shared paths
const (
	PathUsers       = "users"
	PathQueue       = "queue"
	PathCurrentSong = "currentSong"
	PathActivity    = "activity"
	PathControl     = "control"
	PathTVEnabled   = "tvControl/enabled"

	activeLoginPrefix = "activeLogin/"
)

var (
	ErrNotFound     = errors.New("path not found")
	ErrUnconfigured = errors.New("remote store not configured")
)

// ActiveLoginPath returns the path holding the active session of username
func ActiveLoginPath(username string) string {
	return activeLoginPrefix + username
}

// Store is a document store keyed by path. Subscribers are notified on
// every change notification, including the subscriber's own writes, and
// may be notified more than once for the same value.
type Store interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, value []byte) error
	Remove(ctx context.Context, path string) error
	// Subscribe calls fn with the new value of path on every change.
	// fn receives nil when the path became absent.
	Subscribe(ctx context.Context, path string, fn func(value []byte)) (Subscription, error)
}

// Subscription is a handle to an active Subscribe call
type Subscription interface {
	Close() error
}

// ReadJSON decodes the value at path into v. It reports false, with a nil
// error, when the path is absent.
func ReadJSON(ctx context.Context, s Store, path string, v any) (bool, error) {
	data, err := s.Read(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return true, nil
}

// WriteJSON encodes v and writes it to path
func WriteJSON(ctx context.Context, s Store, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return s.Write(ctx, path, data)
}

type subscriptionFunc func() error

func (f subscriptionFunc) Close() error {
	return f()
}
