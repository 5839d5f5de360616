package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Local is the per-node SQLite mirror of the shared paths. It serves every
// operation when the remote store is unreachable or unconfigured.
type Local struct {
	db *sql.DB

	mu     sync.Mutex
	subs   map[string]map[int]*localSub
	nextID int
}

type localSub struct {
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *localSub) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewLocal opens (or creates) the local store at dbPath
func NewLocal(dbPath string) (*Local, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps concurrent writers from tripping SQLITE_BUSY
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			path TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at DATETIME
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Local{
		db:   db,
		subs: make(map[string]map[int]*localSub),
	}, nil
}

func (l *Local) Read(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := l.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE path = ?`, path).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return value, nil
}

func (l *Local) Write(ctx context.Context, path string, value []byte) error {
	if err := l.put(ctx, path, value); err != nil {
		return err
	}
	l.notify(path)
	return nil
}

func (l *Local) Remove(ctx context.Context, path string) error {
	if err := l.delete(ctx, path); err != nil {
		return err
	}
	l.notify(path)
	return nil
}

// put stores value without notifying subscribers
func (l *Local) put(ctx context.Context, path string, value []byte) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (path, value, updated_at) VALUES (?, ?, ?)`,
		path, value, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (l *Local) delete(ctx context.Context, path string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM kv WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Subscribe delivers changes asynchronously and in order. Bursts of writes
// may be coalesced into one notification carrying the latest value.
func (l *Local) Subscribe(ctx context.Context, path string, fn func(value []byte)) (Subscription, error) {
	sub := &localSub{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	l.mu.Lock()
	if l.subs[path] == nil {
		l.subs[path] = make(map[int]*localSub)
	}
	id := l.nextID
	l.nextID++
	l.subs[path][id] = sub
	l.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case <-sub.signal:
				value, err := l.Read(context.Background(), path)
				switch {
				case errors.Is(err, ErrNotFound):
					fn(nil)
				case err != nil:
					log.Printf("[STORE] Local re-read of %s failed: %v", path, err)
				default:
					fn(value)
				}
			}
		}
	}()

	return subscriptionFunc(func() error {
		l.mu.Lock()
		delete(l.subs[path], id)
		l.mu.Unlock()
		sub.stop()
		return nil
	}), nil
}

func (l *Local) notify(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sub := range l.subs[path] {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

// Close closes the database
func (l *Local) Close() error {
	l.mu.Lock()
	for path, subs := range l.subs {
		for id, sub := range subs {
			sub.stop()
			delete(subs, id)
		}
		delete(l.subs, path)
	}
	l.mu.Unlock()
	return l.db.Close()
}
