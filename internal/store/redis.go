package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RemoteConfig describes the connection to the shared remote store
type RemoteConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

var placeholderMarkers = []string{"YOUR_", "<", ">", "changeme", "example.invalid"}

// Validate rejects empty and placeholder connection descriptors
func (c RemoteConfig) Validate() error {
	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		return ErrUnconfigured
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(addr, marker) || strings.Contains(c.Password, marker) {
			return fmt.Errorf("%w: placeholder value in %q", ErrUnconfigured, addr)
		}
	}
	return nil
}

// Dial connects to Redis and verifies the connection
func Dial(ctx context.Context, cfg RemoteConfig) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	return rc, nil
}

// Redis is the remote store. Values live in plain keys; every mutation
// publishes the changed path on a shared channel.
type Redis struct {
	rc     *redis.Client
	prefix string
}

// NewRedis creates a remote store on an open client
func NewRedis(rc *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "singalong:"
	}
	return &Redis{rc: rc, prefix: prefix}
}

func (r *Redis) key(path string) string {
	return r.prefix + path
}

func (r *Redis) channel() string {
	return r.prefix + "changes"
}

func (r *Redis) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := r.rc.Get(ctx, r.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return data, nil
}

func (r *Redis) Write(ctx context.Context, path string, value []byte) error {
	pipe := r.rc.TxPipeline()
	pipe.Set(ctx, r.key(path), value, 0)
	pipe.Publish(ctx, r.channel(), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, path string) error {
	pipe := r.rc.TxPipeline()
	pipe.Del(ctx, r.key(path))
	pipe.Publish(ctx, r.channel(), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, path string, fn func(value []byte)) (Subscription, error) {
	ps := r.rc.Subscribe(ctx, r.channel())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range ps.Channel() {
			if msg.Payload != path {
				continue
			}
			value, err := r.Read(subCtx, path)
			switch {
			case errors.Is(err, ErrNotFound):
				fn(nil)
			case err != nil:
				if subCtx.Err() == nil {
					log.Printf("[STORE] Re-read of %s after notification failed: %v", path, err)
				}
			default:
				fn(value)
			}
		}
	}()

	return subscriptionFunc(func() error {
		cancel()
		err := ps.Close()
		wg.Wait()
		return err
	}), nil
}
