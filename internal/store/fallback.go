package store

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Fallback serves every operation from the remote store when one is
// configured and reachable, and from the local mirror otherwise. Callers
// cannot tell which backing store answered.
type Fallback struct {
	remote Store
	local  *Local
}

// NewFallback creates the adapter. remote may be nil (unconfigured).
func NewFallback(remote Store, local *Local) *Fallback {
	return &Fallback{remote: remote, local: local}
}

// HasRemote reports whether a remote store is configured
func (f *Fallback) HasRemote() bool {
	return f.remote != nil
}

func (f *Fallback) Read(ctx context.Context, path string) ([]byte, error) {
	if f.remote != nil {
		value, err := f.remote.Read(ctx, path)
		switch {
		case err == nil:
			if err := f.local.put(ctx, path, value); err != nil {
				log.Printf("[STORE] Failed to mirror %s locally: %v", path, err)
			}
			return value, nil
		case errors.Is(err, ErrNotFound):
			return nil, err
		default:
			log.Printf("[STORE] Remote read of %s failed, using local copy: %v", path, err)
		}
	}
	return f.local.Read(ctx, path)
}

func (f *Fallback) Write(ctx context.Context, path string, value []byte) error {
	var localErr error
	if f.remote != nil {
		// Mirror only; remote subscribers deliver the change
		localErr = f.local.put(ctx, path, value)
	} else {
		localErr = f.local.Write(ctx, path, value)
	}
	if localErr != nil {
		log.Printf("[STORE] Local write of %s failed: %v", path, localErr)
	}

	if f.remote == nil {
		return localErr
	}
	if err := f.remote.Write(ctx, path, value); err != nil {
		log.Printf("[STORE] Remote write of %s failed, local copy stands: %v", path, err)
		if localErr != nil {
			return fmt.Errorf("write %s: remote: %v, local: %w", path, err, localErr)
		}
	}
	return nil
}

func (f *Fallback) Remove(ctx context.Context, path string) error {
	var localErr error
	if f.remote != nil {
		localErr = f.local.delete(ctx, path)
	} else {
		localErr = f.local.Remove(ctx, path)
	}
	if localErr != nil {
		log.Printf("[STORE] Local delete of %s failed: %v", path, localErr)
	}

	if f.remote == nil {
		return localErr
	}
	if err := f.remote.Remove(ctx, path); err != nil {
		log.Printf("[STORE] Remote delete of %s failed, local copy stands: %v", path, err)
		if localErr != nil {
			return fmt.Errorf("remove %s: remote: %v, local: %w", path, err, localErr)
		}
	}
	return nil
}

func (f *Fallback) Subscribe(ctx context.Context, path string, fn func(value []byte)) (Subscription, error) {
	if f.remote != nil {
		sub, err := f.remote.Subscribe(ctx, path, fn)
		if err == nil {
			return sub, nil
		}
		log.Printf("[STORE] Remote subscribe to %s failed, listening locally: %v", path, err)
	}
	return f.local.Subscribe(ctx, path, fn)
}
