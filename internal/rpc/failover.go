package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Failover executes calls against an ordered set of providers, sticking with
// the last provider that worked and rotating to the next on failure. Errors
// from the chain node are treated as transient; the caller decides whether
// to retry the whole operation.
type Failover[T any] struct {
	name      string
	providers []T

	mu      sync.Mutex
	current int
}

func NewFailover[T any](name string, providers []T) (*Failover[T], error) {
	if len(providers) == 0 {
		return nil, errors.New("failover: at least one provider required")
	}
	return &Failover[T]{name: name, providers: providers}, nil
}

// Execute runs fn against the current provider, falling through the
// remaining providers on error. The provider that succeeds becomes the
// preferred one for the next call.
func (f *Failover[T]) Execute(ctx context.Context, fn func(T) error) error {
	f.mu.Lock()
	start := f.current
	f.mu.Unlock()

	var lastErr error
	for i := 0; i < len(f.providers); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := (start + i) % len(f.providers)
		if err := fn(f.providers[idx]); err != nil {
			lastErr = err
			continue
		}

		f.mu.Lock()
		f.current = idx
		f.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%s: all %d providers failed: %w", f.name, len(f.providers), lastErr)
}
