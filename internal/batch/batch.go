// Package batch runs independent lookups with a ceiling on how many are in flight.
package batch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Result is the outcome of one lookup.
type Result[V any] struct {
	Value V
	Err   error
}

// Observer is told when a lookup starts and finishes. Optional.
type Observer interface {
	LookupStarted()
	LookupFinished(err error)
}

// QueryAll runs fn once per key, never more than limit at a time, and returns one
// result per distinct key. A failing or panicking lookup never affects the others.
// If ctx ends before a lookup is admitted, that key's result carries ctx.Err().
func QueryAll[K comparable, V any](ctx context.Context, keys []K, limit int, fn func(context.Context, K) (V, error), obs Observer) map[K]Result[V] {
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[K]Result[V], len(keys))
	)
	record := func(k K, r Result[V]) {
		mu.Lock()
		out[k] = r
		mu.Unlock()
	}

	seen := make(map[K]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true

		wg.Add(1)
		go func(k K) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				record(k, Result[V]{Err: err})
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				record(k, Result[V]{Err: err})
				return
			}
			defer sem.Release(1)

			v, err := call(ctx, k, fn, obs)
			record(k, Result[V]{Value: v, Err: err})
		}(k)
	}
	wg.Wait()
	return out
}

func call[K comparable, V any](ctx context.Context, k K, fn func(context.Context, K) (V, error), obs Observer) (v V, err error) {
	if obs != nil {
		obs.LookupStarted()
		defer func() { obs.LookupFinished(err) }()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lookup %v panicked: %v", k, r)
		}
	}()
	return fn(ctx, k)
}
