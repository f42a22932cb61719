// Package reactivity maps arbitrary keys to handler sets so external
// events (a mutation hitting a backend, a push message) can invalidate the
// atoms that depend on them.
package reactivity

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "reactivity")

type handler struct {
	fn func()
}

// Hub is a keyed pub-sub registry. Keys are hashed (see hash.go); record
// keys of the form map[domain][]id register interest in specific ids and
// invalidate both the ids and the whole domain.
type Hub struct {
	mu       sync.Mutex
	handlers map[string][]*handler
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{handlers: make(map[string][]*handler)}
}

// Register subscribes fn to every key and returns the unregister callback.
func (h *Hub) Register(keys []any, fn func()) (unregister func()) {
	hashes := registerHashes(keys)
	entry := &handler{fn: fn}

	h.mu.Lock()
	for _, hash := range hashes {
		h.handlers[hash] = append(h.handlers[hash], entry)
	}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for _, hash := range hashes {
				set := h.handlers[hash]
				if i := slices.Index(set, entry); i >= 0 {
					set = slices.Delete(set, i, i+1)
				}
				if len(set) == 0 {
					delete(h.handlers, hash)
				} else {
					h.handlers[hash] = set
				}
			}
		})
	}
}

// InvalidateUnsafe immediately invokes every handler registered for one of
// the keys, ignoring any ambient batch.
func (h *Hub) InvalidateUnsafe(keys ...any) {
	hashes := invalidateHashes(keys)

	h.mu.Lock()
	var fire []*handler
	for _, hash := range hashes {
		for _, entry := range h.handlers[hash] {
			if !slices.Contains(fire, entry) {
				fire = append(fire, entry)
			}
		}
	}
	h.mu.Unlock()

	if len(fire) > 0 {
		log.WithField("handlers", len(fire)).Trace("invalidating")
	}
	for _, entry := range fire {
		entry.fn()
	}
}

type batchKey struct{}

type pendingSet struct {
	mu   sync.Mutex
	keys []any
}

func (p *pendingSet) add(keys []any) {
	p.mu.Lock()
	p.keys = append(p.keys, keys...)
	p.mu.Unlock()
}

// Invalidate fires the keys' handlers, or defers them onto the pending set
// installed by WithBatch.
func (h *Hub) Invalidate(ctx context.Context, keys ...any) {
	if ps, ok := ctx.Value(batchKey{}).(*pendingSet); ok {
		ps.add(keys)
		return
	}
	h.InvalidateUnsafe(keys...)
}

// WithBatch defers every Invalidate issued through the derived context
// until fn returns successfully.
func (h *Hub) WithBatch(ctx context.Context, fn func(ctx context.Context) error) error {
	ps := &pendingSet{}
	if err := fn(context.WithValue(ctx, batchKey{}, ps)); err != nil {
		return err
	}
	ps.mu.Lock()
	keys := ps.keys
	ps.keys = nil
	ps.mu.Unlock()
	if len(keys) > 0 {
		h.InvalidateUnsafe(keys...)
	}
	return nil
}

// Exit is a computation's outcome.
type Exit[A any] struct {
	Value A
	Err   error
}

// Mutation runs eff and invalidates the keys on success.
func Mutation[A any](h *Hub, ctx context.Context, keys []any, eff func(context.Context) (A, error)) (A, error) {
	v, err := eff(ctx)
	if err != nil {
		return v, err
	}
	h.Invalidate(ctx, keys...)
	return v, nil
}

// Query runs eff once and again after every invalidation of the keys,
// streaming exits into the returned channel until ctx is cancelled. Re-runs
// coalesce: an invalidation during a run marks it pending instead of
// stacking runs.
func Query[A any](h *Hub, ctx context.Context, keys []any, eff func(context.Context) (A, error)) <-chan Exit[A] {
	ch := make(chan Exit[A], 16)

	var mu sync.Mutex
	running, pending := false, false

	run := func() {
		for {
			v, err := eff(ctx)
			select {
			case ch <- Exit[A]{Value: v, Err: err}:
			case <-ctx.Done():
			}

			mu.Lock()
			if pending && ctx.Err() == nil {
				pending = false
				mu.Unlock()
				continue
			}
			running = false
			mu.Unlock()
			return
		}
	}

	kick := func() {
		mu.Lock()
		if running {
			pending = true
			mu.Unlock()
			return
		}
		running = true
		mu.Unlock()
		go run()
	}

	unregister := h.Register(keys, kick)
	go func() {
		<-ctx.Done()
		unregister()
		close(ch)
	}()

	kick()
	return ch
}

// Stream is Query as an iterator.
func Stream[A any](h *Hub, ctx context.Context, keys []any, eff func(context.Context) (A, error)) iter.Seq[Exit[A]] {
	ch := Query(h, ctx, keys, eff)
	return func(yield func(Exit[A]) bool) {
		for exit := range ch {
			if !yield(exit) {
				return
			}
		}
	}
}
