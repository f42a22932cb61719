package atom

import (
	"time"

	"github.com/AnatoleLucet/atom/reactivity"
	"github.com/AnatoleLucet/atom/result"
)

// Map derives an atom by transforming another atom's value.
func Map[A, B any](a Atom[A], f func(A) B) Atom[B] {
	return Readable(func(ctx *Ctx) B {
		return f(Read(ctx, a))
	})
}

// MapResult transforms only the success channel of a result atom.
func MapResult[A, B any](a Atom[result.Result[A]], f func(A) B) Atom[result.Result[B]] {
	return Readable(func(ctx *Ctx) result.Result[B] {
		return result.Map(Read(ctx, a), f)
	})
}

// Transform derives an atom with full access to the read context.
func Transform[A, B any](a Atom[A], f func(ctx *Ctx, value A) B) Atom[B] {
	return Readable(func(ctx *Ctx) B {
		return f(ctx, Read(ctx, a))
	})
}

// KeepAlive returns an atom whose node is never removed for being unused.
func KeepAlive[A any](a Atom[A]) Atom[A] {
	d := cloneDesc(a.d)
	d.keepAlive = true
	return Atom[A]{d}
}

// AutoDispose returns an atom that is not kept alive and has no idle TTL of
// its own. Once its node loses its last subscriber and child it is removed on
// the next deferred tick, or after the registry's default idle TTL when one
// is configured.
func AutoDispose[A any](a Atom[A]) Atom[A] {
	d := cloneDesc(a.d)
	d.keepAlive = false
	d.hasTTL = false
	d.idleTTL = 0
	return Atom[A]{d}
}

// SetLazy controls whether invalidation re-evaluates the atom immediately
// even without listeners. Atoms are lazy by default.
func SetLazy[A any](a Atom[A], lazy bool) Atom[A] {
	d := cloneDesc(a.d)
	d.eager = !lazy
	return Atom[A]{d}
}

// SetIdleTTL keeps an unused node around for d before removal. A negative
// duration means forever (keepAlive).
func SetIdleTTL[A any](a Atom[A], d time.Duration) Atom[A] {
	out := cloneDesc(a.d)
	if d < 0 {
		out.keepAlive = true
		out.hasTTL = false
		out.idleTTL = 0
	} else {
		out.keepAlive = false
		out.hasTTL = true
		out.idleTTL = d
	}
	return Atom[A]{out}
}

// WithLabel attaches a debug label.
func WithLabel[A any](a Atom[A], label string) Atom[A] {
	d := cloneDesc(a.d)
	d.label = label
	return Atom[A]{d}
}

// WithFallback substitutes an Initial result with the fallback atom's value
// marked as waiting.
func WithFallback[A any](a Atom[result.Result[A]], fallback Atom[result.Result[A]]) Atom[result.Result[A]] {
	return Readable(func(ctx *Ctx) result.Result[A] {
		r := Read(ctx, a)
		if !r.IsInitial() {
			return r
		}
		return result.Waiting(Read(ctx, fallback))
	})
}

type debounceState[A any] struct {
	last    A
	lastAt  time.Time
	hasLast bool
	stop    func()
}

// Debounce suppresses value changes closer together than d, emitting the
// trailing value once the window elapses.
func Debounce[A any](a Atom[A], d time.Duration) Atom[A] {
	return Readable(func(ctx *Ctx) A {
		v := Read(ctx, a)

		n := ctx.node
		reg := n.reg

		st, _ := n.aux.(*debounceState[A])
		if st == nil {
			st = &debounceState[A]{}
			n.aux = st
		}

		now := reg.now()
		if !st.hasLast || now.Sub(st.lastAt) >= d {
			st.last = v
			st.lastAt = now
			st.hasLast = true
			if st.stop != nil {
				st.stop()
				st.stop = nil
			}
			return v
		}

		// too soon: hold the previous value and refresh when the window
		// closes
		if st.stop == nil {
			remaining := d - now.Sub(st.lastAt)
			st.stop = reg.afterFunc(remaining, func() {
				unlock := reg.lock()
				defer unlock()
				if reg.disposed || n.removed() {
					return
				}
				st.stop = nil
				n.invalidate()
			})
		}
		return st.last
	})
}

// WithReactivity refreshes the atom whenever one of the keys is
// invalidated on the hub.
func WithReactivity[A any](a Atom[A], hub *reactivity.Hub, keys ...any) Atom[A] {
	return Readable(func(ctx *Ctx) A {
		reg := ctx.Registry()
		unregister := hub.Register(keys, func() {
			reg.Refresh(a)
		})
		ctx.AddFinalizer(unregister)
		return Read(ctx, a)
	})
}

// RefreshOn refreshes the atom whenever the trigger channel fires. The
// watch stops when the channel closes or the node goes away.
func RefreshOn[A any](a Atom[A], trigger <-chan struct{}) Atom[A] {
	return Readable(func(ctx *Ctx) A {
		reg := ctx.Registry()
		done := ctx.Done()
		go func() {
			for {
				select {
				case <-done:
					return
				case _, ok := <-trigger:
					if !ok {
						return
					}
					unlock := reg.lock()
					if !reg.disposed {
						reg.refreshAny(a)
					}
					unlock()
				}
			}
		}()
		return Read(ctx, a)
	})
}
