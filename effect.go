package atom

import (
	"context"

	"github.com/pkg/errors"

	"github.com/AnatoleLucet/atom/result"
)

// runEffect invokes fn on the calling goroutine, converting panics into
// failures so an effect never crashes the process.
func runEffect[A any](fn func() (A, error)) (v A, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
				return
			}
			err = errors.Errorf("effect panicked: %v", rec)
		}
	}()
	return fn()
}

// deliver applies a value transition produced on an effect goroutine. The
// transition is dropped when the lifetime it belongs to was disposed in the
// meantime, so a cancelled run never clobbers its successor.
func (r *Registry) deliver(lt *lifetime, apply func()) {
	unlock := r.lock()
	defer unlock()
	if r.disposed || lt.disposed {
		return
	}
	r.tasks.push(taskDeliver, apply)
	r.tasks.drain()
}

// MakeOption configures effect- and stream-backed atoms.
type MakeOption[A any] func(*makeOpts[A])

type makeOpts[A any] struct {
	initial *A
}

// WithInitialValue seeds the atom with a success before the first run
// completes.
func WithInitialValue[A any](v A) MakeOption[A] {
	return func(o *makeOpts[A]) { o.initial = &v }
}

func applyMakeOpts[A any](opts []MakeOption[A]) makeOpts[A] {
	var o makeOpts[A]
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// previousOf reads the node's previous result, falling back to a seeded
// initial success.
func previousOf[A any](ctx *Ctx, initial *A) *result.Result[A] {
	if v, ok := ctx.Self(); ok {
		r := as[result.Result[A]](v)
		return &r
	}
	if initial != nil {
		s := result.Success(*initial)
		return &s
	}
	return nil
}

// MakeEffect creates an atom backed by an asynchronous computation. Each
// evaluation runs fn on its own goroutine with a context cancelled when the
// lifetime is disposed; the exit is folded into the node as an AsyncResult,
// carrying the previous success through failures and interruptions.
func MakeEffect[A any](fn func(ctx *Ctx, c context.Context) (A, error), opts ...MakeOption[A]) Atom[result.Result[A]] {
	o := applyMakeOpts(opts)

	return Readable(func(ctx *Ctx) result.Result[A] {
		prev := previousOf(ctx, o.initial)

		cc, cancel := context.WithCancel(context.Background())
		ctx.AddFinalizer(cancel)

		lt := ctx.lt
		n := ctx.node
		go func() {
			v, err := runEffect(func() (A, error) { return fn(ctx, cc) })
			n.reg.deliver(lt, func() {
				n.setValue(result.FromExitWithPrevious(v, err, prev))
			})
		}()

		return result.WaitingFrom(prev)
	})
}

// MakeStream creates an atom driven by a stream of values. Every emit
// stores a waiting success; a clean close settles the last value, a close
// without any emission fails with ErrNoElement.
func MakeStream[A any](fn func(ctx *Ctx, c context.Context, emit func(A) error) error, opts ...MakeOption[A]) Atom[result.Result[A]] {
	o := applyMakeOpts(opts)

	return Readable(func(ctx *Ctx) result.Result[A] {
		prev := previousOf(ctx, o.initial)

		cc, cancel := context.WithCancel(context.Background())
		ctx.AddFinalizer(cancel)

		lt := ctx.lt
		n := ctx.node
		go func() {
			var last A
			emitted := false

			_, err := runEffect(func() (struct{}, error) {
				return struct{}{}, fn(ctx, cc, func(v A) error {
					select {
					case <-cc.Done():
						return cc.Err()
					case <-lt.done:
						return context.Canceled
					default:
					}
					last = v
					emitted = true
					n.reg.deliver(lt, func() {
						n.setValue(result.Success(v, result.WithWaiting[A](true)))
					})
					return nil
				})
			})

			n.reg.deliver(lt, func() {
				cur := prev
				if n.flags.has(flagInitialized) {
					c := as[result.Result[A]](n.value)
					cur = &c
				}
				switch {
				case err != nil:
					n.setValue(result.FromExitWithPrevious(last, err, cur))
				case emitted:
					n.setValue(result.Success(last))
				default:
					n.setValue(result.FromExitWithPrevious(last, ErrNoElement, cur))
				}
			})
		}()

		return result.WaitingFrom(prev)
	})
}

// FromChannel creates an atom fed by an external channel, starting at
// initial. The feed stops when the channel closes or the node's lifetime is
// disposed.
func FromChannel[A any](initial A, ch <-chan A) Atom[A] {
	return Readable(func(ctx *Ctx) A {
		lt := ctx.lt
		n := ctx.node
		go func() {
			for {
				select {
				case <-lt.done:
					return
				case v, ok := <-ch:
					if !ok {
						return
					}
					n.reg.deliver(lt, func() {
						n.setValue(v)
					})
				}
			}
		}()
		return initial
	})
}
