package atom

import (
	"context"

	"github.com/AnatoleLucet/atom/reactivity"
	"github.com/AnatoleLucet/atom/result"
)

type resetSentinel struct{}
type interruptSentinel struct{}

// Write-control sentinels recognized by fn-backed atoms.
var (
	// Reset puts the atom back to its initial state, cancelling any run in
	// flight.
	Reset any = resetSentinel{}
	// Interrupt cancels the run in flight and surfaces an interrupted
	// failure.
	Interrupt any = interruptSentinel{}
)

// FnOptions configures Fn atoms.
type FnOptions struct {
	// Concurrent allows overlapping runs instead of cancelling the
	// previous one.
	Concurrent bool

	// Reactivity invalidates ReactivityKeys on the hub after every
	// successful run.
	Reactivity     *reactivity.Hub
	ReactivityKeys []any
}

type fnState[Arg, A any] struct {
	ctx    *Ctx
	cancel context.CancelFunc
	epoch  int
}

// FnAtom is a writable result atom driven imperatively: writing an argument
// runs the function, Reset and Interrupt control the run in flight.
type FnAtom[Arg, A any] struct {
	Writable[result.Result[A], any]
}

// Fn creates a function-shaped atom. Reads inside f do not subscribe; the
// atom only moves when written to.
func Fn[Arg, A any](f func(ctx *Ctx, c context.Context, arg Arg) (A, error), opts ...FnOptions) FnAtom[Arg, A] {
	var o FnOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	read := func(ctx *Ctx) any {
		ctx.once = true
		st := &fnState[Arg, A]{ctx: ctx}
		ctx.node.aux = st
		ctx.lt.addFinalizer(func() {
			if st.cancel != nil {
				st.cancel()
				st.cancel = nil
			}
		})
		if v, ok := ctx.Self(); ok {
			return v
		}
		return result.Initial[A]()
	}

	write := func(w *WriteCtx, value any) {
		n := w.node
		n.valueAny()
		st := n.aux.(*fnState[Arg, A])

		switch value.(type) {
		case resetSentinel:
			st.epoch++
			if st.cancel != nil {
				st.cancel()
				st.cancel = nil
			}
			n.setValue(result.Initial[A]())
			return

		case interruptSentinel:
			st.epoch++
			if st.cancel != nil {
				st.cancel()
				st.cancel = nil
			}
			prev := currentResult[A](n)
			var zero A
			n.setValue(result.FromExitWithPrevious(zero, context.Canceled, prev))
			return
		}

		arg := as[Arg](value)
		if !o.Concurrent && st.cancel != nil {
			st.cancel()
		}

		cc, cancel := context.WithCancel(context.Background())
		st.cancel = cancel
		st.epoch++
		epoch := st.epoch

		prev := currentResult[A](n)
		n.setValue(result.WaitingFrom(prev))

		lt := n.lt
		runCtx := st.ctx
		go func() {
			v, err := runEffect(func() (A, error) { return f(runCtx, cc, arg) })
			n.reg.deliver(lt, func() {
				if !o.Concurrent && st.epoch != epoch {
					return // superseded by a newer write
				}
				if st.epoch == epoch {
					st.cancel = nil
				}
				n.setValue(result.FromExitWithPrevious(v, err, prev))
				if err == nil && o.Reactivity != nil {
					o.Reactivity.InvalidateUnsafe(o.ReactivityKeys...)
				}
			})
		}()
	}

	d := &desc{read: read, write: write}
	return FnAtom[Arg, A]{Writable[result.Result[A], any]{Atom[result.Result[A]]{d}}}
}

func currentResult[A any](n *node) *result.Result[A] {
	if !n.flags.has(flagInitialized) {
		return nil
	}
	r := as[result.Result[A]](n.value)
	return &r
}

// Call writes arg and blocks until that run settles.
func Call[Arg, A any](r *Registry, f FnAtom[Arg, A], arg Arg) (A, error) {
	ch := make(chan result.Result[A], 1)

	var unsub func()
	func() {
		unlock := r.lock()
		defer unlock()
		r.checkDisposed()

		r.setAny(f.atomDesc(), arg)
		n := r.ensureNode(f.atomDesc())
		l := n.addListener(func(v any) {
			rv := as[result.Result[A]](v)
			if rv.IsInitial() || rv.IsWaiting() {
				return
			}
			select {
			case ch <- rv:
			default:
			}
		})
		unsub = func() {
			unlock := r.lock()
			defer unlock()
			n.removeListener(l)
		}

		// the run may have completed synchronously
		rv := as[result.Result[A]](n.value)
		if rv.IsNotInitial() && !rv.IsWaiting() {
			select {
			case ch <- rv:
			default:
			}
		}
	}()

	rv := <-ch
	unsub()
	return rv.ToExit()
}

// FnSyncAtom is a synchronous function-shaped atom.
type FnSyncAtom[Arg, A any] struct {
	Writable[A, any]
}

type fnSyncState[Arg, A any] struct {
	ctx *Ctx
}

// FnSync creates a synchronous function atom that holds initial until
// written to with an argument.
func FnSync[Arg, A any](f func(ctx *Ctx, arg Arg) A, initial A) FnSyncAtom[Arg, A] {
	read := func(ctx *Ctx) any {
		ctx.once = true
		ctx.node.aux = &fnSyncState[Arg, A]{ctx: ctx}
		if v, ok := ctx.Self(); ok {
			return v
		}
		return initial
	}

	write := func(w *WriteCtx, value any) {
		n := w.node
		n.valueAny()
		st := n.aux.(*fnSyncState[Arg, A])

		if _, ok := value.(resetSentinel); ok {
			n.setValue(initial)
			return
		}
		n.setValue(f(st.ctx, as[Arg](value)))
	}

	d := &desc{read: read, write: write}
	return FnSyncAtom[Arg, A]{Writable[A, any]{Atom[A]{d}}}
}
