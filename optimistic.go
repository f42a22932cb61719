package atom

import (
	"context"

	"github.com/AnatoleLucet/atom/result"
)

type optimisticState[A any] struct {
	inFlight       int
	refreshPending bool
	unsubs         []func()
}

// Optimistic wraps a result atom in a writable whose write input is another
// atom describing a transition (typically an effectful mutation). While a
// transition is in flight its values are forwarded into the node and base
// updates are ignored; on completion the node reverts to the base, after
// refreshing it once if any transition in the burst succeeded.
func Optimistic[A any](base Atom[result.Result[A]]) Writable[result.Result[A], Atom[result.Result[A]]] {
	read := func(ctx *Ctx) any {
		n := ctx.node
		st, _ := n.aux.(*optimisticState[A])
		if st == nil {
			st = &optimisticState[A]{}
			n.aux = st
		}
		// transition observers survive re-evaluation; they die with the node
		ctx.lt.addFinalizer(func() {
			if !n.removed() {
				return
			}
			for _, unsub := range st.unsubs {
				unsub()
			}
			st.unsubs = nil
			n.aux = nil
		})

		v := Read(ctx, base)
		if st.inFlight > 0 {
			// a transition owns the value; keep what it last forwarded
			if cur, ok := ctx.Self(); ok {
				return cur
			}
		}
		return v
	}

	write := func(w *WriteCtx, value any) {
		transition := value.(Atom[result.Result[A]])
		n := w.node
		reg := w.reg
		n.valueAny()

		st, _ := n.aux.(*optimisticState[A])
		if st == nil {
			return
		}
		st.inFlight++

		settled := false
		var unsub func()
		unsub = reg.subscribeAny(transition.atomDesc(), func(v any) {
			r := as[result.Result[A]](v)

			if r.IsInitial() && !r.IsWaiting() {
				return
			}

			if r.IsWaiting() || r.IsInitial() {
				// in-flight optimistic value
				n.setValue(v)
				return
			}

			if settled {
				return
			}
			settled = true

			if r.IsFailure() {
				// surface the failure, then fall back to the base below
				n.setValue(v)
			} else {
				st.refreshPending = true
			}

			st.inFlight--
			if st.inFlight == 0 {
				if st.refreshPending {
					st.refreshPending = false
					reg.refreshAny(base)
				}
				// revert to the base's latest value
				n.setValue(reg.getAny(base.atomDesc()))
			}

			if unsub != nil {
				reg.scheduleTaskAt(taskDeliver, unsub)
			}
		}, SubscribeOptions{Immediate: true})

		st.unsubs = append(st.unsubs, unsub)
	}

	d := &desc{read: read, write: write}
	return Writable[result.Result[A], Atom[result.Result[A]]]{Atom[result.Result[A]]{d}}
}

// OptimisticFn composes a function atom on top of Optimistic: each call
// reduces an optimistic value from the current one, pushes it through a
// hidden transition, then runs fn for the real work.
func OptimisticFn[Arg, A any](
	base Atom[result.Result[A]],
	reducer func(current result.Result[A], arg Arg) A,
	fn func(ctx *Ctx, c context.Context, arg Arg) (A, error),
) FnAtom[Arg, A] {
	optimistic := Optimistic(base)

	return Fn(func(ctx *Ctx, c context.Context, arg Arg) (A, error) {
		current := ReadOnce(ctx, optimistic.Atom)
		guess := reducer(current, arg)

		cell := State(result.Success(guess, result.WithWaiting[A](true)))
		Set(ctx.Registry(), optimistic, cell.Atom)

		v, err := fn(ctx, c, arg)
		Write(ctx, cell, result.FromExit(v, err))
		return v, err
	})
}
