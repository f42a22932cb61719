package atom

import (
	"context"

	"github.com/AnatoleLucet/atom/result"
)

// PullChunk is the visible state of a pull atom: the items accumulated so
// far, and whether the underlying stream is exhausted.
type PullChunk[A any] struct {
	Done  bool
	Items []A
}

// PullOptions configures Pull atoms.
type PullOptions struct {
	// DisableAccumulation keeps only the latest pulled item instead of the
	// whole history.
	DisableAccumulation bool
}

type pullState[A any] struct {
	demand chan struct{}
}

// Pull creates a writable atom that pulls one value from the stream per
// write. The first value is pulled on the initial read; each subsequent
// write requests the next one. Exhaustion settles the chunk with Done, or
// fails with ErrNoElement when nothing was ever emitted.
func Pull[A any](fn func(ctx *Ctx, c context.Context, emit func(A) error) error, opts ...PullOptions) Writable[result.Result[PullChunk[A]], any] {
	var o PullOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	read := func(ctx *Ctx) any {
		st := &pullState[A]{demand: make(chan struct{}, 64)}
		ctx.node.aux = st
		// initial pull
		st.demand <- struct{}{}

		cc, cancel := context.WithCancel(context.Background())
		ctx.lt.addFinalizer(cancel)

		lt := ctx.lt
		n := ctx.node
		go func() {
			var items []A
			emitted := false

			_, err := runEffect(func() (struct{}, error) {
				return struct{}{}, fn(ctx, cc, func(v A) error {
					select {
					case <-cc.Done():
						return cc.Err()
					case <-lt.done:
						return context.Canceled
					case <-st.demand:
					}

					if o.DisableAccumulation {
						items = []A{v}
					} else {
						items = append(items, v)
					}
					emitted = true

					snapshot := PullChunk[A]{Items: append([]A(nil), items...)}
					n.reg.deliver(lt, func() {
						n.setValue(result.Success(snapshot))
					})
					return nil
				})
			})

			n.reg.deliver(lt, func() {
				cur := currentResult[PullChunk[A]](n)
				switch {
				case err != nil:
					var zero PullChunk[A]
					n.setValue(result.FromExitWithPrevious(zero, err, cur))
				case emitted:
					n.setValue(result.Success(PullChunk[A]{Done: true, Items: append([]A(nil), items...)}))
				default:
					var zero PullChunk[A]
					n.setValue(result.FromExitWithPrevious(zero, ErrNoElement, cur))
				}
			})
		}()

		return result.Initial[PullChunk[A]](true)
	}

	// any write requests the next chunk
	write := func(w *WriteCtx, _ any) {
		n := w.node
		n.valueAny()
		st := n.aux.(*pullState[A])

		cur := currentResult[PullChunk[A]](n)
		if cur != nil {
			if chunk, ok := cur.Value(); ok && chunk.Done {
				return // exhausted
			}
		}

		n.setValue(result.WaitingFrom(cur))
		select {
		case st.demand <- struct{}{}:
		default:
		}
	}

	d := &desc{read: read, write: write}
	return Writable[result.Result[PullChunk[A]], any]{Atom[result.Result[PullChunk[A]]]{d}}
}
