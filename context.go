package atom

import (
	"context"

	"github.com/AnatoleLucet/atom/result"
)

// lifetime is the per-evaluation finalizer bag of a node. It is disposed on
// re-evaluation, invalidation, or node removal; finalizers run LIFO.
type lifetime struct {
	node       *node
	finalizers []func()
	disposed   bool

	done chan struct{}
}

func newLifetime(n *node) *lifetime {
	return &lifetime{node: n, done: make(chan struct{})}
}

func (lt *lifetime) addFinalizer(fn func()) {
	if lt.disposed {
		panic(ErrContextDisposed)
	}
	lt.finalizers = append(lt.finalizers, fn)
}

func (lt *lifetime) dispose() {
	if lt.disposed {
		return
	}
	lt.disposed = true
	close(lt.done)

	for i := len(lt.finalizers) - 1; i >= 0; i-- {
		lt.finalizers[i]()
	}
	lt.finalizers = nil
}

// Ctx is the per-evaluation read context handed to an atom's read function.
// Every tracked read records the consulted atom as a parent of the node
// under evaluation.
//
// Context methods may be called from the evaluating goroutine or from the
// goroutine of an effect bound to the same lifetime; they take the registry
// lock as needed.
type Ctx struct {
	node *node
	lt   *lifetime

	// once disables dependency tracking (fn-shaped atoms are driven
	// imperatively, not by parent invalidation)
	once bool
}

func (c *Ctx) check() {
	if c.lt.disposed {
		panic(ErrContextDisposed)
	}
}

// Registry returns the owning registry.
func (c *Ctx) Registry() *Registry {
	return c.node.reg
}

// AddFinalizer registers a teardown callback on the current lifetime.
// Finalizers run LIFO on invalidation or removal.
func (c *Ctx) AddFinalizer(fn func()) {
	unlock := c.node.reg.lock()
	defer unlock()
	c.check()
	c.lt.addFinalizer(fn)
}

// Done is closed when the current lifetime is disposed.
func (c *Ctx) Done() <-chan struct{} {
	return c.lt.done
}

func (c *Ctx) getAny(a AnyAtom, tracked bool) any {
	unlock := c.node.reg.lock()
	defer unlock()
	c.check()
	p := c.node.reg.ensureNode(a.atomDesc())
	v := p.valueAny()
	if tracked && !c.once {
		c.node.addParent(p)
	}
	return v
}

// SetSelf stores a value on the node under evaluation.
func (c *Ctx) SetSelf(v any) {
	unlock := c.node.reg.lock()
	defer unlock()
	c.check()
	c.node.setValue(v)
}

// RefreshSelf invalidates the node under evaluation.
func (c *Ctx) RefreshSelf() {
	unlock := c.node.reg.lock()
	defer unlock()
	c.check()
	c.node.reg.invalidateNode(c.node)
}

// Refresh refreshes another atom.
func (c *Ctx) Refresh(a AnyAtom) {
	unlock := c.node.reg.lock()
	defer unlock()
	c.check()
	c.node.reg.refreshAny(a)
}

// Self returns the node's previous value, if initialized.
func (c *Ctx) Self() (any, bool) {
	unlock := c.node.reg.lock()
	defer unlock()
	c.check()
	if !c.node.flags.has(flagInitialized) {
		return nil, false
	}
	return c.node.value, true
}

// Read returns a's current value and records it as a dependency.
func Read[A any](c *Ctx, a Atom[A]) A {
	return as[A](c.getAny(a, true))
}

// ReadOnce returns a's current value without subscribing.
func ReadOnce[A any](c *Ctx, a Atom[A]) A {
	return as[A](c.getAny(a, false))
}

// Write writes a value to another writable atom.
func Write[A, W any](c *Ctx, a Writable[A, W], value W) {
	unlock := c.node.reg.lock()
	defer unlock()
	c.check()
	c.node.reg.setAny(a.atomDesc(), value)
}

// SelfOf returns the previous value of the node under evaluation.
func SelfOf[A any](c *Ctx) (A, bool) {
	v, ok := c.Self()
	if !ok {
		var zero A
		return zero, false
	}
	return as[A](v), true
}

// Await reads a result atom as a dependency and blocks until it is neither
// initial nor waiting, then folds it to an exit. The wait is released by
// cc's cancellation or the lifetime's disposal.
func Await[A any](c *Ctx, cc context.Context, a Atom[result.Result[A]]) (A, error) {
	return await(c, cc, a, true, func(r result.Result[A]) bool { return r.IsNotInitial() && !r.IsWaiting() })
}

// AwaitOnce is Await without dependency tracking.
func AwaitOnce[A any](c *Ctx, cc context.Context, a Atom[result.Result[A]]) (A, error) {
	return await(c, cc, a, false, func(r result.Result[A]) bool { return r.IsNotInitial() && !r.IsWaiting() })
}

// AwaitValue blocks until the atom holds a settled success, skipping over
// failures.
func AwaitValue[A any](c *Ctx, cc context.Context, a Atom[result.Result[A]]) (A, error) {
	return await(c, cc, a, true, func(r result.Result[A]) bool { return r.IsSuccess() && !r.IsWaiting() })
}

// AwaitValueOnce is AwaitValue without dependency tracking.
func AwaitValueOnce[A any](c *Ctx, cc context.Context, a Atom[result.Result[A]]) (A, error) {
	return await(c, cc, a, false, func(r result.Result[A]) bool { return r.IsSuccess() && !r.IsWaiting() })
}

func await[A any](c *Ctx, cc context.Context, a Atom[result.Result[A]], tracked bool, ready func(result.Result[A]) bool) (A, error) {
	reg := c.node.reg

	// a goroutine evaluating the graph cannot park on it
	canBlock := !reg.holding()

	var (
		n *node
		l *listener
	)
	ch := make(chan result.Result[A], 1)

	r := func() result.Result[A] {
		unlock := reg.lock()
		defer unlock()
		c.check()
		n = reg.ensureNode(a.atomDesc())
		rv := as[result.Result[A]](n.valueAny())
		if tracked && !c.once {
			c.node.addParent(n)
		}
		if !ready(rv) && canBlock {
			l = n.addListener(func(v any) {
				latest := as[result.Result[A]](v)
				if !ready(latest) {
					return
				}
				select {
				case ch <- latest:
				default:
				}
			})
		}
		return rv
	}()
	if l == nil {
		return r.ToExit()
	}

	remove := func() {
		unlock := reg.lock()
		n.removeListener(l)
		unlock()
	}

	select {
	case rv := <-ch:
		remove()
		return rv.ToExit()
	case <-cc.Done():
		remove()
		var zero A
		return zero, cc.Err()
	case <-c.lt.done:
		remove()
		var zero A
		return zero, context.Canceled
	}
}

// Changes subscribes to a and streams every subsequent value into the
// returned channel until the lifetime is disposed or cc is cancelled.
// Slow consumers observe the latest values only.
func Changes[A any](c *Ctx, cc context.Context, a Atom[A]) <-chan A {
	reg := c.node.reg
	ch := make(chan A, 16)

	var (
		n *node
		l *listener
	)
	func() {
		unlock := reg.lock()
		defer unlock()
		c.check()
		n = reg.ensureNode(a.atomDesc())
		if !c.once {
			c.node.addParent(n)
		}
		l = n.addListener(func(v any) {
			for {
				select {
				case ch <- as[A](v):
					return
				default:
				}
				// buffer full: drop the oldest value to make room
				select {
				case <-ch:
				default:
				}
			}
		})
	}()
	lt := c.lt

	go func() {
		select {
		case <-lt.done:
		case <-cc.Done():
		}
		unlock := reg.lock()
		n.removeListener(l)
		unlock()
		close(ch)
	}()

	return ch
}

// ChangesResult is Changes for result atoms.
func ChangesResult[A any](c *Ctx, cc context.Context, a Atom[result.Result[A]]) <-chan result.Result[A] {
	return Changes(c, cc, a)
}

// WriteCtx is handed to an atom's write function. Writes always run with
// the registry lock held.
type WriteCtx struct {
	reg  *Registry
	node *node
}

// Get reads another atom's current value without tracking.
func (c *WriteCtx) Get(a AnyAtom) any {
	return c.reg.ensureNode(a.atomDesc()).valueAny()
}

// GetOf is Get with a typed handle.
func GetOf[A any](c *WriteCtx, a Atom[A]) A {
	return as[A](c.Get(a))
}

// SetSelf stores a value on the written node.
func (c *WriteCtx) SetSelf(v any) {
	c.node.setValue(v)
}

// SetOn writes another writable atom.
func SetOn[A, W any](c *WriteCtx, a Writable[A, W], value W) {
	c.reg.setAny(a.atomDesc(), value)
}

// RefreshSelf invalidates the written node.
func (c *WriteCtx) RefreshSelf() {
	c.reg.invalidateNode(c.node)
}
