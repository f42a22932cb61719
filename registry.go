package atom

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"github.com/sirupsen/logrus"
)

// Registry owns the live nodes of a running application. All graph
// mutations happen under its lock; methods called re-entrantly from read
// and write functions or listeners detect the holding goroutine and run
// inline.
type Registry struct {
	mu      sync.Mutex
	lockGID atomic.Int64

	nodes         map[any]*node
	initialValues map[*desc]any
	preloaded     map[string][]byte

	// deferred work (effect exits, removal re-checks)
	tasks          *taskQueue
	tasksScheduled bool
	scheduleTask   func(func())

	// idle TTL bookkeeping
	buckets    map[int64]*ttlBucket
	bucketOf   map[*node]ttlEntry
	resolution time.Duration
	defaultTTL time.Duration

	now       func() time.Time
	afterFunc func(time.Duration, func()) (stop func())

	batch batchState

	disposed bool
	log      logrus.FieldLogger
}

// Option configures a registry.
type Option func(*Registry)

// WithInitialValues seeds atom values consumed before any reads.
func WithInitialValues(values ...InitialValue) Option {
	return func(r *Registry) {
		for _, v := range values {
			r.initialValues[v.atom.atomDesc()] = v.value
		}
	}
}

// InitialValue pairs an atom with its seed value.
type InitialValue struct {
	atom  AnyAtom
	value any
}

// Init builds an InitialValue.
func Init[A any](a Atom[A], value A) InitialValue {
	return InitialValue{atom: a, value: value}
}

// WithScheduleTask overrides the deferred-task primitive. The default runs
// tasks on a fresh goroutine.
func WithScheduleTask(schedule func(func())) Option {
	return func(r *Registry) { r.scheduleTask = schedule }
}

// WithTimeoutResolution sets the idle TTL bucket granularity.
func WithTimeoutResolution(d time.Duration) Option {
	return func(r *Registry) { r.resolution = d }
}

// WithDefaultIdleTTL sets the fallback per-atom idle TTL.
func WithDefaultIdleTTL(d time.Duration) Option {
	return func(r *Registry) { r.defaultTTL = d }
}

// WithNow overrides the time source (tests).
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithAfterFunc overrides the timer primitive (tests).
func WithAfterFunc(after func(time.Duration, func()) func()) Option {
	return func(r *Registry) { r.afterFunc = after }
}

// WithLogger overrides the registry logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) { r.log = l }
}

// New creates a registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		nodes:         make(map[any]*node),
		initialValues: make(map[*desc]any),
		preloaded:     make(map[string][]byte),
		tasks:         newTaskQueue(),
		buckets:       make(map[int64]*ttlBucket),
		bucketOf:      make(map[*node]ttlEntry),
		now:           time.Now,
		log:           log,
	}
	r.scheduleTask = func(fn func()) { go fn() }
	r.afterFunc = func(d time.Duration, fn func()) func() {
		t := time.AfterFunc(d, fn)
		return func() { t.Stop() }
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.resolution <= 0 {
		r.resolution = time.Second
		if r.defaultTTL > 0 {
			r.resolution = r.defaultTTL / 2
		}
	}

	return r
}

// lock acquires the registry lock unless the calling goroutine already
// holds it, in which case the returned unlock is a no-op.
func (r *Registry) lock() (unlock func()) {
	gid := goid.Get()
	if r.lockGID.Load() == gid {
		return func() {}
	}
	r.mu.Lock()
	r.lockGID.Store(gid)
	return func() {
		r.lockGID.Store(0)
		r.mu.Unlock()
	}
}

// holding reports whether the calling goroutine already holds the lock.
func (r *Registry) holding() bool {
	return r.lockGID.Load() == goid.Get()
}

func (r *Registry) checkDisposed() {
	if r.disposed {
		panic(ErrRegistryDisposed)
	}
}

// ensureNode finds or creates the live node of a description. Serializable
// atoms share a node per key; reuse pulls the node out of its TTL bucket.
func (r *Registry) ensureNode(d *desc) *node {
	r.checkDisposed()

	key := any(d)
	if d.serial != nil {
		key = d.serial.Key
	}

	if n, ok := r.nodes[key]; ok && !n.removed() {
		r.unbucketNode(n)
		return n
	}

	n := newNode(r, d, key)
	r.nodes[key] = n

	if v, ok := r.initialValues[d]; ok {
		delete(r.initialValues, d)
		n.setValue(v)
	}
	if d.serial != nil {
		if encoded, ok := r.preloaded[d.serial.Key]; ok {
			delete(r.preloaded, d.serial.Key)
			if v, err := d.serial.Decode(encoded); err == nil {
				n.setValue(v)
			} else {
				r.log.WithError(err).WithField("key", d.serial.Key).Warn("failed to decode preloaded value")
			}
		}
	}

	return n
}

func (r *Registry) getAny(d *desc) any {
	return r.ensureNode(d).valueAny()
}

func (r *Registry) setAny(d *desc, value any) {
	if d.write == nil {
		r.log.WithField("label", d.label).Warn("write on a non-writable atom ignored")
		return
	}
	n := r.ensureNode(d)
	if n.writeCtx == nil {
		n.writeCtx = &WriteCtx{reg: r, node: n}
	}
	d.write(n.writeCtx, value)
}

// Get returns an atom's current value, evaluating it if needed.
func Get[A any](r *Registry, a Atom[A]) A {
	unlock := r.lock()
	defer unlock()
	return as[A](r.getAny(a.atomDesc()))
}

// Set writes a value to a writable atom.
func Set[A, W any](r *Registry, a Writable[A, W], value W) {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()
	r.setAny(a.atomDesc(), value)
}

// Modify reads, transforms, writes, and returns f's first result.
func Modify[A, W, R any](r *Registry, a Writable[A, W], f func(A) (R, W)) R {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()
	ret, next := f(as[A](r.getAny(a.atomDesc())))
	r.setAny(a.atomDesc(), next)
	return ret
}

// Update reads, transforms, and writes back.
func Update[A, W any](r *Registry, a Writable[A, W], f func(A) W) {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()
	r.setAny(a.atomDesc(), f(as[A](r.getAny(a.atomDesc()))))
}

// Refresh invalidates an atom, or runs its custom refresh hook.
func (r *Registry) Refresh(a AnyAtom) {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()
	r.refreshAny(a)
}

func (r *Registry) refreshAny(a AnyAtom) {
	d := a.atomDesc()
	if d.refresh != nil {
		d.refresh(r.refreshDefault)
		return
	}
	r.refreshDefault(a)
}

func (r *Registry) refreshDefault(a AnyAtom) {
	d := a.atomDesc()
	key := any(d)
	if d.serial != nil {
		key = d.serial.Key
	}
	if n, ok := r.nodes[key]; ok && !n.removed() {
		r.invalidateNode(n)
	}
}

func (r *Registry) invalidateNode(n *node) {
	n.invalidate()
}

// SubscribeOptions configures Subscribe.
type SubscribeOptions struct {
	// Immediate invokes the listener with the current value on subscribe.
	Immediate bool
}

// Subscribe registers a listener and returns its unsubscribe function.
func Subscribe[A any](r *Registry, a Atom[A], listener func(A), opts ...SubscribeOptions) (unsubscribe func()) {
	return r.subscribeAny(a.atomDesc(), func(v any) { listener(as[A](v)) }, opts...)
}

func (r *Registry) subscribeAny(d *desc, listener func(any), opts ...SubscribeOptions) func() {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()

	n := r.ensureNode(d)
	if len(opts) > 0 && opts[0].Immediate {
		listener(n.valueAny())
	} else {
		// materialize the value so future changes are observable
		n.valueAny()
	}
	l := n.addListener(listener)

	var once sync.Once
	return func() {
		once.Do(func() {
			unlock := r.lock()
			defer unlock()
			if r.disposed {
				return
			}
			n.removeListener(l)
			if n.canBeRemoved() {
				r.scheduleRemoval(n)
			}
		})
	}
}

// Mount keeps an atom alive until the returned release is called.
func Mount(r *Registry, a AnyAtom) (release func()) {
	return r.subscribeAny(a.atomDesc(), func(any) {}, SubscribeOptions{Immediate: true})
}

// NodeSnapshot describes one live node for debugging.
type NodeSnapshot struct {
	Key      any
	Label    string
	Value    any
	Stale    bool
	Parents  int
	Children int
}

// GetNodes snapshots the live nodes.
func (r *Registry) GetNodes() []NodeSnapshot {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()

	out := make([]NodeSnapshot, 0, len(r.nodes))
	for key, n := range r.nodes {
		out = append(out, NodeSnapshot{
			Key:      key,
			Label:    n.d.label,
			Value:    n.value,
			Stale:    n.flags.has(flagWaitingForValue),
			Parents:  len(n.parents),
			Children: len(n.children),
		})
	}
	return out
}

// scheduleRemoval re-checks a removable node on the deferred task queue.
func (r *Registry) scheduleRemoval(n *node) {
	r.scheduleTaskAt(taskRemoval, func() {
		if !n.canBeRemoved() {
			return
		}
		if ttl, ok := r.ttlOf(n); ok {
			r.bucketNode(n, ttl)
			return
		}
		r.removeNode(n)
	})
}

func (r *Registry) ttlOf(n *node) (time.Duration, bool) {
	if n.d.hasTTL {
		if n.d.idleTTL > 0 {
			return n.d.idleTTL, true
		}
		return 0, false
	}
	if r.defaultTTL > 0 {
		return r.defaultTTL, true
	}
	return 0, false
}

func (r *Registry) removeNode(n *node) {
	if n.removed() {
		return
	}
	n.flags &^= flagAlive

	if current, ok := r.nodes[n.key]; ok && current == n {
		delete(r.nodes, n.key)
	}
	r.unbucketNode(n)
	n.disposeLifetime()

	parents := n.parents
	n.parents = nil
	n.previousParents = nil
	for _, p := range parents {
		p.removeChild(n)
		if p.canBeRemoved() {
			r.scheduleRemoval(p)
		}
	}

	r.log.WithField("label", n.d.label).Trace("node removed")
}

// scheduleTaskAt enqueues deferred work and arranges a drain.
func (r *Registry) scheduleTaskAt(priority int, fn func()) {
	r.tasks.push(priority, fn)
	if r.tasksScheduled {
		return
	}
	r.tasksScheduled = true
	r.scheduleTask(r.drainTasks)
}

func (r *Registry) drainTasks() {
	unlock := r.lock()
	defer unlock()
	if r.disposed {
		r.tasksScheduled = false
		return
	}
	r.tasks.drain()
	r.tasksScheduled = false
}

func (r *Registry) reset() {
	for at, b := range r.buckets {
		b.stop()
		delete(r.buckets, at)
	}
	clear(r.bucketOf)

	for key, n := range r.nodes {
		n.flags &^= flagAlive
		n.disposeLifetime()
		delete(r.nodes, key)
	}
}

// Reset clears all TTL timers and removes every node.
func (r *Registry) Reset() {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()
	r.reset()
}

// Dispose resets the registry and locks out further access.
func (r *Registry) Dispose() {
	unlock := r.lock()
	defer unlock()
	if r.disposed {
		return
	}
	r.reset()
	r.disposed = true
	r.log.Debug("registry disposed")
}

// Disposed reports whether Dispose was called.
func (r *Registry) Disposed() bool {
	unlock := r.lock()
	defer unlock()
	return r.disposed
}
