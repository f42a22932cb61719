package atom

import "slices"

// batchState tracks the collect phase of a batch. While collecting,
// setValue and invalidate append to the stale and notify sets instead of
// notifying listeners immediately; the outermost batch rebuilds stale nodes
// parents-first and then drains notifications once.
type batchState struct {
	depth  int
	stale  []*node
	notify []*node
}

func (b *batchState) collecting() bool { return b.depth > 0 }

func (b *batchState) addStale(n *node) {
	if !slices.Contains(b.stale, n) {
		b.stale = append(b.stale, n)
	}
}

func (b *batchState) addNotify(n *node) {
	if !slices.Contains(b.notify, n) {
		b.notify = append(b.notify, n)
	}
}

// Batch runs fn collecting invalidations and notifications; the outermost
// batch commits. A panic inside fn resets the collect phase cleanly and
// propagates.
func (r *Registry) Batch(fn func()) {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()

	r.batch.depth++

	panicked := true
	func() {
		defer func() {
			if !panicked {
				return
			}
			r.batch.depth--
			if r.batch.depth == 0 {
				r.batch.stale = nil
				r.batch.notify = nil
			}
		}()
		fn()
		panicked = false
	}()

	if r.batch.depth > 1 {
		r.batch.depth--
		return
	}

	// rebuild while still collecting so cascading invalidations and
	// notifications keep accumulating
	guard := 0
	for len(r.batch.stale) > 0 {
		guard++
		if guard > 1e5 {
			panic("atom: possible infinite batch loop detected")
		}
		stale := r.batch.stale
		r.batch.stale = nil
		for _, n := range stale {
			r.rebuildNode(n)
		}
	}

	notify := r.batch.notify
	r.batch.notify = nil
	r.batch.depth--

	// commit phase
	for _, n := range notify {
		if n.removed() {
			continue
		}
		for _, l := range slices.Clone(n.listeners) {
			l.fn(n.value)
		}
	}
}

// rebuildNode recomputes a stale node after its stale parents.
func (r *Registry) rebuildNode(n *node) {
	if n.removed() || !n.flags.has(flagWaitingForValue) || !n.flags.has(flagInitialized) {
		return
	}
	for _, p := range slices.Clone(n.parents) {
		r.rebuildNode(p)
	}
	if !n.flags.has(flagWaitingForValue) {
		// a parent's rebuild already pulled this node
		return
	}
	if !n.d.eager && len(n.listeners) == 0 && !n.hasActiveDescendant() {
		n.skipInvalidation = true
		n.invalidateChildren()
		return
	}
	n.valueAny()
}
