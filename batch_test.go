package atom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchSingleNotification(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	b := State(2)
	c := Readable(func(ctx *Ctx) int {
		return Read(ctx, a.Atom) + Read(ctx, b.Atom)
	})

	var seen []int
	unsub := Subscribe(r, c, func(v int) { seen = append(seen, v) })
	defer unsub()

	r.Batch(func() {
		Set(r, a, 10)
		Set(r, b, 20)
	})

	assert.Equal(t, []int{30}, seen)
	assert.Equal(t, 30, Get(r, c))
}

func TestBatchGlitchFree(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	bRuns, cRuns, dRuns := 0, 0, 0
	b := Readable(func(ctx *Ctx) int {
		bRuns++
		return Read(ctx, a.Atom) + 1
	})
	c := Readable(func(ctx *Ctx) int {
		cRuns++
		return Read(ctx, a.Atom) + 2
	})
	d := Readable(func(ctx *Ctx) int {
		dRuns++
		return Read(ctx, b) + Read(ctx, c)
	})

	var seen []int
	unsub := Subscribe(r, d, func(v int) { seen = append(seen, v) }, SubscribeOptions{Immediate: true})
	defer unsub()

	require.Equal(t, []int{5}, seen)
	bRuns, cRuns, dRuns = 0, 0, 0

	r.Batch(func() {
		Set(r, a, 10)
	})

	// each node recomputed exactly once, after its parents
	assert.Equal(t, 1, bRuns)
	assert.Equal(t, 1, cRuns)
	assert.Equal(t, 1, dRuns)
	assert.Equal(t, []int{5, 23}, seen)
}

func TestBatchDeferredListeners(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)

	var during []int
	unsub := Subscribe(r, a.Atom, func(v int) { during = append(during, v) })
	defer unsub()

	r.Batch(func() {
		Set(r, a, 2)
		Set(r, a, 3)
		assert.Empty(t, during, "listeners must not fire during collect")
	})

	assert.Equal(t, []int{3}, during)
}

func TestBatchNested(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	notifications := 0
	unsub := Subscribe(r, a.Atom, func(int) { notifications++ })
	defer unsub()

	r.Batch(func() {
		Set(r, a, 2)
		r.Batch(func() {
			Set(r, a, 3)
		})
		// only the outermost batch commits
		assert.Zero(t, notifications)
	})

	assert.Equal(t, 1, notifications)
}

func TestBatchPanicResetsCleanly(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	notifications := 0
	unsub := Subscribe(r, a.Atom, func(int) { notifications++ })
	defer unsub()

	assert.Panics(t, func() {
		r.Batch(func() {
			Set(r, a, 2)
			panic("boom")
		})
	})

	assert.Empty(t, r.batch.stale)
	assert.Empty(t, r.batch.notify)
	assert.Zero(t, r.batch.depth)

	// the registry still works afterwards
	Set(r, a, 5)
	assert.Equal(t, 1, notifications)
	assert.Equal(t, 5, Get(r, a.Atom))
}

func TestBatchUnchangedValueNotifiesNothing(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	b := Map(a.Atom, func(x int) int { return x * 0 })

	notifications := 0
	unsub := Subscribe(r, b, func(int) { notifications++ })
	defer unsub()

	r.Batch(func() {
		Set(r, a, 7)
	})

	assert.Zero(t, notifications)
}
