package atom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeOf(r *Registry, a AnyAtom) *node {
	d := a.atomDesc()
	key := any(d)
	if d.serial != nil {
		key = d.serial.Key
	}
	return r.nodes[key]
}

func TestDerivedRead(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(2)
	b := Map(a.Atom, func(x int) int { return x + 1 })

	assert.Equal(t, 3, Get(r, b))

	var seen []int
	unsub := Subscribe(r, b, func(v int) {
		seen = append(seen, v)
	}, SubscribeOptions{Immediate: true})
	defer unsub()

	Set(r, a, 4)
	assert.Equal(t, 5, Get(r, b))
	assert.Equal(t, []int{3, 5}, seen)
}

func TestDependencyPrecision(t *testing.T) {
	r, _, _ := newTestRegistry()

	flag := State(true)
	a := State(1)
	b := State(2)
	c := Readable(func(ctx *Ctx) int {
		if Read(ctx, flag.Atom) {
			return Read(ctx, a.Atom)
		}
		return Read(ctx, b.Atom)
	})

	assert.Equal(t, 1, Get(r, c))

	cn := nodeOf(r, c)
	require.NotNil(t, cn)
	assert.Len(t, cn.parents, 2)
	assert.Contains(t, cn.parents, nodeOf(r, flag))
	assert.Contains(t, cn.parents, nodeOf(r, a))
	for _, p := range cn.parents {
		assert.Contains(t, p.children, cn)
	}

	Set(r, flag, false)
	assert.Equal(t, 2, Get(r, c))

	assert.Len(t, cn.parents, 2)
	assert.Contains(t, cn.parents, nodeOf(r, b))
	assert.NotContains(t, cn.parents, nodeOf(r, a))
	assert.NotContains(t, nodeOf(r, a).children, cn)
	assert.Empty(t, cn.previousParents)
}

func TestNoOpOnEqualValue(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	recomputes := 0
	b := Readable(func(ctx *Ctx) int {
		recomputes++
		return Read(ctx, a.Atom) * 0
	})
	c := Map(b, func(x int) int { return x + 1 })

	notifications := 0
	unsub := Subscribe(r, c, func(int) { notifications++ })
	defer unsub()

	assert.Equal(t, 1, Get(r, c))
	require.Equal(t, 1, recomputes)

	Set(r, a, 2)
	// b recomputed but its value did not change, so c is untouched
	assert.Equal(t, 2, recomputes)
	assert.Equal(t, 1, Get(r, c))
	assert.Zero(t, notifications)
}

func TestLazySuppression(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	recomputes := 0
	b := Map(a.Atom, func(x int) int {
		recomputes++
		return x * 2
	})

	assert.Equal(t, 2, Get(r, b))
	assert.Equal(t, 1, recomputes)

	Set(r, a, 5)
	// no listeners, no active descendants: nothing recomputed yet
	assert.Equal(t, 1, recomputes)

	assert.Equal(t, 10, Get(r, b))
	assert.Equal(t, 2, recomputes)
}

func TestEagerReevaluation(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	recomputes := 0
	b := SetLazy(Map(a.Atom, func(x int) int {
		recomputes++
		return x * 2
	}), false)

	Get(r, b)
	assert.Equal(t, 1, recomputes)

	Set(r, a, 5)
	assert.Equal(t, 2, recomputes)
}

func TestModifyUpdate(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(10)

	ret := Modify(r, a, func(v int) (string, int) {
		return "was 10", v + 1
	})
	assert.Equal(t, "was 10", ret)
	assert.Equal(t, 11, Get(r, a.Atom))

	Update(r, a, func(v int) int { return v * 2 })
	assert.Equal(t, 22, Get(r, a.Atom))
}

func TestRefresh(t *testing.T) {
	t.Run("default invalidates the atom", func(t *testing.T) {
		r, _, _ := newTestRegistry()

		reads := 0
		a := Readable(func(*Ctx) int {
			reads++
			return reads
		})

		unsub := Subscribe(r, a, func(int) {})
		defer unsub()

		assert.Equal(t, 1, Get(r, a))
		r.Refresh(a)
		assert.Equal(t, 2, Get(r, a))
	})

	t.Run("custom hook widens invalidation", func(t *testing.T) {
		r, _, _ := newTestRegistry()

		reads := 0
		base := Readable(func(*Ctx) int {
			reads++
			return reads
		})
		wrapper := Readable(func(ctx *Ctx) int {
			return ReadOnce(ctx, base)
		}, func(refresh func(AnyAtom)) {
			refresh(base)
		})

		Mount(r, base)
		assert.Equal(t, 1, Get(r, wrapper))

		r.Refresh(wrapper)
		assert.Equal(t, 2, reads)
	})
}

func TestRemovalAfterUnsubscribe(t *testing.T) {
	r, sched, _ := newTestRegistry()

	a := State(1)
	unsub := Subscribe(r, a.Atom, func(int) {})

	require.NotNil(t, nodeOf(r, a))

	unsub()
	// removal happens on the next deferred tick, not inline
	require.NotNil(t, nodeOf(r, a))

	sched.flush()
	assert.Nil(t, nodeOf(r, a))
}

func TestKeepAliveSurvivesUnsubscribe(t *testing.T) {
	r, sched, _ := newTestRegistry()

	a := KeepAlive(State(1).Atom)
	unsub := Subscribe(r, a, func(int) {})
	unsub()
	sched.flush()

	assert.NotNil(t, nodeOf(r, a))
}

func TestParentRemovalCascades(t *testing.T) {
	r, sched, _ := newTestRegistry()

	a := State(1)
	b := Map(a.Atom, func(x int) int { return x + 1 })

	unsub := Subscribe(r, b, func(int) {})
	require.NotNil(t, nodeOf(r, a))

	unsub()
	sched.flush()

	assert.Nil(t, nodeOf(r, b))
	assert.Nil(t, nodeOf(r, a))
}

func TestCyclicReadPanics(t *testing.T) {
	r, _, _ := newTestRegistry()

	var a Atom[int]
	a = Readable(func(ctx *Ctx) int {
		return Read(ctx, a)
	})

	assert.PanicsWithValue(t, ErrCyclicRead, func() {
		Get(r, a)
	})
}

func TestReadPanicKeepsNodeStale(t *testing.T) {
	r, _, _ := newTestRegistry()

	fail := true
	a := Readable(func(*Ctx) int {
		if fail {
			panic("boom")
		}
		return 42
	})

	assert.Panics(t, func() { Get(r, a) })

	fail = false
	assert.Equal(t, 42, Get(r, a))
}

func TestDisposedRegistry(t *testing.T) {
	r, _, _ := newTestRegistry()
	a := State(1)

	r.Dispose()

	assert.PanicsWithValue(t, ErrRegistryDisposed, func() { Get(r, a.Atom) })
	assert.PanicsWithValue(t, ErrRegistryDisposed, func() { Set(r, a, 2) })
	assert.PanicsWithValue(t, ErrRegistryDisposed, func() { Subscribe(r, a.Atom, func(int) {}) })

	// double dispose is fine
	r.Dispose()
}

func TestInitialValues(t *testing.T) {
	r, _, _ := newTestRegistry()
	a := State(1)

	r2 := New(WithInitialValues(Init(a.Atom, 99)))
	assert.Equal(t, 99, Get(r2, a.Atom))

	// untouched registries still read the atom's own value
	assert.Equal(t, 1, Get(r, a.Atom))
}

func TestWriteOnNonWritableIsNoOp(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := Constant(1)
	assert.NotPanics(t, func() {
		unlock := r.lock()
		r.setAny(a.atomDesc(), 2)
		unlock()
	})
	assert.Equal(t, 1, Get(r, a))
}

func TestListenerOrderIsFIFO(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := State(1)
	var order []string
	u1 := Subscribe(r, a.Atom, func(int) { order = append(order, "first") })
	u2 := Subscribe(r, a.Atom, func(int) { order = append(order, "second") })
	defer u1()
	defer u2()

	Set(r, a, 2)
	assert.Equal(t, []string{"first", "second"}, order)
}
