package atom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializableSharesNodeByKey(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := Serializable(Constant(1), "shared")
	b := Serializable(Constant(2), "shared")

	assert.Equal(t, 1, Get(r, a))
	// same key, same node: b never evaluates its own read
	assert.Equal(t, 1, Get(r, b))
	assert.Same(t, nodeOf(r, a), nodeOf(r, b))
}

func TestSetSerializableStagesValue(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := Serializable(Constant(1), "count")
	r.SetSerializable("count", []byte("42"))

	assert.Equal(t, 42, Get(r, a))
}

func TestSetSerializableBadPayloadFallsBack(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := Serializable(Constant(1), "count")
	r.SetSerializable("count", []byte("not json"))

	assert.Equal(t, 1, Get(r, a))
}

func TestDehydrateHydrateRoundTrip(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := SerializableW(State(7), "counter")
	Set(r, a, 9)

	entries := Dehydrate(r)
	require.Len(t, entries, 1)
	assert.Equal(t, "counter", entries[0].Key)
	assert.JSONEq(t, "9", string(entries[0].Value))
	assert.NotZero(t, entries[0].DehydratedAt)

	r2, _, _ := newTestRegistry()
	Hydrate(r2, entries)
	assert.Equal(t, 9, Get(r2, a.Atom))
}

func TestHydrateOverwritesLiveNode(t *testing.T) {
	r, _, _ := newTestRegistry()

	a := Serializable(Constant(1), "live")
	require.Equal(t, 1, Get(r, a))

	Hydrate(r, []DehydratedEntry{{Key: "live", Value: []byte("5")}})
	assert.Equal(t, 5, Get(r, a))
}

func TestDehydrateCapturesFirstResult(t *testing.T) {
	r, _, _ := newTestRegistry()

	release := make(chan struct{})
	e := WithServerValue(MakeEffect(func(ctx *Ctx, c context.Context) (int, error) {
		<-release
		return 3, nil
	}), "deferred")

	Mount(r, e)

	entries := Dehydrate(r, DehydrateOptions{CaptureResults: true})
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ResultChan, "initial results capture their first settled value")

	close(release)
	encoded := <-entries[0].ResultChan
	assert.JSONEq(t, "3", string(encoded))
}

func TestWithServerValueHydration(t *testing.T) {
	r, _, _ := newTestRegistry()

	block := make(chan struct{})
	defer close(block)
	e := WithServerValue(MakeEffect(func(ctx *Ctx, c context.Context) (int, error) {
		<-block
		return 0, nil
	}), "user")

	r.SetSerializable("user", []byte("77"))

	v := Get(r, e)
	require.True(t, v.IsSuccess())
	got, _ := v.Value()
	assert.Equal(t, 77, got, "the staged server value decodes into a success")
}

func TestWithServerValueInitial(t *testing.T) {
	r, _, _ := newTestRegistry()

	block := make(chan struct{})
	defer close(block)
	e := WithServerValueInitial(MakeEffect(func(ctx *Ctx, c context.Context) (int, error) {
		<-block
		return 0, nil
	}), "page", 12)

	v := Get(r, e)
	got, ok := v.Value()
	assert.True(t, ok)
	assert.Equal(t, 12, got)
}
