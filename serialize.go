package atom

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/AnatoleLucet/atom/result"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Serial is the serialization facet of an atom: a stable string key and an
// encode/decode pair. Two atoms sharing a key share a live node.
type Serial struct {
	Key    string
	Encode func(v any) ([]byte, error)
	Decode func(encoded []byte) (any, error)
}

func jsonSerial[A any](key string) *Serial {
	return &Serial{
		Key: key,
		Encode: func(v any) ([]byte, error) {
			return json.Marshal(v)
		},
		Decode: func(encoded []byte) (any, error) {
			var v A
			if err := json.Unmarshal(encoded, &v); err != nil {
				return nil, errors.Wrapf(err, "decode serializable atom %q", key)
			}
			return v, nil
		},
	}
}

// Serializable attaches a JSON serialization facet under key.
func Serializable[A any](a Atom[A], key string) Atom[A] {
	d := cloneDesc(a.d)
	d.serial = jsonSerial[A](key)
	return Atom[A]{d}
}

// SerializableWith attaches a custom codec under key.
func SerializableWith[A any](a Atom[A], key string, encode func(A) ([]byte, error), decode func([]byte) (A, error)) Atom[A] {
	d := cloneDesc(a.d)
	d.serial = &Serial{
		Key:    key,
		Encode: func(v any) ([]byte, error) { return encode(as[A](v)) },
		Decode: func(encoded []byte) (any, error) { return decode(encoded) },
	}
	return Atom[A]{d}
}

// SerializableW is Serializable for writable atoms.
func SerializableW[A, W any](a Writable[A, W], key string) Writable[A, W] {
	d := cloneDesc(a.d)
	d.serial = jsonSerial[A](key)
	return Writable[A, W]{Atom[A]{d}}
}

// WithServerValue makes a result atom hydratable under key: only settled
// successes are encoded, and a staged value decodes straight into a
// success.
func WithServerValue[A any](a Atom[result.Result[A]], key string) Atom[result.Result[A]] {
	d := cloneDesc(a.d)
	d.serial = &Serial{
		Key: key,
		Encode: func(v any) ([]byte, error) {
			r := as[result.Result[A]](v)
			value, ok := r.Value()
			if !ok {
				return nil, errors.Errorf("atom %q has no value to dehydrate", key)
			}
			return json.Marshal(value)
		},
		Decode: func(encoded []byte) (any, error) {
			var v A
			if err := json.Unmarshal(encoded, &v); err != nil {
				return nil, errors.Wrapf(err, "decode server value %q", key)
			}
			return result.Success(v), nil
		},
	}
	return Atom[result.Result[A]]{d}
}

// WithServerValueInitial is WithServerValue with a success seeded while no
// staged value exists.
func WithServerValueInitial[A any](a Atom[result.Result[A]], key string, initial A) Atom[result.Result[A]] {
	seeded := Readable(func(ctx *Ctx) result.Result[A] {
		r := Read(ctx, a)
		if r.IsInitial() {
			return result.Success(initial, result.WithWaiting[A](r.IsWaiting()))
		}
		return r
	})
	return WithServerValue(seeded, key)
}

// SetSerializable stages a preloaded encoded value to be decoded on the
// keyed atom's first read.
func (r *Registry) SetSerializable(key string, encoded []byte) {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()
	r.preloaded[key] = encoded
}

// DehydratedEntry is one serializable atom's captured state.
type DehydratedEntry struct {
	Key          string
	Value        []byte
	DehydratedAt int64

	// ResultChan delivers the encoding of the first non-initial value of an
	// atom that was still Initial at capture time (that value may itself be
	// waiting). Nil unless capture was requested.
	ResultChan <-chan []byte
}

// DehydrateOptions configures Dehydrate.
type DehydrateOptions struct {
	// CaptureResults attaches a ResultChan to entries whose current value
	// is an initial AsyncResult.
	CaptureResults bool
}

// Dehydrate captures every serializable node's encoded value.
func Dehydrate(r *Registry, opts ...DehydrateOptions) []DehydratedEntry {
	var o DehydrateOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	unlock := r.lock()
	defer unlock()
	r.checkDisposed()

	now := r.now().UnixMilli()
	var out []DehydratedEntry
	for _, n := range r.nodes {
		if n.d.serial == nil {
			continue
		}
		v := n.valueAny()

		entry := DehydratedEntry{Key: n.d.serial.Key, DehydratedAt: now}
		if encoded, err := n.d.serial.Encode(v); err == nil {
			entry.Value = encoded
		} else {
			r.log.WithError(err).WithField("key", entry.Key).Debug("skipping dehydration value")
		}

		if o.CaptureResults && isInitialResult(v) {
			ch := make(chan []byte, 1)
			serial := n.d.serial
			var l *listener
			l = n.addListener(func(nv any) {
				if isInitialResult(nv) {
					return
				}
				n.removeListener(l)
				if encoded, err := serial.Encode(nv); err == nil {
					ch <- encoded
				}
				close(ch)
			})
			entry.ResultChan = ch
		}

		out = append(out, entry)
	}
	return out
}

// Hydrate feeds dehydrated entries back: nodes already present are updated
// directly, everything else is staged for first read. Pending result
// captures apply the same way once they settle.
func Hydrate(r *Registry, entries []DehydratedEntry) {
	unlock := r.lock()
	defer unlock()
	r.checkDisposed()

	for _, entry := range entries {
		if entry.Value != nil {
			r.hydrateOne(entry.Key, entry.Value)
		}
		if entry.ResultChan != nil {
			go func(key string, ch <-chan []byte) {
				encoded, ok := <-ch
				if !ok {
					return
				}
				unlock := r.lock()
				defer unlock()
				if r.disposed {
					return
				}
				r.hydrateOne(key, encoded)
			}(entry.Key, entry.ResultChan)
		}
	}
}

// hydrateOne overwrites a live node's value, or stages the encoding.
func (r *Registry) hydrateOne(key string, encoded []byte) {
	n, ok := r.nodes[key]
	if !ok || n.removed() {
		r.preloaded[key] = encoded
		return
	}
	v, err := n.d.serial.Decode(encoded)
	if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("failed to hydrate value")
		return
	}
	n.setValue(v)
}

func isInitialResult(v any) bool {
	if !result.IsResult(v) {
		return false
	}
	r, ok := v.(interface{ IsInitial() bool })
	return ok && r.IsInitial()
}
