// Package result provides the tri-state value used by effect-backed atoms:
// Initial, Success, or Failure, plus a waiting flag signalling that a new
// computation is in flight while the last observed value is still current.
package result

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// State identifies the shape of a Result.
type State uint8

const (
	StateInitial State = iota
	StateSuccess
	StateFailure
)

// Result is a tri-state value. A Failure carries forward the most recent
// Success (if any) as its previous value. Transitioning back to Initial
// means logical reset.
type Result[A any] struct {
	state State

	value     A
	timestamp int64 // unix millis, success only

	err         error
	interrupted bool

	// most recent success, carried through failures
	prev *Result[A]

	waiting bool
}

// Option configures a Result constructor.
type Option[A any] func(*Result[A])

// WithWaiting sets the waiting flag.
func WithWaiting[A any](waiting bool) Option[A] {
	return func(r *Result[A]) { r.waiting = waiting }
}

// WithTimestamp overrides the success timestamp.
func WithTimestamp[A any](ts time.Time) Option[A] {
	return func(r *Result[A]) { r.timestamp = ts.UnixMilli() }
}

// WithPrevious sets the carried-forward success. Non-success values are
// reduced to their own previous success.
func WithPrevious[A any](prev Result[A]) Option[A] {
	return func(r *Result[A]) {
		r.prev = latestSuccess(prev)
	}
}

// latestSuccess reduces a result to the most recent success it knows of.
func latestSuccess[A any](r Result[A]) *Result[A] {
	if s, ok := r.Success(); ok {
		return &s
	}
	return r.prev
}

// Initial returns the empty state.
func Initial[A any](waiting ...bool) Result[A] {
	r := Result[A]{state: StateInitial}
	if len(waiting) > 0 {
		r.waiting = waiting[0]
	}
	return r
}

// Success returns a successful result stamped with the current time unless
// overridden with WithTimestamp.
func Success[A any](value A, opts ...Option[A]) Result[A] {
	r := Result[A]{
		state:     StateSuccess,
		value:     value,
		timestamp: time.Now().UnixMilli(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Failure returns a failed result.
func Failure[A any](cause error, opts ...Option[A]) Result[A] {
	r := Result[A]{
		state:       StateFailure,
		err:         cause,
		interrupted: errors.Is(cause, context.Canceled),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Fail is Failure without options.
func Fail[A any](cause error) Result[A] {
	return Failure[A](cause)
}

// Waiting returns r with the waiting flag set.
func Waiting[A any](r Result[A], opts ...Option[A]) Result[A] {
	r.waiting = true
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WaitingFrom returns a waiting version of prev, or a waiting Initial when
// prev is nil.
func WaitingFrom[A any](prev *Result[A]) Result[A] {
	if prev == nil {
		return Initial[A](true)
	}
	return Waiting(*prev)
}

// Touch re-stamps a success with the current time.
func Touch[A any](r Result[A]) Result[A] {
	if r.state == StateSuccess {
		r.timestamp = time.Now().UnixMilli()
	}
	return r
}

// ReplacePrevious swaps the carried-forward success.
func ReplacePrevious[A any](r Result[A], prev *Result[A]) Result[A] {
	if prev == nil {
		r.prev = nil
		return r
	}
	r.prev = latestSuccess(*prev)
	return r
}

// FromExit folds a (value, error) exit into a Result.
func FromExit[A any](value A, err error) Result[A] {
	if err != nil {
		return Failure[A](err)
	}
	return Success(value)
}

// FromExitWithPrevious folds an exit, carrying prev's success into a
// failure. Interruption never overwrites the carried success.
func FromExitWithPrevious[A any](value A, err error, prev *Result[A]) Result[A] {
	if err == nil {
		return Success(value)
	}
	f := Failure[A](err)
	if prev != nil {
		f.prev = latestSuccess(*prev)
	}
	return f
}

// isAsyncResult marks the type for untyped detection.
func (Result[A]) isAsyncResult() {}

// IsResult reports whether v is a Result of any element type.
func IsResult(v any) bool {
	_, ok := v.(interface{ isAsyncResult() })
	return ok
}

// State returns the shape of the result.
func (r Result[A]) State() State { return r.state }

func (r Result[A]) IsInitial() bool    { return r.state == StateInitial }
func (r Result[A]) IsNotInitial() bool { return r.state != StateInitial }
func (r Result[A]) IsSuccess() bool    { return r.state == StateSuccess }
func (r Result[A]) IsFailure() bool    { return r.state == StateFailure }
func (r Result[A]) IsWaiting() bool    { return r.waiting }

// IsInterrupted reports whether a failure was caused by interruption.
func (r Result[A]) IsInterrupted() bool {
	return r.state == StateFailure && r.interrupted
}

// Success returns the result itself when it is a success.
func (r Result[A]) Success() (Result[A], bool) {
	if r.state == StateSuccess {
		return r, true
	}
	return Result[A]{}, false
}

// Previous returns the carried-forward success of a failure.
func (r Result[A]) Previous() (Result[A], bool) {
	if r.prev == nil {
		return Result[A]{}, false
	}
	return *r.prev, true
}

// Value returns the current success value, falling back to the success
// carried through a failure.
func (r Result[A]) Value() (A, bool) {
	switch {
	case r.state == StateSuccess:
		return r.value, true
	case r.prev != nil:
		return r.prev.value, true
	}
	var zero A
	return zero, false
}

// GetOrElse returns the current or carried value, or orElse().
func GetOrElse[A any](r Result[A], orElse func() A) A {
	if v, ok := r.Value(); ok {
		return v
	}
	return orElse()
}

// MustValue returns the current or carried value and panics otherwise.
func (r Result[A]) MustValue() A {
	v, ok := r.Value()
	if !ok {
		if r.err != nil {
			panic(r.err)
		}
		panic(errors.New("result: no value"))
	}
	return v
}

// Cause returns the failure cause, nil otherwise.
func (r Result[A]) Cause() error {
	if r.state != StateFailure {
		return nil
	}
	return r.err
}

// Err returns the failure cause for non-interrupted failures.
func (r Result[A]) Err() error {
	if r.state != StateFailure || r.interrupted {
		return nil
	}
	return r.err
}

// Timestamp returns the success timestamp in unix millis.
func (r Result[A]) Timestamp() int64 { return r.timestamp }

// ToExit folds the result back into a (value, error) pair. An initial
// result exits with ErrNoValue.
func (r Result[A]) ToExit() (A, error) {
	switch r.state {
	case StateSuccess:
		return r.value, nil
	case StateFailure:
		var zero A
		return zero, r.err
	}
	var zero A
	return zero, ErrNoValue
}

// ErrNoValue is the exit cause of an Initial result.
var ErrNoValue = errors.New("result: initial has no value")

// Map transforms the success value (and the carried success).
func Map[A, B any](r Result[A], f func(A) B) Result[B] {
	out := Result[B]{
		state:       r.state,
		err:         r.err,
		interrupted: r.interrupted,
		waiting:     r.waiting,
		timestamp:   r.timestamp,
	}
	if r.state == StateSuccess {
		out.value = f(r.value)
	}
	if r.prev != nil {
		prev := Map(*r.prev, f)
		out.prev = &prev
	}
	return out
}

// FlatMap chains a result-producing function over the success value.
func FlatMap[A, B any](r Result[A], f func(A) Result[B]) Result[B] {
	switch r.state {
	case StateSuccess:
		return f(r.value)
	case StateFailure:
		return Result[B]{
			state:       StateFailure,
			err:         r.err,
			interrupted: r.interrupted,
			waiting:     r.waiting,
		}
	}
	return Result[B]{state: StateInitial, waiting: r.waiting}
}

// Match folds the three shapes into a single value.
func Match[A, T any](r Result[A], onInitial func() T, onSuccess func(A) T, onFailure func(error) T) T {
	switch r.state {
	case StateSuccess:
		return onSuccess(r.value)
	case StateFailure:
		return onFailure(r.err)
	}
	return onInitial()
}

// MatchWithError distinguishes interruptions from plain failures.
func MatchWithError[A, T any](r Result[A], onInitial func() T, onSuccess func(A) T, onError func(error) T, onInterrupt func(error) T) T {
	switch r.state {
	case StateSuccess:
		return onSuccess(r.value)
	case StateFailure:
		if r.interrupted {
			return onInterrupt(r.err)
		}
		return onError(r.err)
	}
	return onInitial()
}

// MatchWithWaiting also hands each branch the waiting flag.
func MatchWithWaiting[A, T any](r Result[A], onInitial func(waiting bool) T, onSuccess func(A, bool) T, onFailure func(error, bool) T) T {
	switch r.state {
	case StateSuccess:
		return onSuccess(r.value, r.waiting)
	case StateFailure:
		return onFailure(r.err, r.waiting)
	}
	return onInitial(r.waiting)
}

// All combines results: the first failure wins, then any initial, otherwise
// a success of every value. Waiting if any member is waiting.
func All[A any](rs []Result[A]) Result[[]A] {
	waiting := false
	for _, r := range rs {
		if r.waiting {
			waiting = true
		}
	}
	for _, r := range rs {
		if r.state == StateFailure {
			out := Failure[[]A](r.err)
			out.waiting = waiting
			out.interrupted = r.interrupted
			return out
		}
	}
	values := make([]A, 0, len(rs))
	for _, r := range rs {
		if r.state == StateInitial {
			return Initial[[]A](waiting)
		}
		values = append(values, r.value)
	}
	out := Success(values)
	out.waiting = waiting
	return out
}

// Builder incrementally assembles a result, keeping the last success around
// so failures carry it forward.
type Builder[A any] struct {
	current Result[A]
}

// NewBuilder starts from Initial.
func NewBuilder[A any]() *Builder[A] {
	return &Builder[A]{current: Initial[A]()}
}

// Waiting marks the current result as in flight.
func (b *Builder[A]) Waiting() *Builder[A] {
	b.current = Waiting(b.current)
	return b
}

// Success records a success.
func (b *Builder[A]) Success(value A) *Builder[A] {
	b.current = Success(value)
	return b
}

// Failure records a failure, carrying the last success forward.
func (b *Builder[A]) Failure(cause error) *Builder[A] {
	b.current = Failure[A](cause, WithPrevious(b.current))
	return b
}

// Result returns the assembled value.
func (b *Builder[A]) Result() Result[A] {
	return b.current
}
