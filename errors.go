package atom

import "github.com/pkg/errors"

var (
	// ErrRegistryDisposed is the panic value of any registry access after
	// Dispose.
	ErrRegistryDisposed = errors.New("registry is disposed")

	// ErrContextDisposed is the panic value of context method calls after
	// the owning lifetime was torn down.
	ErrContextDisposed = errors.New("context of disposed atom")

	// ErrCyclicRead is the panic value of a re-entrant read within a single
	// evaluation frame.
	ErrCyclicRead = errors.New("cyclic atom read")

	// ErrNoElement is the failure cause of a stream atom that closed
	// without emitting a value.
	ErrNoElement = errors.New("stream closed without a value")
)
