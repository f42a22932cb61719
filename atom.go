// Package atom implements a fine-grained reactive computation graph with
// lifecycle management: a registry of atoms whose values are computed
// lazily, cached, invalidated transitively, and removed when unused.
package atom

import "time"

// desc is the immutable, untyped description of an atom. The generic Atom
// and Writable handles wrap it; the registry instantiates it as a node.
type desc struct {
	// read computes the value. Dependencies are declared exactly by the
	// ctx operations invoked during the call.
	read func(ctx *Ctx) any

	// write is set for writable atoms only.
	write func(ctx *WriteCtx, value any)

	// refresh overrides the default invalidate-self behavior. It receives
	// the registry's own refresh so it can widen invalidation to related
	// atoms.
	refresh func(refresh func(AnyAtom))

	keepAlive bool
	eager     bool // lazy is the default

	idleTTL time.Duration
	hasTTL  bool

	label  string
	serial *Serial
}

func (d *desc) atomDesc() *desc { return d }

// AnyAtom is any atom handle, regardless of element type.
type AnyAtom interface {
	atomDesc() *desc
}

// Atom describes a reactive computation. Descriptions are immutable;
// combinators return new atoms.
type Atom[A any] struct {
	d *desc
}

func (a Atom[A]) atomDesc() *desc { return a.d }

// Label returns the debug label.
func (a Atom[A]) Label() string { return a.d.label }

// Writable is an atom that additionally accepts writes of type W.
type Writable[A, W any] struct {
	Atom[A]
}

func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

// Readable creates an atom from a read function.
func Readable[A any](read func(ctx *Ctx) A, refresh ...func(refresh func(AnyAtom))) Atom[A] {
	d := &desc{
		read: func(ctx *Ctx) any { return read(ctx) },
	}
	if len(refresh) > 0 {
		d.refresh = refresh[0]
	}
	return Atom[A]{d}
}

// NewWritable creates an atom with a write function.
func NewWritable[A, W any](read func(ctx *Ctx) A, write func(ctx *WriteCtx, value W), refresh ...func(refresh func(AnyAtom))) Writable[A, W] {
	d := &desc{
		read:  func(ctx *Ctx) any { return read(ctx) },
		write: func(ctx *WriteCtx, value any) { write(ctx, as[W](value)) },
	}
	if len(refresh) > 0 {
		d.refresh = refresh[0]
	}
	return Writable[A, W]{Atom[A]{d}}
}

// Make creates a derived atom from a read function.
func Make[A any](read func(ctx *Ctx) A) Atom[A] {
	return Readable(read)
}

// Constant creates an atom that always reads v.
func Constant[A any](v A) Atom[A] {
	return Readable(func(*Ctx) A { return v })
}

// State creates a primitive writable cell holding initial until written.
func State[A any](initial A) Writable[A, A] {
	return NewWritable(
		func(*Ctx) A { return initial },
		func(ctx *WriteCtx, value A) { ctx.SetSelf(value) },
	)
}

func cloneDesc(d *desc) *desc {
	out := *d
	return &out
}
