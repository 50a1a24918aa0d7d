// Package opt holds the present/absent wrapper used by partial upserts.
package opt

// Opt is a value that may be absent. The zero value is absent.
type Opt[T any] struct {
	v  T
	ok bool
}

// Some returns a present value.
func Some[T any](v T) Opt[T] {
	return Opt[T]{v: v, ok: true}
}

// IsSet reports whether the value is present.
func (o Opt[T]) IsSet() bool { return o.ok }

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) { return o.v, o.ok }

// Or returns the value, or def when absent.
func (o Opt[T]) Or(def T) T {
	if !o.ok {
		return def
	}
	return o.v
}

// Arg returns the value as a SQL argument, or nil when absent.
func (o Opt[T]) Arg() any {
	if !o.ok {
		return nil
	}
	return o.v
}

// FromPtr converts a pointer into an Opt; nil is absent.
func FromPtr[T any](p *T) Opt[T] {
	if p == nil {
		return Opt[T]{}
	}
	return Some(*p)
}

// NonEmpty is present only when s is not the empty string.
func NonEmpty(s string) Opt[string] {
	if s == "" {
		return Opt[string]{}
	}
	return Some(s)
}
