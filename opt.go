package bidi

import "github.com/go-json-experiment/json"

// Opt is a value with explicit presence. Unlike plain fields, a set Opt is
// always put on the wire, even when it holds false, 0 or "".
type Opt[T any] struct {
	value T
	set   bool
}

// Some returns a set Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{value: v, set: true}
}

// Get returns the value and whether it was set.
func (o Opt[T]) Get() (T, bool) {
	return o.value, o.set
}

// Or returns the value if set, def otherwise.
func (o Opt[T]) Or(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// IsSet reports whether the value was set.
func (o Opt[T]) IsSet() bool { return o.set }

// IsZero lets the json package drop unset values under omitzero.
func (o Opt[T]) IsZero() bool { return !o.set }

func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Opt[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

func (o Opt[T]) optionalValue() (any, bool) {
	return o.value, o.set
}

// optional is implemented by Opt so the codec can see presence.
type optional interface {
	optionalValue() (any, bool)
}
