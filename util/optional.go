package util

type Optional[T any] struct {
	present bool
	value   T
}

func NewOptional[T any](v T) Optional[T] {
	return Optional[T]{true, v}
}

// None returns an empty Optional. Equivalent to the zero value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o *Optional[T]) Present() bool {
	return o.present
}

func (o *Optional[T]) Set(v T) {
	o.present = true
	o.value = v
}

func (o *Optional[T]) MustGet() T {
	if !o.present {
		panic("Optional.MustGet: value not present")
	}
	return o.value
}

// Get returns the value and whether it was present.
func (o *Optional[T]) Get() (T, bool) {
	return o.value, o.present
}
