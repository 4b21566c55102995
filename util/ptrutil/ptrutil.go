// Package ptrutil provides generic helpers for optional values modeled as
// pointers, such as the nullable enforcement flags and model weights in floor
// documents.
package ptrutil

// ToPtr returns a pointer to v.
func ToPtr[T any](v T) *T {
	return &v
}

// Clone returns a shallow copy of the value v points at, or nil for nil.
func Clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// ValueOrDefault dereferences v, substituting the zero value for nil.
func ValueOrDefault[T any](v *T) T {
	if v != nil {
		return *v
	}
	var def T
	return def
}
