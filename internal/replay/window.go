package replay

// #region view
// View is a read-only window over a circular array. It never copies the
// underlying storage; use Slice for an owned copy.
type View[T any] struct {
	head []T
	tail []T
}

// Window returns the logical range [start, end) of array, where start may be
// negative (wrapping to the end of array) or end may exceed len(array)
// (wrapping to the beginning). The two cases are exclusive as long as the
// range is shorter than the array.
func Window[T any](array []T, start, end int) View[T] {
	n := len(array)
	switch {
	case start < 0:
		return View[T]{head: array[n+start:], tail: array[:end]}
	case end > n:
		return View[T]{head: array[start:], tail: array[:end-n]}
	default:
		return View[T]{head: array[start:end]}
	}
}

// Len returns the number of elements in the view.
func (v View[T]) Len() int {
	return len(v.head) + len(v.tail)
}

// At returns the i-th element of the view.
func (v View[T]) At(i int) T {
	if i < len(v.head) {
		return v.head[i]
	}
	return v.tail[i-len(v.head)]
}

// Slice copies the view into a new slice.
func (v View[T]) Slice() []T {
	out := make([]T, 0, v.Len())
	out = append(out, v.head...)
	return append(out, v.tail...)
}
// #endregion view
