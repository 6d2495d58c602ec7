// Package cow provides persistent sequences for reducer state.
package cow

import (
	"iter"
	"slices"
)

// List is an immutable append-only sequence. Versions produced by Append share
// storage; appending to an older version copies instead of overwriting the
// elements a newer version already owns.
//
// The zero value is an empty list.
type List[T any] struct {
	items []T
	// tip is the length of the longest version sharing items' backing array.
	tip *int
}

// Of returns a list holding vs.
func Of[T any](vs ...T) List[T] {
	items := slices.Clone(vs)
	n := len(items)
	return List[T]{items: items, tip: &n}
}

// Append returns a new list with v added at the end. l is left unchanged.
func (l List[T]) Append(v T) List[T] {
	if l.tip != nil && *l.tip == len(l.items) && len(l.items) < cap(l.items) {
		items := append(l.items, v)
		*l.tip = len(items)
		return List[T]{items: items, tip: l.tip}
	}
	items := make([]T, len(l.items), growCap(len(l.items)))
	copy(items, l.items)
	items = append(items, v)
	n := len(items)
	return List[T]{items: items, tip: &n}
}

// Len reports the number of elements.
func (l List[T]) Len() int { return len(l.items) }

// At returns the i'th element.
func (l List[T]) At(i int) T { return l.items[i] }

// Last returns the final element and whether the list is non-empty.
func (l List[T]) Last() (T, bool) {
	if len(l.items) == 0 {
		var zero T
		return zero, false
	}
	return l.items[len(l.items)-1], true
}

// All iterates over the elements in order.
func (l List[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, v := range l.items {
			if !yield(i, v) {
				return
			}
		}
	}
}

// Slice returns a copy of the elements.
func (l List[T]) Slice() []T {
	return slices.Clone(l.items)
}

func growCap(n int) int {
	if n < 8 {
		return 8
	}
	return n * 2
}
