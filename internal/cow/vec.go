package cow

import (
	"iter"
	"slices"
)

const (
	vecBits  = 5
	vecWidth = 1 << vecBits
	vecMask  = vecWidth - 1
)

// Vec is an immutable indexed sequence. Set and Append copy only the path
// from the root to the affected leaf, so both cost O(log n) regardless of
// how many versions share the rest of the tree.
//
// The zero value is an empty vector.
type Vec[T any] struct {
	root  *vecNode[T]
	shift uint
	n     int
}

type vecNode[T any] struct {
	kids  []*vecNode[T]
	items []T
}

// VecOf returns a vector holding vs.
func VecOf[T any](vs ...T) Vec[T] {
	var v Vec[T]
	for _, x := range vs {
		v = v.Append(x)
	}
	return v
}

// Len reports the number of elements.
func (v Vec[T]) Len() int { return v.n }

// At returns the i'th element. It panics if i is out of range.
func (v Vec[T]) At(i int) T {
	if i < 0 || i >= v.n {
		panic("cow: index out of range")
	}
	n := v.root
	for shift := v.shift; shift > 0; shift -= vecBits {
		n = n.kids[(i>>shift)&vecMask]
	}
	return n.items[i&vecMask]
}

// Set returns a new vector with the i'th element replaced by x. It panics
// if i is out of range.
func (v Vec[T]) Set(i int, x T) Vec[T] {
	if i < 0 || i >= v.n {
		panic("cow: index out of range")
	}
	v.root = setNode(v.root, v.shift, i, x)
	return v
}

func setNode[T any](n *vecNode[T], shift uint, i int, x T) *vecNode[T] {
	if shift == 0 {
		items := slices.Clone(n.items)
		items[i&vecMask] = x
		return &vecNode[T]{items: items}
	}
	kids := slices.Clone(n.kids)
	j := (i >> shift) & vecMask
	kids[j] = setNode(kids[j], shift-vecBits, i, x)
	return &vecNode[T]{kids: kids}
}

// Append returns a new vector with x added at the end.
func (v Vec[T]) Append(x T) Vec[T] {
	if v.root != nil && v.n == 1<<(v.shift+vecBits) {
		v.root = &vecNode[T]{kids: []*vecNode[T]{v.root}}
		v.shift += vecBits
	}
	v.root = appendNode(v.root, v.shift, v.n, x)
	v.n++
	return v
}

func appendNode[T any](n *vecNode[T], shift uint, i int, x T) *vecNode[T] {
	if shift == 0 {
		var items []T
		if n != nil {
			items = n.items
		}
		return &vecNode[T]{items: append(slices.Clip(items), x)}
	}
	var kids []*vecNode[T]
	if n != nil {
		kids = n.kids
	}
	j := (i >> shift) & vecMask
	if j < len(kids) {
		kids = slices.Clone(kids)
		kids[j] = appendNode(kids[j], shift-vecBits, i, x)
	} else {
		kids = append(slices.Clip(kids), appendNode(nil, shift-vecBits, i, x))
	}
	return &vecNode[T]{kids: kids}
}

// All iterates over the elements in order.
func (v Vec[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		if v.root == nil {
			return
		}
		i := 0
		var walk func(n *vecNode[T], shift uint) bool
		walk = func(n *vecNode[T], shift uint) bool {
			if shift == 0 {
				for _, x := range n.items {
					if !yield(i, x) {
						return false
					}
					i++
				}
				return true
			}
			for _, k := range n.kids {
				if !walk(k, shift-vecBits) {
					return false
				}
			}
			return true
		}
		walk(v.root, v.shift)
	}
}

// Slice returns a copy of the elements.
func (v Vec[T]) Slice() []T {
	out := make([]T, 0, v.n)
	for _, x := range v.All() {
		out = append(out, x)
	}
	return out
}
