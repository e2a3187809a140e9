package value

import (
	"fmt"
	"math"
	"strings"
)

// Equal reports whether a and b hold the same value.
// Object key order is significant; Int and Float never compare equal.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		if math.IsNaN(a.f) && math.IsNaN(b.f) {
			return true
		}
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for i := range a.obj {
			if a.obj[i].Key != b.obj[i].Key || !Equal(a.obj[i].Value, b.obj[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// JoinPath appends key to a dotted path.
func JoinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// IndexPath appends an array index to a path.
func IndexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}

// Walk calls fn for every value in depth-first order with its dotted path.
// Returning false from fn skips the children of that value.
func Walk(v Value, fn func(path string, v Value) bool) {
	walk("", v, fn)
}

func walk(path string, v Value, fn func(string, Value) bool) {
	if !fn(path, v) {
		return
	}
	switch v.kind {
	case KindArray:
		for i, item := range v.arr {
			walk(IndexPath(path, i), item, fn)
		}
	case KindObject:
		for _, m := range v.obj {
			walk(JoinPath(path, m.Key), m.Value, fn)
		}
	}
}

// Flatten returns every leaf path of v in document order.
// Empty objects and arrays count as leaves.
func Flatten(v Value) []string {
	var paths []string
	Walk(v, func(path string, node Value) bool {
		switch node.kind {
		case KindObject, KindArray:
			if node.Len() == 0 && path != "" {
				paths = append(paths, path)
			}
			return true
		default:
			if path != "" {
				paths = append(paths, path)
			}
			return false
		}
	})
	return paths
}

// Diff returns the leaf paths added, modified and removed between old and
// new. Used to report what a merge changed.
func Diff(old, new Value) (added, modified, removed []string) {
	oldLeaves := leaves(old)
	newLeaves := leaves(new)

	for _, path := range Flatten(new) {
		oldVal, ok := oldLeaves[path]
		if !ok {
			added = append(added, path)
			continue
		}
		if !Equal(oldVal, newLeaves[path]) {
			modified = append(modified, path)
		}
	}
	for _, path := range Flatten(old) {
		if _, ok := newLeaves[path]; !ok {
			removed = append(removed, path)
		}
	}
	return added, modified, removed
}

func leaves(v Value) map[string]Value {
	out := make(map[string]Value)
	for _, path := range Flatten(v) {
		leaf, _ := lookupPath(v, path)
		out[path] = leaf
	}
	return out
}

// lookupPath resolves paths produced by Flatten, including array indexes.
func lookupPath(v Value, path string) (Value, bool) {
	var found Value
	ok := false
	Walk(v, func(p string, node Value) bool {
		if ok {
			return false
		}
		if p == path {
			found, ok = node, true
			return false
		}
		return p == "" || strings.HasPrefix(path, p+".") || strings.HasPrefix(path, p+"[")
	})
	return found, ok
}
