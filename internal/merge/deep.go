package merge

import "github.com/dshills/stratum/internal/value"

// DeepMerge overlays overlay onto base.
//
// A Null in the overlay deletes the matching key. Objects merge key by key:
// base keys keep their order and new overlay keys are appended. An object
// overlaid on anything else is merged onto an empty object, so nested nulls
// are dropped. Every other combination replaces the base wholesale,
// including arrays.
//
// DeepMerge never fails and is idempotent:
// DeepMerge(DeepMerge(b, o), o) equals DeepMerge(b, o).
func DeepMerge(base, overlay value.Value) value.Value {
	merged, deleted := mergeValue(base, overlay)
	if deleted {
		return value.Null()
	}
	return merged
}

// DeepMergeAll folds values left to right with DeepMerge. The first value
// is the lowest precedence.
func DeepMergeAll(values ...value.Value) value.Value {
	if len(values) == 0 {
		return value.Null()
	}
	acc := values[0]
	for _, v := range values[1:] {
		acc = DeepMerge(acc, v)
	}
	return acc
}

// mergeValue returns the merged value and whether the key holding it should
// be removed from its parent.
func mergeValue(base, overlay value.Value) (value.Value, bool) {
	if overlay.IsNull() {
		return value.Null(), true
	}
	if !overlay.IsObject() {
		return overlay, false
	}
	if !base.IsObject() {
		base = value.EmptyObject()
	}

	members := make([]value.Member, 0, base.Len()+overlay.Len())
	for _, m := range base.Members() {
		ov, ok := overlay.Get(m.Key)
		if !ok {
			members = append(members, m)
			continue
		}
		if merged, deleted := mergeValue(m.Value, ov); !deleted {
			members = append(members, value.M(m.Key, merged))
		}
	}
	for _, m := range overlay.Members() {
		if base.Has(m.Key) {
			continue
		}
		if merged, deleted := mergeValue(value.Null(), m.Value); !deleted {
			members = append(members, value.M(m.Key, merged))
		}
	}
	return value.Object(members...), false
}
