package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/stratum/internal/value"
)

func obj(members ...value.Member) value.Value { return value.Object(members...) }

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name    string
		base    value.Value
		overlay value.Value
		want    string
	}{
		{
			name:    "nested objects merge",
			base:    obj(value.M("a", obj(value.M("x", value.Int(1))))),
			overlay: obj(value.M("a", obj(value.M("y", value.Int(2))))),
			want:    `{"a":{"x":1,"y":2}}`,
		},
		{
			name:    "null deletes key",
			base:    obj(value.M("a", value.Int(1)), value.M("b", value.Int(2))),
			overlay: obj(value.M("a", value.Null())),
			want:    `{"b":2}`,
		},
		{
			name:    "null for absent key is not inserted",
			base:    obj(value.M("a", value.Int(1))),
			overlay: obj(value.M("gone", value.Null())),
			want:    `{"a":1}`,
		},
		{
			name:    "base order kept and new keys appended",
			base:    obj(value.M("z", value.Int(1)), value.M("a", value.Int(2))),
			overlay: obj(value.M("n", value.Int(3)), value.M("z", value.Int(9))),
			want:    `{"z":9,"a":2,"n":3}`,
		},
		{
			name:    "arrays replace wholesale",
			base:    obj(value.M("xs", value.Array(value.Int(1), value.Int(2), value.Int(3)))),
			overlay: obj(value.M("xs", value.Array(value.Int(4)))),
			want:    `{"xs":[4]}`,
		},
		{
			name:    "scalar replaces object",
			base:    obj(value.M("a", obj(value.M("x", value.Int(1))))),
			overlay: obj(value.M("a", value.String("flat"))),
			want:    `{"a":"flat"}`,
		},
		{
			name:    "object over scalar strips nested nulls",
			base:    obj(value.M("a", value.Int(1))),
			overlay: obj(value.M("a", obj(value.M("x", value.Int(1)), value.M("y", value.Null())))),
			want:    `{"a":{"x":1}}`,
		},
		{
			name:    "top level null",
			base:    obj(value.M("a", value.Int(1))),
			overlay: value.Null(),
			want:    `null`,
		},
		{
			name:    "scalar root replaces",
			base:    obj(value.M("a", value.Int(1))),
			overlay: value.Int(5),
			want:    `5`,
		},
		{
			name:    "deep delete",
			base:    obj(value.M("a", obj(value.M("b", obj(value.M("c", value.Int(1)), value.M("d", value.Int(2))))))),
			overlay: obj(value.M("a", obj(value.M("b", obj(value.M("c", value.Null())))))),
			want:    `{"a":{"b":{"d":2}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeepMerge(tt.base, tt.overlay)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestDeepMerge_Idempotent(t *testing.T) {
	bases := []value.Value{
		value.Null(),
		value.Int(1),
		obj(value.M("a", value.Int(1)), value.M("b", obj(value.M("c", value.Int(2))))),
	}
	overlays := []value.Value{
		obj(value.M("a", value.Null())),
		obj(value.M("b", obj(value.M("c", value.Null()), value.M("d", value.Array(value.Int(1)))))),
		obj(value.M("new", obj(value.M("x", value.Null()), value.M("y", value.Bool(true))))),
		value.Array(value.Int(1)),
	}

	for _, base := range bases {
		for _, overlay := range overlays {
			once := DeepMerge(base, overlay)
			twice := DeepMerge(once, overlay)
			assert.True(t, value.Equal(once, twice), "base %s overlay %s: %s != %s", base, overlay, once, twice)
		}
	}
}

func TestDeepMerge_DoesNotMutateInputs(t *testing.T) {
	base := obj(value.M("a", obj(value.M("x", value.Int(1)))))
	overlay := obj(value.M("a", obj(value.M("x", value.Null()))))

	_ = DeepMerge(base, overlay)

	assert.Equal(t, `{"a":{"x":1}}`, base.String())
	assert.Equal(t, `{"a":{"x":null}}`, overlay.String())
}

func TestDeepMergeAll(t *testing.T) {
	got := DeepMergeAll(
		obj(value.M("a", value.Int(1)), value.M("b", value.Int(1))),
		obj(value.M("b", value.Int(2)), value.M("c", value.Int(2))),
		obj(value.M("c", value.Null()), value.M("d", value.Int(3))),
	)
	assert.Equal(t, `{"a":1,"b":2,"d":3}`, got.String())

	assert.True(t, DeepMergeAll().IsNull())
}
