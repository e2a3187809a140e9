package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreeWay(t *testing.T) {
	tests := []struct {
		name          string
		base          string
		left          string
		right         string
		want          string
		wantConflicts int
	}{
		{
			name:  "adjacent edits merge cleanly",
			base:  "L1\nL2\n",
			left:  "X\nL2\n",
			right: "L1\nY\n",
			want:  "X\nY\n",
		},
		{
			name:          "same line edited on both sides",
			base:          "L1\n",
			left:          "A\n",
			right:         "B\n",
			want:          "<<<<<<< left\nA\n=======\nB\n>>>>>>> right\n",
			wantConflicts: 1,
		},
		{
			name:  "identical edits",
			base:  "a\nb\nc\n",
			left:  "a\nB\nc\n",
			right: "a\nB\nc\n",
			want:  "a\nB\nc\n",
		},
		{
			name:  "one side unchanged",
			base:  "a\nb\n",
			left:  "a\nb\n",
			right: "a\nb\nc\n",
			want:  "a\nb\nc\n",
		},
		{
			name:  "distant edits",
			base:  "1\n2\n3\n4\n5\n",
			left:  "one\n2\n3\n4\n5\n",
			right: "1\n2\n3\n4\nfive\n",
			want:  "one\n2\n3\n4\nfive\n",
		},
		{
			name:          "insertions at the same point",
			base:          "a\nz\n",
			left:          "a\nleft\nz\n",
			right:         "a\nright\nz\n",
			want:          "a\n<<<<<<< left\nleft\n=======\nright\n>>>>>>> right\nz\n",
			wantConflicts: 1,
		},
		{
			name:          "empty base with different content",
			base:          "",
			left:          "A\n",
			right:         "B\n",
			want:          "<<<<<<< left\nA\n=======\nB\n>>>>>>> right\n",
			wantConflicts: 1,
		},
		{
			name:          "whole file rewrite on both sides is one region",
			base:          "a\nb\nc\n",
			left:          "x\ny\n",
			right:         "p\nq\nr\ns\n",
			want:          "<<<<<<< left\nx\ny\n=======\np\nq\nr\ns\n>>>>>>> right\n",
			wantConflicts: 1,
		},
		{
			name:  "deletion on one side",
			base:  "a\nb\nc\n",
			left:  "a\nc\n",
			right: "a\nb\nc\nd\n",
			want:  "a\nc\nd\n",
		},
		{
			name:          "missing trailing newline inside a region",
			base:          "a\nb",
			left:          "a\nB1",
			right:         "a\nB2",
			want:          "a\n<<<<<<< left\nB1\n=======\nB2\n>>>>>>> right\n",
			wantConflicts: 1,
		},
		{
			name:          "two separate conflicts",
			base:          "a\nb\nc\nd\ne\n",
			left:          "A1\nb\nc\nd\nE1\n",
			right:         "A2\nb\nc\nd\nE2\n",
			want:          "<<<<<<< left\nA1\n=======\nA2\n>>>>>>> right\nb\nc\nd\n<<<<<<< left\nE1\n=======\nE2\n>>>>>>> right\n",
			wantConflicts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ThreeWay(tt.base, tt.left, tt.right, "left", "right")
			assert.Equal(t, tt.want, got.Content)
			assert.Equal(t, tt.wantConflicts, got.Conflicts)
			assert.Len(t, got.Regions, tt.wantConflicts)
			assert.Equal(t, tt.wantConflicts == 0, got.Clean())
		})
	}
}

func TestThreeWay_SelfMerge(t *testing.T) {
	for _, text := range []string{"", "a\n", "a\nb\nc", "x\n\n\ny\n"} {
		got := ThreeWay(text, text, text, "l", "r")
		assert.True(t, got.Clean())
		assert.Equal(t, text, got.Content)
	}
}

func TestThreeWay_OneSidedIsNoop(t *testing.T) {
	base := "a\nb\nc\n"
	changed := "a\nB\nc\nd\n"

	assert.Equal(t, changed, ThreeWay(base, base, changed, "l", "r").Content)
	assert.Equal(t, changed, ThreeWay(base, changed, base, "l", "r").Content)
}

func TestThreeWay_RegionDetails(t *testing.T) {
	got := ThreeWay("keep\nold\ntail\n", "keep\nmine\ntail\n", "keep\nyours\ntail\n", "ours", "theirs")
	require.Len(t, got.Regions, 1)

	r := got.Regions[0]
	assert.Equal(t, "ours", r.LeftID)
	assert.Equal(t, "theirs", r.RightID)
	assert.Equal(t, []string{"mine\n"}, r.Left)
	assert.Equal(t, []string{"yours\n"}, r.Right)
	assert.Equal(t, 1, r.BaseStart)
	assert.Equal(t, 2, r.BaseEnd)
}
