package merge

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conflicted = "head\n<<<<<<< refs/a\nA1\nA2\n=======\nB1\n>>>>>>> refs/b\nmiddle\n<<<<<<< refs/a\n=======\nonly right\n>>>>>>> refs/b\ntail\n"

func TestParseConflictFile(t *testing.T) {
	cf, err := ParseConflictFile(conflicted)
	require.NoError(t, err)
	require.Len(t, cf.Regions, 2)

	first := cf.Regions[0]
	assert.Equal(t, "refs/a", first.LeftID)
	assert.Equal(t, "refs/b", first.RightID)
	assert.Equal(t, []string{"A1\n", "A2\n"}, first.Left)
	assert.Equal(t, []string{"B1\n"}, first.Right)
	assert.Equal(t, -1, first.BaseStart)

	second := cf.Regions[1]
	assert.Empty(t, second.Left)
	assert.Equal(t, []string{"only right\n"}, second.Right)
}

func TestParseConflictFile_RoundTripsThreeWay(t *testing.T) {
	out := ThreeWay("a\nb\nc\n", "a\nX\nc\n", "a\nY\nc\n", "low", "high")
	require.Equal(t, 1, out.Conflicts)

	cf, err := ParseConflictFile(out.Content)
	require.NoError(t, err)
	require.Len(t, cf.Regions, 1)
	assert.Equal(t, out.Regions[0].Left, cf.Regions[0].Left)
	assert.Equal(t, out.Regions[0].Right, cf.Regions[0].Right)
	assert.Equal(t, "low", cf.Regions[0].LeftID)
	assert.Equal(t, "high", cf.Regions[0].RightID)
}

func TestConflictFile_SeparatorLineInText(t *testing.T) {
	base := "Title\n=======\nold\n"
	out := ThreeWay(base, "Title\n=======\nleft\n", "Title\n=======\nright\n", "low", "high")
	require.Equal(t, 1, out.Conflicts)

	fs := afero.NewMemMapFs()
	require.NoError(t, WriteConflictFile(fs, "/ws/README.md", NewConflictFile("README.md", out)))
	cf, err := ReadConflictFile(fs, "/ws/README.md")
	require.NoError(t, err)
	require.Len(t, cf.Regions, 1)
	assert.Equal(t, out.Regions[0].Left, cf.Regions[0].Left)
	assert.Equal(t, out.Regions[0].Right, cf.Regions[0].Right)

	ours, err := cf.Resolve(Left)
	require.NoError(t, err)
	assert.Equal(t, "Title\n=======\nleft\n", ours)
	theirs, err := cf.Resolve(Right)
	require.NoError(t, err)
	assert.Equal(t, "Title\n=======\nright\n", theirs)

	plain, err := ParseConflictFile("x\n=======\ny\n")
	require.NoError(t, err)
	assert.Empty(t, plain.Regions)
}

func TestParseConflictFile_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantLine int
	}{
		{"nested start", "<<<<<<< a\nx\n<<<<<<< b\n", 3},
		{"end without separator", "<<<<<<< a\nx\n>>>>>>> b\n", 3},
		{"stray end", ">>>>>>> b\n", 1},
		{"unterminated", "ok\n<<<<<<< a\nx\n=======\ny\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConflictFile(tt.text)

			var merr *MalformedConflictError
			require.ErrorAs(t, err, &merr)
			assert.Equal(t, tt.wantLine, merr.Line)
			assert.ErrorIs(t, err, ErrMalformedConflict)
		})
	}
}

func TestConflictFile_Resolve(t *testing.T) {
	cf, err := ParseConflictFile(conflicted)
	require.NoError(t, err)

	ours, err := cf.Resolve(Left)
	require.NoError(t, err)
	assert.Equal(t, "head\nA1\nA2\nmiddle\ntail\n", ours)

	theirs, err := cf.Resolve(Right)
	require.NoError(t, err)
	assert.Equal(t, "head\nB1\nmiddle\nonly right\ntail\n", theirs)

	_, err = cf.Resolve(Side(7))
	assert.ErrorIs(t, err, ErrUnknownSide)
}

func TestParseSide(t *testing.T) {
	for name, want := range map[string]Side{"ours": Left, "LEFT": Left, "theirs": Right, "right": Right} {
		got, err := ParseSide(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseSide("both")
	assert.ErrorIs(t, err, ErrUnknownSide)
}

func TestWriteConflictFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ws/app.conf", []byte("last good\n"), 0o644))

	out := ThreeWay("v=1\n", "v=2\n", "v=3\n", "lower", "higher")
	cf := NewConflictFile("/ws/app.conf", out)
	require.NoError(t, WriteConflictFile(fs, "/ws/app.conf", cf))

	target, err := afero.ReadFile(fs, "/ws/app.conf")
	require.NoError(t, err)
	assert.Equal(t, "last good\n", string(target))

	sidecar, err := afero.ReadFile(fs, "/ws/app.conf"+ConflictSuffix)
	require.NoError(t, err)
	assert.Equal(t, out.Content, string(sidecar))

	exists, err := afero.Exists(fs, "/ws/app.conf"+ConflictSuffix+".tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	loaded, err := ReadConflictFile(fs, "/ws/app.conf")
	require.NoError(t, err)
	assert.Equal(t, "/ws/app.conf", loaded.Path)
	require.Len(t, loaded.Regions, 1)

	require.NoError(t, RemoveConflictFile(fs, "/ws/app.conf"))
	require.NoError(t, RemoveConflictFile(fs, "/ws/app.conf"))

	_, err = ReadConflictFile(fs, "/ws/app.conf")
	assert.ErrorIs(t, err, ErrNoConflictFile)
}

func TestIsSidecar(t *testing.T) {
	assert.True(t, IsSidecar("dir/a.json.stratum-conflict"))
	assert.False(t, IsSidecar("dir/a.json"))
	assert.Equal(t, "a.json.stratum-conflict", SidecarPath("a.json"))
}

func TestIsBinary(t *testing.T) {
	late := make([]byte, 9000)
	for i := range late {
		late[i] = 'a'
	}
	late[8500] = 0

	assert.False(t, IsBinary([]byte("plain text\n")))
	assert.False(t, IsBinary(nil))
	assert.True(t, IsBinary([]byte{'P', 'N', 'G', 0, 1}))
	assert.False(t, IsBinary(late))
}
