package workspace

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/stratum/internal/merge"
	"github.com/dshills/stratum/internal/store"
	"github.com/dshills/stratum/internal/txn"
)

func (f *fixture) apply(t *testing.T) *Applied {
	t.Helper()
	m := f.merger()
	ws, err := m.Merge(f.ctx, f.lctx)
	require.NoError(t, err)
	applied, err := m.Materialize(f.ctx, ws)
	require.NoError(t, err)
	return applied
}

func (f *fixture) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestMaterialize(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"a.txt": "a\n", "dir/b.json": `{"x":1}`})

	applied := f.apply(t)
	assert.Equal(t, []string{"a.txt", "dir/b.json"}, applied.Written)
	assert.NotEmpty(t, applied.TxnID)
	assert.Equal(t, "a\n", f.read(t, "/ws/a.txt"))
	assert.Equal(t, `{"x":1}`, f.read(t, "/ws/dir/b.json"))

	head, _, err := f.mem.ReadRef(f.ctx, f.lctx.Workspace().Path)
	require.NoError(t, err)
	assert.Equal(t, applied.Commit, head)

	again := f.apply(t)
	assert.Empty(t, again.Written)
	assert.Empty(t, again.TxnID)
	assert.Equal(t, applied.Commit, again.Commit)

	ids, err := txn.NewJournal(f.fs, "/state").List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMaterialize_ConflictSidecar(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"notes.txt": "X\n"})

	m := f.merger()
	ws, err := m.Merge(f.ctx, f.lctx)
	require.NoError(t, err)
	require.Len(t, ws.Files, 1)
	out := merge.ThreeWay("a\n", "X\n", "Y\n", f.mode.Path, f.project.Path)
	require.False(t, out.Clean())
	ws.Files[0].Conflicts = out.Conflicts
	ws.Files[0].ConflictFile = merge.NewConflictFile("notes.txt", out)

	applied, err := m.Materialize(f.ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, applied.Sidecars)
	assert.Equal(t, "X\n", f.read(t, "/ws/notes.txt"))

	cf, err := merge.ReadConflictFile(f.fs, "/ws/notes.txt")
	require.NoError(t, err)
	require.Len(t, cf.Regions, 1)
	assert.Equal(t, f.mode.Path, cf.Regions[0].LeftID)
	assert.Equal(t, f.project.Path, cf.Regions[0].RightID)

	// A clean merge of the same file drops the side-car.
	applied = f.apply(t)
	assert.Empty(t, applied.Sidecars)
	exists, err := afero.Exists(f.fs, "/ws/notes.txt"+merge.ConflictSuffix)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMaterialize_RemovesStaleFiles(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"keep.txt": "k\n", "old.txt": "o\n", "edited.txt": "e\n"})
	f.apply(t)

	require.NoError(t, afero.WriteFile(f.fs, "/ws/edited.txt", []byte("mine\n"), 0o644))
	f.set(t, f.global, map[string]string{"keep.txt": "k\n"})

	applied := f.apply(t)
	assert.Equal(t, []string{"old.txt"}, applied.Removed)

	exists, err := afero.Exists(f.fs, "/ws/old.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "mine\n", f.read(t, "/ws/edited.txt"))
}

func TestMaterialize_FileErrorLeavesDisk(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"s.json": `{"a":1}`})
	f.apply(t)
	before := f.read(t, "/ws/s.json")

	f.set(t, f.project, map[string]string{"s.json": `{`})
	applied := f.apply(t)
	assert.Empty(t, applied.Written)
	assert.Empty(t, applied.Removed)
	assert.Equal(t, before, f.read(t, "/ws/s.json"))
}

func TestMaterialize_NoRoot(t *testing.T) {
	f := newFixture(t)
	m := NewMerger(f.mem, txn.NewJournal(f.fs, "/state"))
	_, err := m.Materialize(f.ctx, &Workspace{Context: f.lctx})
	assert.ErrorIs(t, err, ErrNoWorkspaceRoot)
}

func TestMaterialize_TreeAlreadyCurrent(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"a.txt": "a\n"})
	m := f.merger()
	ws, err := m.Merge(f.ctx, f.lctx)
	require.NoError(t, err)

	// Another process materializes first.
	commit, err := f.mem.CreateCommit(f.ctx, nil, ws.Tree, "other")
	require.NoError(t, err)
	require.NoError(t, f.mem.UpdateRefs(f.ctx, []store.RefUpdate{{Ref: f.lctx.Workspace().Path, New: commit}}))

	applied, err := m.Materialize(f.ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, commit, applied.Commit)
	assert.Empty(t, applied.TxnID)
}
