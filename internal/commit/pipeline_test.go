package commit

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/stratum/internal/layer"
	"github.com/dshills/stratum/internal/staging"
	"github.com/dshills/stratum/internal/store"
	"github.com/dshills/stratum/internal/txn"
)

// racingStore lets another writer move refs just before UpdateRefs.
type racingStore struct {
	store.Store
	races int
	race  func()
}

func (r *racingStore) UpdateRefs(ctx context.Context, updates []store.RefUpdate) error {
	if r.race != nil && r.races > 0 {
		r.races--
		r.race()
	}
	return r.Store.UpdateRefs(ctx, updates)
}

type fixture struct {
	ctx     context.Context
	mem     *store.Memory
	store   *racingStore
	fs      afero.Fs
	journal *txn.Journal
	index   *staging.FileIndex
	global  layer.Ref
	project layer.Ref
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx: context.Background(),
		mem: store.NewMemory(),
		fs:  afero.NewMemMapFs(),
	}
	f.store = &racingStore{Store: f.mem}
	f.journal = txn.NewJournal(f.fs, "/state")
	f.index = staging.NewFileIndex(f.fs, "/state")

	var err error
	f.global, err = layer.NewRef(layer.GlobalBase, layer.Context{})
	require.NoError(t, err)
	f.project, err = layer.NewRef(layer.ProjectBase, layer.Context{Project: "api"})
	require.NoError(t, err)
	return f
}

func (f *fixture) pipeline() *Pipeline {
	return NewPipeline(f.store, f.journal, f.index)
}

func (f *fixture) stage(t *testing.T, ref layer.Ref, path, content string) {
	t.Helper()
	blob, err := f.mem.CreateBlob(f.ctx, []byte(content))
	require.NoError(t, err)
	require.NoError(t, f.index.Add(staging.Entry{Ref: ref, Path: path, Hash: blob, Size: int64(len(content))}))
}

func (f *fixture) stageRemoval(t *testing.T, ref layer.Ref, path string) {
	t.Helper()
	require.NoError(t, f.index.Add(staging.Entry{Ref: ref, Path: path, Removed: true}))
}

func (f *fixture) entries(t *testing.T) []staging.Entry {
	t.Helper()
	entries, err := f.index.Entries()
	require.NoError(t, err)
	return entries
}

func (f *fixture) head(t *testing.T, ref layer.Ref) store.ID {
	t.Helper()
	id, _, err := f.mem.ReadRef(f.ctx, ref.Path)
	require.NoError(t, err)
	return id
}

func (f *fixture) files(t *testing.T, ref layer.Ref) map[string]string {
	t.Helper()
	_, tree, err := store.TreeAt(f.ctx, f.mem, ref.Path)
	require.NoError(t, err)
	out := make(map[string]string)
	if tree.IsZero() {
		return out
	}
	entries, err := f.mem.TreeEntries(f.ctx, tree)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := f.mem.ReadBlob(f.ctx, e.Blob)
		require.NoError(t, err)
		out[e.Path] = string(data)
	}
	return out
}

func (f *fixture) commitNow(t *testing.T, msg string) *Result {
	t.Helper()
	res, err := f.pipeline().Execute(f.ctx, f.entries(t), msg, false)
	require.NoError(t, err)
	return res
}

func TestExecute_CommitsEachLayer(t *testing.T) {
	f := newFixture(t)
	f.stage(t, f.project, "app.json", `{"port":1}`)
	f.stage(t, f.global, "base.toml", "a = 1\n")
	f.stage(t, f.project, "notes.txt", "hello\n")

	res := f.commitNow(t, "initial")
	require.Len(t, res.Layers, 2)
	assert.Equal(t, f.global, res.Layers[0].Ref)
	assert.Equal(t, f.project, res.Layers[1].Ref)
	assert.Equal(t, 3, res.FileCount)
	assert.NotEmpty(t, res.TxnID)
	assert.True(t, res.Layers[0].Parent.IsZero())

	assert.Equal(t, res.Layers[0].Commit, f.head(t, f.global))
	assert.Equal(t, res.Layers[1].Commit, f.head(t, f.project))
	assert.Equal(t, map[string]string{"base.toml": "a = 1\n"}, f.files(t, f.global))
	assert.Equal(t, map[string]string{"app.json": `{"port":1}`, "notes.txt": "hello\n"}, f.files(t, f.project))

	assert.Empty(t, f.entries(t))
	ids, err := f.journal.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExecute_ParentsAndRemovals(t *testing.T) {
	f := newFixture(t)
	f.stage(t, f.project, "a.txt", "a\n")
	f.stage(t, f.project, "b.txt", "b\n")
	first := f.commitNow(t, "first")

	f.stageRemoval(t, f.project, "a.txt")
	f.stage(t, f.project, "b.txt", "b2\n")
	second := f.commitNow(t, "second")

	require.Len(t, second.Layers, 1)
	assert.Equal(t, first.Layers[0].Commit, second.Layers[0].Parent)
	assert.Equal(t, []string{"a.txt", "b.txt"}, second.Layers[0].Files)
	assert.Equal(t, map[string]string{"b.txt": "b2\n"}, f.files(t, f.project))

	base, ok, err := f.mem.MergeBase(f.ctx, first.Layers[0].Commit, second.Layers[0].Commit)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Layers[0].Commit, base)
}

func TestExecute_UnchangedLayerIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.stage(t, f.global, "x", "same\n")
	first := f.commitNow(t, "first")

	f.stage(t, f.global, "x", "same\n")
	f.stageRemoval(t, f.global, "missing")
	res := f.commitNow(t, "again")

	assert.Empty(t, res.Layers)
	assert.Empty(t, res.TxnID)
	assert.Equal(t, first.Layers[0].Commit, f.head(t, f.global))
	assert.Empty(t, f.entries(t))
}

func TestExecute_DryRun(t *testing.T) {
	f := newFixture(t)
	f.stage(t, f.global, "x", "1\n")

	res, err := f.pipeline().Execute(f.ctx, f.entries(t), "dry", true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.Len(t, res.Layers, 1)
	assert.False(t, res.Layers[0].Commit.IsZero())
	assert.Empty(t, res.TxnID)

	assert.True(t, f.head(t, f.global).IsZero())
	assert.Len(t, f.entries(t), 1)
	ids, err := f.journal.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExecute_Rejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline().Execute(f.ctx, nil, "msg", false)
	assert.ErrorIs(t, err, ErrNothingToCommit)

	f.stage(t, f.global, "x", "1\n")
	_, err = f.pipeline().Execute(f.ctx, f.entries(t), "  ", false)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestExecute_LostRaceChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.stage(t, f.global, "g", "g1\n")
	f.stage(t, f.project, "p", "p1\n")
	base := f.commitNow(t, "base")
	globalBefore := base.Layers[0].Commit

	// Another writer moves the project ref between observation and apply.
	blob, err := f.mem.CreateBlob(f.ctx, []byte("other\n"))
	require.NoError(t, err)
	tree, err := f.mem.CreateTree(f.ctx, []store.TreeEntry{{Path: "other", Blob: blob}})
	require.NoError(t, err)
	racer, err := f.mem.CreateCommit(f.ctx, []store.ID{base.Layers[1].Commit}, tree, "racer")
	require.NoError(t, err)
	f.store.races = 1
	f.store.race = func() {
		require.NoError(t, f.mem.UpdateRefs(f.ctx, []store.RefUpdate{
			{Ref: f.project.Path, Old: base.Layers[1].Commit, New: racer},
		}))
	}

	f.stage(t, f.global, "g", "g2\n")
	f.stage(t, f.project, "p", "p2\n")
	staged := f.entries(t)

	_, err = f.pipeline().Execute(f.ctx, staged, "second", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, txn.ErrOldValueMismatch)
	assert.True(t, Retriable(err))

	assert.Equal(t, globalBefore, f.head(t, f.global))
	assert.Equal(t, racer, f.head(t, f.project))
	assert.Equal(t, staged, f.entries(t))
}

func TestExecuteWithRetry_RereadsAfterRace(t *testing.T) {
	f := newFixture(t)
	f.stage(t, f.project, "p", "p1\n")
	base := f.commitNow(t, "base")

	blob, err := f.mem.CreateBlob(f.ctx, []byte("other\n"))
	require.NoError(t, err)
	tree, err := f.mem.CreateTree(f.ctx, []store.TreeEntry{{Path: "other", Blob: blob}})
	require.NoError(t, err)
	racer, err := f.mem.CreateCommit(f.ctx, []store.ID{base.Layers[0].Commit}, tree, "racer")
	require.NoError(t, err)
	f.store.races = 1
	f.store.race = func() {
		require.NoError(t, f.mem.UpdateRefs(f.ctx, []store.RefUpdate{
			{Ref: f.project.Path, Old: base.Layers[0].Commit, New: racer},
		}))
	}

	f.stage(t, f.project, "p", "p2\n")
	res, err := f.pipeline().ExecuteWithRetry(f.ctx, "retry", false, RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond})
	require.NoError(t, err)

	require.Len(t, res.Layers, 1)
	assert.Equal(t, racer, res.Layers[0].Parent)
	assert.Equal(t, map[string]string{"other": "other\n", "p": "p2\n"}, f.files(t, f.project))
	assert.Empty(t, f.entries(t))
}

func TestExecuteWithRetry_GivesUp(t *testing.T) {
	f := newFixture(t)
	f.stage(t, f.global, "g", "g1\n")
	base := f.commitNow(t, "base")

	head := base.Layers[0].Commit
	f.store.races = 10
	f.store.race = func() {
		next, err := f.mem.CreateCommit(f.ctx, []store.ID{head}, base.Layers[0].Tree, "racer")
		require.NoError(t, err)
		require.NoError(t, f.mem.UpdateRefs(f.ctx, []store.RefUpdate{{Ref: f.global.Path, Old: head, New: next}}))
		head = next
	}

	f.stage(t, f.global, "g", "g2\n")
	_, err := f.pipeline().ExecuteWithRetry(f.ctx, "loses", false, RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond})
	require.Error(t, err)
	assert.True(t, Retriable(err))
	assert.Equal(t, 8, f.store.races)
	assert.Len(t, f.entries(t), 1)
}

func TestExecuteWithRetry_PermanentError(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline().ExecuteWithRetry(f.ctx, "nothing", false, RetryPolicy{})
	assert.ErrorIs(t, err, ErrNothingToCommit)
}
