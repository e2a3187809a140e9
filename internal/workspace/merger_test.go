package workspace

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/stratum/internal/format"
	"github.com/dshills/stratum/internal/layer"
	"github.com/dshills/stratum/internal/store"
	"github.com/dshills/stratum/internal/txn"
	"github.com/dshills/stratum/internal/value"
)

type fixture struct {
	ctx  context.Context
	mem  *store.Memory
	fs   afero.Fs
	lctx layer.Context

	global, mode, project, local layer.Ref
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:  context.Background(),
		mem:  store.NewMemory(),
		fs:   afero.NewMemMapFs(),
		lctx: layer.Context{Mode: "claude", Project: "api"},
	}
	ref := func(l layer.Layer) layer.Ref {
		r, err := f.lctx.Ref(l)
		require.NoError(t, err)
		return r
	}
	f.global = ref(layer.GlobalBase)
	f.mode = ref(layer.ModeBase)
	f.project = ref(layer.ProjectBase)
	f.local = ref(layer.UserLocal)
	return f
}

func (f *fixture) merger() *Merger {
	return NewMerger(f.mem, txn.NewJournal(f.fs, "/state"), WithRoot(f.fs, "/ws"))
}

func (f *fixture) stack(t *testing.T) []layer.Ref {
	t.Helper()
	stack, err := f.lctx.Stack()
	require.NoError(t, err)
	return stack
}

// set replaces the content of ref with files, committing on top of its
// current value.
func (f *fixture) set(t *testing.T, ref layer.Ref, files map[string]string) {
	t.Helper()
	var entries []store.TreeEntry
	for path, data := range files {
		blob, err := f.mem.CreateBlob(f.ctx, []byte(data))
		require.NoError(t, err)
		entries = append(entries, store.TreeEntry{Path: path, Blob: blob})
	}
	tree, err := f.mem.CreateTree(f.ctx, entries)
	require.NoError(t, err)

	old, _, err := f.mem.ReadRef(f.ctx, ref.Path)
	require.NoError(t, err)
	var parents []store.ID
	if !old.IsZero() {
		parents = []store.ID{old}
	}
	commit, err := f.mem.CreateCommit(f.ctx, parents, tree, "set")
	require.NoError(t, err)
	require.NoError(t, f.mem.UpdateRefs(f.ctx, []store.RefUpdate{{Ref: ref.Path, Old: old, New: commit}}))
}

func (f *fixture) mergeFile(t *testing.T, path string) FileResult {
	t.Helper()
	res, err := f.merger().MergeFile(f.ctx, path, f.stack(t))
	require.NoError(t, err)
	return res
}

func TestMergeFile_Absent(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"other.txt": "x\n"})

	res := f.mergeFile(t, "missing.json")
	assert.False(t, res.Present)
	assert.Empty(t, res.Layers)
	assert.Nil(t, res.Err)
}

func TestMergeFile_SingleLayerPassthrough(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.mode, map[string]string{"broken.json": "{oops"})

	res := f.mergeFile(t, "broken.json")
	assert.True(t, res.Present)
	assert.Equal(t, "{oops", string(res.Content))
	assert.Equal(t, []layer.Ref{f.mode}, res.Layers)
	assert.Nil(t, res.Err)
}

func TestMergeFile_Structured(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"settings.json": `{"a":{"x":1},"b":2,"c":[1,2]}`})
	f.set(t, f.mode, map[string]string{"settings.json": `{"a":{"y":2},"b":null}`})
	f.set(t, f.project, map[string]string{"settings.json": `{"c":[3]}`})

	res := f.mergeFile(t, "settings.json")
	require.Nil(t, res.Err)
	require.True(t, res.Present)
	assert.Equal(t, format.JSON, res.Format)
	assert.Equal(t, []layer.Ref{f.global, f.mode, f.project}, res.Layers)

	got, err := format.Parse(res.Content, format.JSON)
	require.NoError(t, err)
	want := value.Object(
		value.M("a", value.Object(value.M("x", value.Int(1)), value.M("y", value.Int(2)))),
		value.M("c", value.Array(value.Int(3))),
	)
	assert.True(t, value.Equal(want, got), "got %s", got)
}

func TestMergeFile_StructuredYAMLAndTOML(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{
		"app.yaml":    "server:\n  host: localhost\n  port: 80\n",
		"config.toml": "name = \"base\"\n\n[db]\nhost = \"localhost\"\n",
	})
	f.set(t, f.local, map[string]string{
		"app.yaml":    "server:\n  port: 8080\n",
		"config.toml": "[db]\nport = 5432\n",
	})

	yamlRes := f.mergeFile(t, "app.yaml")
	require.Nil(t, yamlRes.Err)
	got, err := format.Parse(yamlRes.Content, format.YAML)
	require.NoError(t, err)
	port, ok := got.Lookup("server.port")
	require.True(t, ok)
	assert.Equal(t, value.Int(8080), port)
	host, ok := got.Lookup("server.host")
	require.True(t, ok)
	assert.Equal(t, value.String("localhost"), host)

	tomlRes := f.mergeFile(t, "config.toml")
	require.Nil(t, tomlRes.Err)
	assert.Equal(t, "name = \"base\"\n\n[db]\nhost = \"localhost\"\nport = 5432\n", string(tomlRes.Content))
}

func TestMergeFile_ParseErrorNamesLayer(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"settings.json": `{"a":1}`})
	f.set(t, f.mode, map[string]string{"settings.json": `{"a":`})

	res := f.mergeFile(t, "settings.json")
	require.NotNil(t, res.Err)
	assert.False(t, res.Present)
	assert.Equal(t, "settings.json", res.Err.Path)
	assert.Equal(t, f.mode, res.Err.Layer)
	assert.ErrorIs(t, res.Err, format.ErrSyntax)

	var perr *format.Error
	require.ErrorAs(t, res.Err, &perr)
	assert.Equal(t, "settings.json", perr.File)
}

func TestMergeFile_ConstraintErrorNamesLayer(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"c.toml": "a = 1\n"})
	f.set(t, f.project, map[string]string{"c.toml": "b = [1, \"two\"]\n"})

	res := f.mergeFile(t, "c.toml")
	require.NotNil(t, res.Err)
	assert.Equal(t, f.project, res.Err.Layer)

	var cerr *format.ConstraintError
	require.ErrorAs(t, res.Err, &cerr)
	assert.Equal(t, "b[1]", cerr.Path)
}

func TestMergeFile_TextFold(t *testing.T) {
	tests := []struct {
		name  string
		files map[layer.Layer]string
		want  string
	}{
		{
			name: "higher layer overrides the same line",
			files: map[layer.Layer]string{
				layer.GlobalBase:  "theme=dark\n",
				layer.ModeBase:    "theme=light\n",
				layer.ProjectBase: "theme=blue\n",
			},
			want: "theme=blue\n",
		},
		{
			name: "highest layer text wins whole",
			files: map[layer.Layer]string{
				layer.GlobalBase:  "a\nb\nc\n",
				layer.ModeBase:    "A\nb\nc\n",
				layer.ProjectBase: "a\nb\nC\n",
			},
			want: "a\nb\nC\n",
		},
		{
			name: "unchanged upper layer keeps lower edit",
			files: map[layer.Layer]string{
				layer.GlobalBase: "a\nb\n",
				layer.ModeBase:   "a\nB\n",
				layer.UserLocal:  "a\nB\n",
			},
			want: "a\nB\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for l, content := range tt.files {
				ref, err := f.lctx.Ref(l)
				require.NoError(t, err)
				f.set(t, ref, map[string]string{"notes.txt": content})
			}

			res := f.mergeFile(t, "notes.txt")
			assert.False(t, res.Conflicted())
			assert.Nil(t, res.ConflictFile)
			assert.Equal(t, tt.want, string(res.Content))
			assert.Len(t, res.Layers, len(tt.files))
		})
	}
}

func TestMergeFile_TextHighestLayerBeatsEveryLower(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"notes.txt": "a\nb\n"})
	f.set(t, f.mode, map[string]string{"notes.txt": "X\nb\n"})
	f.set(t, f.project, map[string]string{"notes.txt": "Y\nb\n"})
	f.set(t, f.local, map[string]string{"notes.txt": "a\nb\nlocal\n"})

	res := f.mergeFile(t, "notes.txt")
	require.False(t, res.Conflicted())
	assert.True(t, res.Present)
	assert.Equal(t, "a\nb\nlocal\n", string(res.Content))
	assert.Equal(t, []layer.Ref{f.global, f.mode, f.project, f.local}, res.Layers)
}

func TestMergeFile_BinaryHighestWins(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{"logo.png": "\x89PNG\x00low"})
	f.set(t, f.project, map[string]string{"logo.png": "\x89PNG\x00high"})

	res := f.mergeFile(t, "logo.png")
	assert.Equal(t, "\x89PNG\x00high", string(res.Content))
	assert.False(t, res.Conflicted())
}

func TestMergeFile_LayersOutsideContextIgnored(t *testing.T) {
	f := newFixture(t)
	other, err := layer.Context{Mode: "other"}.Ref(layer.ModeBase)
	require.NoError(t, err)
	f.set(t, f.global, map[string]string{"a.json": `{"v":1}`})
	f.set(t, other, map[string]string{"a.json": `{"v":2}`})

	res := f.mergeFile(t, "a.json")
	assert.Equal(t, `{"v":1}`, string(res.Content))
}

func TestMerge(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.global, map[string]string{
		"settings.json": `{"a":1}`,
		"bad.json":      `{"a":1}`,
		"notes.txt":     "g\n",
	})
	f.set(t, f.project, map[string]string{
		"settings.json": `{"b":2}`,
		"bad.json":      `nope`,
		"z/deep.txt":    "deep\n",
	})

	ws, err := f.merger().Merge(f.ctx, f.lctx)
	require.NoError(t, err)

	var paths []string
	for _, file := range ws.Files {
		paths = append(paths, file.Path)
	}
	assert.Equal(t, []string{"bad.json", "notes.txt", "settings.json", "z/deep.txt"}, paths)
	require.Len(t, ws.Errors(), 1)
	assert.Equal(t, "bad.json", ws.Errors()[0].Path)
	assert.Empty(t, ws.Conflicted())

	treePaths, err := f.mem.ListPaths(f.ctx, ws.Tree)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt", "settings.json", "z/deep.txt"}, treePaths)

	file, ok := ws.File("settings.json")
	require.True(t, ok)
	assert.Equal(t, []layer.Ref{f.global, f.project}, file.Layers)
	_, ok = ws.File("nope")
	assert.False(t, ok)
}

func TestMerge_InvalidContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.merger().Merge(f.ctx, layer.Context{Mode: "bad mode"})
	assert.ErrorIs(t, err, layer.ErrInvalidParameter)
}
