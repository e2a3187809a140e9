// Package workspace merges the active layers of a context into one view
// and materializes it on disk.
package workspace

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/dshills/stratum/internal/format"
	"github.com/dshills/stratum/internal/layer"
	"github.com/dshills/stratum/internal/merge"
	"github.com/dshills/stratum/internal/store"
	"github.com/dshills/stratum/internal/txn"
	"github.com/dshills/stratum/internal/value"
)

// FileResult is the merged state of one path.
type FileResult struct {
	Path   string
	Format format.Format

	// Present is false when no layer has the path, or when Err is set.
	Present bool
	Content []byte

	// Layers lists the refs that contributed content, lowest first.
	Layers []layer.Ref

	// Conflicts counts the regions of the first conflicting text fold.
	// Content then holds the last clean result.
	Conflicts    int
	ConflictFile *merge.ConflictFile

	Err *FileError
}

// Conflicted reports whether the text fold stopped at a conflict.
func (r FileResult) Conflicted() bool {
	return r.Conflicts > 0
}

// Workspace is the merged view of a context's layer stack.
type Workspace struct {
	Context layer.Context
	Stack   []layer.Ref

	// Files holds one result per path in sorted order.
	Files []FileResult

	// Tree holds every present file without an error.
	Tree store.ID
}

// Conflicted returns the results that stopped at a conflict.
func (w *Workspace) Conflicted() []FileResult {
	var out []FileResult
	for _, f := range w.Files {
		if f.Conflicted() {
			out = append(out, f)
		}
	}
	return out
}

// Errors returns the file-local errors.
func (w *Workspace) Errors() []*FileError {
	var out []*FileError
	for _, f := range w.Files {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

// File returns the result for path.
func (w *Workspace) File(path string) (FileResult, bool) {
	i := sort.Search(len(w.Files), func(i int) bool { return w.Files[i].Path >= path })
	if i < len(w.Files) && w.Files[i].Path == path {
		return w.Files[i], true
	}
	return FileResult{}, false
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the merger logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Merger) {
		m.log = log
	}
}

// WithRoot sets the directory Materialize writes to.
func WithRoot(fs afero.Fs, root string) Option {
	return func(m *Merger) {
		m.fs = fs
		m.root = root
	}
}

// Merger merges layer content read from a store.
type Merger struct {
	store   store.Store
	journal *txn.Journal
	fs      afero.Fs
	root    string
	log     zerolog.Logger
}

// NewMerger creates a merger. The journal is used when Materialize moves
// the workspace ref.
func NewMerger(s store.Store, j *txn.Journal, opts ...Option) *Merger {
	m := &Merger{
		store:   s,
		journal: j,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// layerTree is a stack entry resolved to its current tree. A ref that does
// not exist yet has a zero tree.
type layerTree struct {
	ref  layer.Ref
	tree store.ID
}

// hit is one layer's content at a path.
type hit struct {
	ref  layer.Ref
	data []byte
}

func (m *Merger) resolve(ctx context.Context, stack []layer.Ref) ([]layerTree, error) {
	out := make([]layerTree, 0, len(stack))
	for _, ref := range stack {
		_, tree, err := store.TreeAt(ctx, m.store, ref.Path)
		if err != nil {
			return nil, fmt.Errorf("read layer %s: %w", ref, err)
		}
		out = append(out, layerTree{ref: ref, tree: tree})
	}
	return out, nil
}

// MergeFile merges path across stack, lowest precedence first.
func (m *Merger) MergeFile(ctx context.Context, path string, stack []layer.Ref) (FileResult, error) {
	clean, err := store.CleanPath(path)
	if err != nil {
		return FileResult{}, err
	}
	trees, err := m.resolve(ctx, stack)
	if err != nil {
		return FileResult{}, err
	}
	return m.mergeFile(ctx, clean, trees)
}

func (m *Merger) mergeFile(ctx context.Context, path string, trees []layerTree) (FileResult, error) {
	res := FileResult{Path: path, Format: format.DetectOrText(path)}

	var hits []hit
	for _, lt := range trees {
		if lt.tree.IsZero() {
			continue
		}
		data, ok, err := m.store.ReadBlobAt(ctx, lt.tree, path)
		if err != nil {
			return res, fmt.Errorf("read %s from %s: %w", path, lt.ref, err)
		}
		if ok {
			hits = append(hits, hit{ref: lt.ref, data: data})
			res.Layers = append(res.Layers, lt.ref)
		}
	}

	log := m.log.With().Str("path", path).Int("layers", len(hits)).Logger()
	switch {
	case len(hits) == 0:
		return res, nil
	case len(hits) == 1:
		res.Present = true
		res.Content = hits[0].data
		log.Debug().Msg("passthrough")
		return res, nil
	case anyBinary(hits):
		top := hits[len(hits)-1]
		res.Present = true
		res.Content = top.data
		log.Debug().Str("winner", top.ref.Path).Msg("binary, highest layer wins")
		return res, nil
	case res.Format.Structured():
		m.mergeStructured(&res, hits, log)
		return res, nil
	default:
		m.mergeText(&res, hits, log)
		return res, nil
	}
}

func anyBinary(hits []hit) bool {
	for _, h := range hits {
		if merge.IsBinary(h.data) {
			return true
		}
	}
	return false
}

// mergeStructured parses every hit and folds them with DeepMerge.
func (m *Merger) mergeStructured(res *FileResult, hits []hit, log zerolog.Logger) {
	values := make([]value.Value, len(hits))
	for i, h := range hits {
		v, err := format.ParseFile(res.Path, h.data, res.Format)
		if err != nil {
			res.Err = &FileError{Path: res.Path, Layer: h.ref, Err: err}
			log.Warn().Err(err).Str("layer", h.ref.Path).Msg("parse failed")
			return
		}
		values[i] = v
	}

	acc := merge.DeepMergeAll(values...)
	if log.GetLevel() <= zerolog.DebugLevel {
		added, modified, removed := value.Diff(values[0], acc)
		log.Debug().
			Strs("added", added).
			Strs("modified", modified).
			Strs("removed", removed).
			Msg("overlays applied")
	}

	out, err := format.Serialize(acc, res.Format)
	if err != nil {
		top := hits[len(hits)-1]
		res.Err = &FileError{Path: res.Path, Layer: top.ref, Err: err}
		log.Warn().Err(err).Msg("serialize failed")
		return
	}
	res.Present = true
	res.Content = out
}

// mergeText folds hits pairwise from the lowest layer up. Each step merges
// the accumulated text (left) with the next layer (right) against the
// preceding layer's text, so a higher layer overrides the lines it
// changed. The fold stops at the first conflict and keeps the last clean
// text.
func (m *Merger) mergeText(res *FileResult, hits []hit, log zerolog.Logger) {
	acc := string(hits[0].data)
	for i := 1; i < len(hits); i++ {
		prev, next := hits[i-1], hits[i]
		out := merge.ThreeWay(string(prev.data), acc, string(next.data), prev.ref.Path, next.ref.Path)
		if !out.Clean() {
			res.Conflicts = out.Conflicts
			res.ConflictFile = merge.NewConflictFile(res.Path, out)
			log.Info().
				Str("left", prev.ref.Path).
				Str("right", next.ref.Path).
				Int("regions", out.Conflicts).
				Msg("text conflict, fold stopped")
			break
		}
		acc = out.Content
	}
	res.Present = true
	res.Content = []byte(acc)
}

// Merge merges every path found in the active layers of lctx and stores
// the merged tree.
func (m *Merger) Merge(ctx context.Context, lctx layer.Context) (*Workspace, error) {
	if err := lctx.Validate(); err != nil {
		return nil, err
	}
	stack, err := lctx.Stack()
	if err != nil {
		return nil, err
	}
	trees, err := m.resolve(ctx, stack)
	if err != nil {
		return nil, err
	}

	paths, err := m.union(ctx, trees)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{Context: lctx, Stack: stack}
	var entries []store.TreeEntry
	for _, path := range paths {
		res, err := m.mergeFile(ctx, path, trees)
		if err != nil {
			return nil, err
		}
		ws.Files = append(ws.Files, res)
		if !res.Present {
			continue
		}
		blob, err := m.store.CreateBlob(ctx, res.Content)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", path, err)
		}
		entries = append(entries, store.TreeEntry{Path: path, Blob: blob})
	}

	ws.Tree, err = m.store.CreateTree(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("build workspace tree: %w", err)
	}

	m.log.Info().
		Str("context", lctx.String()).
		Int("files", len(ws.Files)).
		Int("conflicts", len(ws.Conflicted())).
		Int("errors", len(ws.Errors())).
		Msg("workspace merged")
	return ws, nil
}

func (m *Merger) union(ctx context.Context, trees []layerTree) ([]string, error) {
	seen := make(map[string]bool)
	for _, lt := range trees {
		if lt.tree.IsZero() {
			continue
		}
		paths, err := m.store.ListPaths(ctx, lt.tree)
		if err != nil {
			return nil, fmt.Errorf("list layer %s: %w", lt.ref, err)
		}
		for _, p := range paths {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
