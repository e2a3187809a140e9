// Package pull merges a remote history of one layer into its local history.
package pull

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/dshills/stratum/internal/layer"
	"github.com/dshills/stratum/internal/merge"
	"github.com/dshills/stratum/internal/store"
	"github.com/dshills/stratum/internal/txn"
)

// Result is the outcome of merging a remote commit into a layer.
type Result struct {
	Ref layer.Ref

	// Commit is the value the ref holds after the merge.
	Commit store.ID
	Base   store.ID
	TxnID  string

	// Conflicts lists conflicted paths in sorted order. Binary conflicts
	// have no entry in ConflictFiles.
	Conflicts     []string
	ConflictFiles []*merge.ConflictFile

	FastForward bool
	UpToDate    bool
}

// Clean reports whether the merge had no conflicts.
func (r *Result) Clean() bool {
	return len(r.Conflicts) == 0
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the merger logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Merger) {
		m.log = log
	}
}

// WithSidecars writes conflict side-cars for conflicted paths under root.
func WithSidecars(fs afero.Fs, root string) Option {
	return func(m *Merger) {
		m.fs = fs
		m.root = root
	}
}

// Merger merges divergent layer histories.
type Merger struct {
	store   store.Store
	journal *txn.Journal
	fs      afero.Fs
	root    string
	log     zerolog.Logger
}

// NewMerger creates a merger over a store and transaction journal.
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

// Merge merges remote into local for ref and moves ref from local to the
// result. local must be the ref's current value (zero when the ref does
// not exist yet). The ref moves whether or not the merge conflicts;
// conflicted paths keep the local content and are resolved afterwards
// through their side-cars.
func (m *Merger) Merge(ctx context.Context, ref layer.Ref, local, remote store.ID) (*Result, error) {
	if remote.IsZero() {
		return nil, ErrNoRemote
	}
	res := &Result{Ref: ref, Commit: local}
	log := m.log.With().Str("ref", ref.Path).Str("local", local.Short()).Str("remote", remote.Short()).Logger()

	if local == remote {
		res.UpToDate = true
		return res, nil
	}

	var base store.ID
	if !local.IsZero() {
		b, ok, err := m.store.MergeBase(ctx, local, remote)
		if err != nil {
			return nil, fmt.Errorf("merge base: %w", err)
		}
		if ok {
			base = b
		}
	}
	res.Base = base

	switch {
	case !base.IsZero() && base == remote:
		res.UpToDate = true
		log.Debug().Msg("remote already merged")
		return res, nil
	case local.IsZero() || base == local:
		if err := m.move(ctx, res, local, remote); err != nil {
			return nil, err
		}
		res.FastForward = true
		log.Info().Msg("fast-forwarded")
		return res, nil
	}

	commit, err := m.mergeTrees(ctx, res, base, local, remote)
	if err != nil {
		return nil, err
	}
	if err := m.move(ctx, res, local, commit); err != nil {
		return nil, err
	}

	if m.fs != nil {
		for _, cf := range res.ConflictFiles {
			if err := merge.WriteConflictFile(m.fs, filepath.Join(m.root, filepath.FromSlash(cf.Path)), cf); err != nil {
				return res, err
			}
		}
	}

	log.Info().
		Str("base", base.Short()).
		Str("commit", commit.Short()).
		Int("conflicts", len(res.Conflicts)).
		Msg("merged divergent history")
	return res, nil
}

// move updates the ref through a transaction.
func (m *Merger) move(ctx context.Context, res *Result, old, commit store.ID) error {
	tx, err := txn.Begin(ctx, m.store, m.journal, txn.WithLogger(m.log))
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := tx.AddExpected(res.Ref.Path, old, commit); err != nil {
		_ = tx.Abort()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	res.Commit = commit
	res.TxnID = tx.ID()
	return nil
}

// content is one side of a path: its bytes and whether the path exists.
type content struct {
	data    []byte
	present bool
}

func (c content) equal(o content) bool {
	return c.present == o.present && bytes.Equal(c.data, o.data)
}

// mergeTrees merges the three trees path by path and stores the merge
// commit with parents local then remote.
func (m *Merger) mergeTrees(ctx context.Context, res *Result, base, local, remote store.ID) (store.ID, error) {
	var baseTree store.ID
	if !base.IsZero() {
		t, err := m.store.ReadTree(ctx, base)
		if err != nil {
			return "", fmt.Errorf("read base tree: %w", err)
		}
		baseTree = t
	}
	localTree, err := m.store.ReadTree(ctx, local)
	if err != nil {
		return "", fmt.Errorf("read local tree: %w", err)
	}
	remoteTree, err := m.store.ReadTree(ctx, remote)
	if err != nil {
		return "", fmt.Errorf("read remote tree: %w", err)
	}

	paths, err := m.union(ctx, baseTree, localTree, remoteTree)
	if err != nil {
		return "", err
	}

	leftID := res.Ref.Path + " (local)"
	rightID := res.Ref.Path + " (remote)"

	var entries []store.TreeEntry
	for _, path := range paths {
		b, err := m.read(ctx, baseTree, path)
		if err != nil {
			return "", err
		}
		l, err := m.read(ctx, localTree, path)
		if err != nil {
			return "", err
		}
		r, err := m.read(ctx, remoteTree, path)
		if err != nil {
			return "", err
		}

		merged, err := m.mergePath(res, path, b, l, r, leftID, rightID)
		if err != nil {
			return "", err
		}
		if !merged.present {
			continue
		}
		blob, err := m.store.CreateBlob(ctx, merged.data)
		if err != nil {
			return "", fmt.Errorf("store %s: %w", path, err)
		}
		entries = append(entries, store.TreeEntry{Path: path, Blob: blob})
	}

	tree, err := m.store.CreateTree(ctx, entries)
	if err != nil {
		return "", fmt.Errorf("build merged tree: %w", err)
	}
	msg := fmt.Sprintf("Merge %s (remote) into %s", remote.Short(), res.Ref.Path)
	commit, err := m.store.CreateCommit(ctx, []store.ID{local, remote}, tree, msg)
	if err != nil {
		return "", fmt.Errorf("create merge commit: %w", err)
	}
	return commit, nil
}

// mergePath resolves one path. Conflicts are recorded on res and keep the
// local side.
func (m *Merger) mergePath(res *Result, path string, b, l, r content, leftID, rightID string) (content, error) {
	switch {
	case l.equal(r), b.equal(r):
		return l, nil
	case b.equal(l):
		return r, nil
	}

	if merge.IsBinary(b.data) || merge.IsBinary(l.data) || merge.IsBinary(r.data) {
		res.Conflicts = append(res.Conflicts, path)
		m.log.Warn().Str("path", path).Msg("binary conflict, keeping local")
		return l, nil
	}

	out := merge.ThreeWay(string(b.data), string(l.data), string(r.data), leftID, rightID)
	if !out.Clean() {
		res.Conflicts = append(res.Conflicts, path)
		res.ConflictFiles = append(res.ConflictFiles, merge.NewConflictFile(path, out))
		m.log.Debug().Str("path", path).Int("regions", out.Conflicts).Msg("conflict")
		return l, nil
	}
	if out.Content == "" && (!l.present || !r.present) {
		return content{}, nil
	}
	return content{data: []byte(out.Content), present: true}, nil
}

func (m *Merger) read(ctx context.Context, tree store.ID, path string) (content, error) {
	if tree.IsZero() {
		return content{}, nil
	}
	data, ok, err := m.store.ReadBlobAt(ctx, tree, path)
	if err != nil {
		return content{}, fmt.Errorf("read %s: %w", path, err)
	}
	return content{data: data, present: ok}, nil
}

// union returns the sorted union of the paths of the given trees.
func (m *Merger) union(ctx context.Context, trees ...store.ID) ([]string, error) {
	seen := make(map[string]bool)
	for _, tree := range trees {
		if tree.IsZero() {
			continue
		}
		paths, err := m.store.ListPaths(ctx, tree)
		if err != nil {
			return nil, fmt.Errorf("list tree: %w", err)
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
