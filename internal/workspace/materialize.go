package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/dshills/stratum/internal/merge"
	"github.com/dshills/stratum/internal/store"
	"github.com/dshills/stratum/internal/txn"
)

// Applied reports what Materialize changed.
type Applied struct {
	Written  []string
	Removed  []string
	Sidecars []string

	// Commit is the WorkspaceActive value after materializing. TxnID is
	// empty when the merged tree was already current.
	Commit store.ID
	TxnID  string
}

// Materialize writes ws under the workspace root and moves the
// WorkspaceActive ref to a commit of its tree.
//
// Present files are written when their content differs from disk.
// Conflicted files get a side-car next to them; side-cars of files that
// are now clean are removed. A file that was in the previous workspace but
// is no longer produced by any layer is removed when it still holds the
// previously materialized content. Files with a FileError are left alone.
func (m *Merger) Materialize(ctx context.Context, ws *Workspace) (*Applied, error) {
	if m.fs == nil {
		return nil, ErrNoWorkspaceRoot
	}

	ref := ws.Context.Workspace()
	prevCommit, prevTree, err := store.TreeAt(ctx, m.store, ref.Path)
	if err != nil {
		return nil, fmt.Errorf("read workspace ref: %w", err)
	}

	applied := &Applied{}
	produced := make(map[string]bool, len(ws.Files))
	for _, f := range ws.Files {
		produced[f.Path] = f.Present || f.Err != nil
		if f.Err != nil {
			continue
		}
		if f.Present {
			changed, err := m.writeFile(f.Path, f.Content)
			if err != nil {
				return applied, err
			}
			if changed {
				applied.Written = append(applied.Written, f.Path)
			}
		}
		target := m.target(f.Path)
		if f.ConflictFile != nil {
			if err := merge.WriteConflictFile(m.fs, target, f.ConflictFile); err != nil {
				return applied, err
			}
			applied.Sidecars = append(applied.Sidecars, f.Path)
		} else if err := merge.RemoveConflictFile(m.fs, target); err != nil {
			return applied, err
		}
	}

	if !prevTree.IsZero() {
		removed, err := m.removeStale(ctx, prevTree, produced)
		if err != nil {
			return applied, err
		}
		applied.Removed = removed
	}

	applied.Commit = prevCommit
	if prevCommit.IsZero() || prevTree != ws.Tree {
		if err := m.moveWorkspace(ctx, ws, prevCommit, applied); err != nil {
			return applied, err
		}
	}

	m.log.Info().
		Str("root", m.root).
		Int("written", len(applied.Written)).
		Int("removed", len(applied.Removed)).
		Int("sidecars", len(applied.Sidecars)).
		Str("commit", applied.Commit.Short()).
		Msg("workspace materialized")
	return applied, nil
}

func (m *Merger) target(path string) string {
	return filepath.Join(m.root, filepath.FromSlash(path))
}

// writeFile writes data through a temporary file and rename. It reports
// false when the file already holds data.
func (m *Merger) writeFile(path string, data []byte) (bool, error) {
	target := m.target(path)
	current, err := afero.ReadFile(m.fs, target)
	if err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	if err := m.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp := target + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := m.fs.Rename(tmp, target); err != nil {
		_ = m.fs.Remove(tmp)
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// removeStale deletes files of the previous workspace tree that no layer
// produces anymore, unless they were edited on disk.
func (m *Merger) removeStale(ctx context.Context, prevTree store.ID, produced map[string]bool) ([]string, error) {
	entries, err := m.store.TreeEntries(ctx, prevTree)
	if err != nil {
		return nil, fmt.Errorf("read previous workspace: %w", err)
	}

	var removed []string
	for _, e := range entries {
		if produced[e.Path] {
			continue
		}
		target := m.target(e.Path)
		if err := merge.RemoveConflictFile(m.fs, target); err != nil {
			return removed, err
		}

		disk, err := afero.ReadFile(m.fs, target)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("read %s: %w", e.Path, err)
		}
		prev, err := m.store.ReadBlob(ctx, e.Blob)
		if err != nil {
			return removed, fmt.Errorf("read previous %s: %w", e.Path, err)
		}
		if !bytes.Equal(disk, prev) {
			m.log.Warn().Str("path", e.Path).Msg("locally modified, not removed")
			continue
		}
		if err := m.fs.Remove(target); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Path, err)
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

func (m *Merger) moveWorkspace(ctx context.Context, ws *Workspace, prev store.ID, applied *Applied) error {
	var parents []store.ID
	if !prev.IsZero() {
		parents = []store.ID{prev}
	}
	commit, err := m.store.CreateCommit(ctx, parents, ws.Tree, "Workspace for "+ws.Context.String())
	if err != nil {
		return fmt.Errorf("commit workspace: %w", err)
	}

	tx, err := txn.Begin(ctx, m.store, m.journal, txn.WithLogger(m.log))
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := tx.AddExpected(ws.Context.Workspace().Path, prev, commit); err != nil {
		_ = tx.Abort()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	applied.Commit = commit
	applied.TxnID = tx.ID()
	return nil
}
