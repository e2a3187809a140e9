// Package staging records files waiting to be committed to a layer.
package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/dshills/stratum/internal/layer"
	"github.com/dshills/stratum/internal/store"
)

const (
	indexFile      = "staging.json"
	currentVersion = 1
)

// ErrUnsupportedVersion indicates an index written by a newer release.
var ErrUnsupportedVersion = errors.New("unsupported staging index version")

// Entry is one staged file. Removed stages a deletion; Hash and Size are
// then empty.
type Entry struct {
	Ref     layer.Ref `json:"ref"`
	Path    string    `json:"path"`
	Hash    store.ID  `json:"hash,omitempty"`
	Size    int64     `json:"size"`
	Removed bool      `json:"removed,omitempty"`
}

func (e Entry) sameTarget(o Entry) bool {
	return e.Ref.Path == o.Ref.Path && e.Path == o.Path
}

// Index is the set of staged entries consumed by the commit pipeline.
type Index interface {
	Add(e Entry) error
	Entries() ([]Entry, error)
	AffectedRefs() ([]layer.Ref, error)
	EntriesFor(ref layer.Ref) ([]Entry, error)
	Clear(entries []Entry) error
}

type persisted struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// FileIndex keeps the index in <state-dir>/staging.json.
type FileIndex struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewFileIndex returns the index under stateDir.
func NewFileIndex(fs afero.Fs, stateDir string) *FileIndex {
	return &FileIndex{fs: fs, path: filepath.Join(stateDir, indexFile)}
}

// Path returns the index file location.
func (x *FileIndex) Path() string {
	return x.path
}

// Add stages e, replacing any entry for the same ref and path.
func (x *FileIndex) Add(e Entry) error {
	clean, err := store.CleanPath(e.Path)
	if err != nil {
		return err
	}
	e.Path = clean
	if !e.Ref.Layer.IsSource() {
		return fmt.Errorf("cannot stage into layer %s", e.Ref.Layer)
	}
	if !e.Removed && e.Hash.IsZero() {
		return fmt.Errorf("staged file %s has no content hash", e.Path)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	entries, err := x.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].sameTarget(e) {
			entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, e)
	}
	return x.save(entries)
}

// Entries returns every staged entry ordered by layer precedence, ref and
// path.
func (x *FileIndex) Entries() ([]Entry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entries, err := x.load()
	if err != nil {
		return nil, err
	}
	Sort(entries)
	return entries, nil
}

// AffectedRefs returns each ref with staged entries once, in precedence
// order.
func (x *FileIndex) AffectedRefs() ([]layer.Ref, error) {
	entries, err := x.Entries()
	if err != nil {
		return nil, err
	}
	var refs []layer.Ref
	seen := make(map[string]bool)
	for _, e := range entries {
		if !seen[e.Ref.Path] {
			seen[e.Ref.Path] = true
			refs = append(refs, e.Ref)
		}
	}
	return refs, nil
}

// EntriesFor returns the entries staged for ref.
func (x *FileIndex) EntriesFor(ref layer.Ref) ([]Entry, error) {
	entries, err := x.Entries()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.Ref.Path == ref.Path {
			out = append(out, e)
		}
	}
	return out, nil
}

// Clear removes exactly the given entries. An entry restaged with other
// content since it was read stays in the index.
func (x *FileIndex) Clear(consumed []Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	entries, err := x.load()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if !contains(consumed, e) {
			kept = append(kept, e)
		}
	}
	return x.save(kept)
}

func contains(list []Entry, e Entry) bool {
	for _, c := range list {
		if c.sameTarget(e) && c.Hash == e.Hash && c.Removed == e.Removed {
			return true
		}
	}
	return false
}

// Sort orders entries by layer precedence, ref path and file path.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Ref.Layer != b.Ref.Layer {
			return a.Ref.Layer < b.Ref.Layer
		}
		if a.Ref.Path != b.Ref.Path {
			return a.Ref.Path < b.Ref.Path
		}
		return a.Path < b.Path
	})
}

func (x *FileIndex) load() ([]Entry, error) {
	data, err := afero.ReadFile(x.fs, x.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read staging index: %w", err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse staging index: %w", err)
	}
	if p.Version > currentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	return p.Entries, nil
}

// save rewrites the index through a temp file and rename.
func (x *FileIndex) save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(persisted{Version: currentVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode staging index: %w", err)
	}

	if err := x.fs.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := x.path + ".tmp"
	if err := afero.WriteFile(x.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write staging index: %w", err)
	}
	if err := x.fs.Rename(tmp, x.path); err != nil {
		_ = x.fs.Remove(tmp)
		return fmt.Errorf("write staging index: %w", err)
	}
	return nil
}
