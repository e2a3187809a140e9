// Package store defines the content-addressed object and ref store that
// holds every layer's history, with an in-memory implementation for tests
// and a git-backed implementation driven through git plumbing commands.
package store

import (
	"context"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ID is a hex object id. The zero ID means "no object".
type ID string

// IsZero reports whether id is unset.
func (id ID) IsZero() bool {
	return id == ""
}

// String returns the id.
func (id ID) String() string {
	return string(id)
}

// Short returns the first seven characters of id.
func (id ID) Short() string {
	if len(id) > 7 {
		return string(id[:7])
	}
	return string(id)
}

func (id ID) orNone() string {
	if id.IsZero() {
		return "(none)"
	}
	return string(id)
}

// TreeEntry places a blob at a slash-separated path.
type TreeEntry struct {
	Path string
	Blob ID
}

// RefUpdate moves Ref from Old to New. A zero Old requires that the ref does
// not exist; a zero New deletes the ref.
type RefUpdate struct {
	Ref string
	Old ID
	New ID
}

// Store is the object and ref database consumed by the merge and commit
// engine. Trees are flat: a tree maps file paths to blobs.
type Store interface {
	// CreateBlob stores data and returns its id.
	CreateBlob(ctx context.Context, data []byte) (ID, error)

	// ReadBlob returns the content of a blob.
	ReadBlob(ctx context.Context, id ID) ([]byte, error)

	// CreateTree stores a tree of the given entries. Paths are normalised.
	CreateTree(ctx context.Context, entries []TreeEntry) (ID, error)

	// CreateCommit stores a commit of tree with the given parents.
	CreateCommit(ctx context.Context, parents []ID, tree ID, message string) (ID, error)

	// ReadRef returns the commit a ref points at. The bool is false when
	// the ref does not exist.
	ReadRef(ctx context.Context, ref string) (ID, bool, error)

	// ReadTree returns the tree of a commit.
	ReadTree(ctx context.Context, commit ID) (ID, error)

	// ReadBlobAt returns the content at path in tree. The bool is false
	// when the path is absent.
	ReadBlobAt(ctx context.Context, tree ID, path string) ([]byte, bool, error)

	// TreeEntries lists every entry of a tree sorted by path.
	TreeEntries(ctx context.Context, tree ID) ([]TreeEntry, error)

	// ListPaths lists every path of a tree in sorted order.
	ListPaths(ctx context.Context, tree ID) ([]string, error)

	// MergeBase returns a best common ancestor of two commits. The bool is
	// false when the histories are unrelated.
	MergeBase(ctx context.Context, a, b ID) (ID, bool, error)

	// UpdateRefs applies every update or none. When a ref does not hold its
	// Old value the result wraps ErrRefMismatch in a *RefMismatchError.
	UpdateRefs(ctx context.Context, updates []RefUpdate) error
}

// CleanPath normalises a tree path to NFC with forward slashes and rejects
// absolute or escaping paths.
func CleanPath(p string) (string, error) {
	p = norm.NFC.String(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".git" {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	if strings.ContainsAny(cleaned, "\x00\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// TreeAt returns the commit a ref points at and that commit's tree. Both
// are zero when the ref does not exist.
func TreeAt(ctx context.Context, s Store, ref string) (ID, ID, error) {
	commit, ok, err := s.ReadRef(ctx, ref)
	if err != nil || !ok {
		return "", "", err
	}
	tree, err := s.ReadTree(ctx, commit)
	if err != nil {
		return "", "", err
	}
	return commit, tree, nil
}
