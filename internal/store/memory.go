package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type objectKind uint8

const (
	kindBlob objectKind = iota + 1
	kindTree
	kindCommit
)

type object struct {
	kind    objectKind
	data    []byte
	entries []TreeEntry
	parents []ID
	tree    ID
	message string
}

// Memory is an in-memory Store. Object ids are sha256 digests of the
// object content, so equal content always yields equal ids. Commits carry
// no timestamp and are therefore deterministic too.
type Memory struct {
	mu      sync.RWMutex
	objects map[ID]*object
	refs    map[string]ID
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[ID]*object),
		refs:    make(map[string]ID),
	}
}

func digest(kind string, parts ...string) ID {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return ID(hex.EncodeToString(h.Sum(nil)))
}

// CreateBlob implements Store.
func (m *Memory) CreateBlob(ctx context.Context, data []byte) (ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := digest("blob", string(data))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		m.objects[id] = &object{kind: kindBlob, data: append([]byte(nil), data...)}
	}
	return id, nil
}

// ReadBlob implements Store.
func (m *Memory) ReadBlob(ctx context.Context, id ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, err := m.get(id, kindBlob)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), obj.data...), nil
}

// CreateTree implements Store.
func (m *Memory) CreateTree(ctx context.Context, entries []TreeEntry) (ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned, err := normalizeEntries(entries)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	parts := make([]string, 0, len(cleaned))
	for _, e := range cleaned {
		if _, err := m.get(e.Blob, kindBlob); err != nil {
			return "", fmt.Errorf("tree entry %s: %w", e.Path, err)
		}
		parts = append(parts, e.Path+"\x00"+string(e.Blob)+"\n")
	}

	id := digest("tree", parts...)
	if _, ok := m.objects[id]; !ok {
		m.objects[id] = &object{kind: kindTree, entries: cleaned}
	}
	return id, nil
}

// CreateCommit implements Store.
func (m *Memory) CreateCommit(ctx context.Context, parents []ID, tree ID, message string) (ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.get(tree, kindTree); err != nil {
		return "", fmt.Errorf("commit tree: %w", err)
	}
	parts := []string{"tree " + string(tree) + "\n"}
	for _, p := range parents {
		if _, err := m.get(p, kindCommit); err != nil {
			return "", fmt.Errorf("commit parent: %w", err)
		}
		parts = append(parts, "parent "+string(p)+"\n")
	}
	parts = append(parts, "\n", message)

	id := digest("commit", parts...)
	if _, ok := m.objects[id]; !ok {
		m.objects[id] = &object{
			kind:    kindCommit,
			parents: append([]ID(nil), parents...),
			tree:    tree,
			message: message,
		}
	}
	return id, nil
}

// ReadRef implements Store.
func (m *Memory) ReadRef(ctx context.Context, ref string) (ID, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.refs[ref]
	return id, ok, nil
}

// ReadTree implements Store.
func (m *Memory) ReadTree(ctx context.Context, commit ID) (ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, err := m.get(commit, kindCommit)
	if err != nil {
		return "", err
	}
	return obj.tree, nil
}

// ReadBlobAt implements Store.
func (m *Memory) ReadBlobAt(ctx context.Context, tree ID, path string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	clean, err := CleanPath(path)
	if err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, err := m.get(tree, kindTree)
	if err != nil {
		return nil, false, err
	}
	i := sort.Search(len(obj.entries), func(i int) bool { return obj.entries[i].Path >= clean })
	if i == len(obj.entries) || obj.entries[i].Path != clean {
		return nil, false, nil
	}
	blob, err := m.get(obj.entries[i].Blob, kindBlob)
	if err != nil {
		return nil, false, err
	}
	return append([]byte(nil), blob.data...), true, nil
}

// TreeEntries implements Store.
func (m *Memory) TreeEntries(ctx context.Context, tree ID) ([]TreeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, err := m.get(tree, kindTree)
	if err != nil {
		return nil, err
	}
	return append([]TreeEntry(nil), obj.entries...), nil
}

// ListPaths implements Store.
func (m *Memory) ListPaths(ctx context.Context, tree ID) ([]string, error) {
	entries, err := m.TreeEntries(ctx, tree)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths, nil
}

// MergeBase implements Store. The nearest common ancestor of b, searching
// breadth first, is returned.
func (m *Memory) MergeBase(ctx context.Context, a, b ID) (ID, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ancestors, err := m.ancestors(a)
	if err != nil {
		return "", false, err
	}

	queue := []ID{b}
	seen := map[ID]bool{b: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if ancestors[id] {
			return id, true, nil
		}
		obj, err := m.get(id, kindCommit)
		if err != nil {
			return "", false, err
		}
		for _, p := range obj.parents {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return "", false, nil
}

func (m *Memory) ancestors(start ID) (map[ID]bool, error) {
	out := map[ID]bool{start: true}
	queue := []ID{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		obj, err := m.get(id, kindCommit)
		if err != nil {
			return nil, err
		}
		for _, p := range obj.parents {
			if !out[p] {
				out[p] = true
				queue = append(queue, p)
			}
		}
	}
	return out, nil
}

// UpdateRefs implements Store. All old values are checked before any ref
// changes.
func (m *Memory) UpdateRefs(ctx context.Context, updates []RefUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		if u.Ref == "" || !strings.HasPrefix(u.Ref, "refs/") {
			return fmt.Errorf("invalid ref name %q", u.Ref)
		}
		current := m.refs[u.Ref]
		if current != u.Old {
			return &RefMismatchError{Ref: u.Ref, Expected: u.Old, Actual: current}
		}
		if !u.New.IsZero() {
			if _, err := m.get(u.New, kindCommit); err != nil {
				return fmt.Errorf("update %s: %w", u.Ref, err)
			}
		}
	}

	for _, u := range updates {
		if u.New.IsZero() {
			delete(m.refs, u.Ref)
			continue
		}
		m.refs[u.Ref] = u.New
	}
	return nil
}

// Refs returns a snapshot of every ref.
func (m *Memory) Refs() map[string]ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ID, len(m.refs))
	for k, v := range m.refs {
		out[k] = v
	}
	return out
}

func (m *Memory) get(id ID, kind objectKind) (*object, error) {
	obj, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.orNone())
	}
	if obj.kind != kind {
		return nil, fmt.Errorf("%w: %s", ErrWrongType, id)
	}
	return obj, nil
}

// normalizeEntries cleans and sorts entries, rejecting duplicate paths.
func normalizeEntries(entries []TreeEntry) ([]TreeEntry, error) {
	out := make([]TreeEntry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		p, err := CleanPath(e.Path)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrInvalidPath, p)
		}
		seen[p] = true
		out = append(out, TreeEntry{Path: p, Blob: e.Blob})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
