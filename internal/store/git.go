package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Git is a Store backed by a git repository. Every operation runs a git
// plumbing command; refs are updated with a single `update-ref --stdin`
// transaction.
type Git struct {
	dir     string
	gitDir  string
	name    string
	email   string
	zeroOID string
	log     zerolog.Logger
	gitPath string
}

// GitOption configures a Git store.
type GitOption func(*Git)

// WithAuthor sets the author and committer identity for new commits.
func WithAuthor(name, email string) GitOption {
	return func(g *Git) {
		if name != "" {
			g.name = name
		}
		if email != "" {
			g.email = email
		}
	}
}

// WithLogger sets the logger for git commands.
func WithLogger(log zerolog.Logger) GitOption {
	return func(g *Git) {
		g.log = log
	}
}

// OpenGit opens the repository at dir, which may be a bare repository or a
// work tree.
func OpenGit(ctx context.Context, dir string, opts ...GitOption) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not available: %w", err)
	}

	g := &Git{
		dir:     dir,
		name:    "stratum",
		email:   "stratum@localhost",
		zeroOID: strings.Repeat("0", 40),
		log:     zerolog.Nop(),
		gitPath: gitPath,
	}
	for _, opt := range opts {
		opt(g)
	}

	out, err := g.run(ctx, nil, nil, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", dir, err)
	}
	g.gitDir = strings.TrimSpace(out)

	if out, err := g.run(ctx, nil, nil, "rev-parse", "--show-object-format"); err == nil {
		if strings.TrimSpace(out) == "sha256" {
			g.zeroOID = strings.Repeat("0", 64)
		}
	}
	return g, nil
}

// InitGit creates a bare repository at dir unless dir already holds a
// repository, then opens it.
func InitGit(ctx context.Context, dir string, opts ...GitOption) (*Git, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repository dir: %w", err)
	}
	if !isRepository(dir) {
		cmd := newGitCommand(dir, "init", "--bare", "-q")
		if _, err := cmd.run(ctx); err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
	}
	return OpenGit(ctx, dir, opts...)
}

// isRepository reports whether dir is a bare repository or a work tree
// root. Parent directories are not searched.
func isRepository(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	_, headErr := os.Stat(filepath.Join(dir, "HEAD"))
	_, objErr := os.Stat(filepath.Join(dir, "objects"))
	return headErr == nil && objErr == nil
}

// Dir returns the repository directory.
func (g *Git) Dir() string {
	return g.dir
}

// CreateBlob implements Store.
func (g *Git) CreateBlob(ctx context.Context, data []byte) (ID, error) {
	out, err := g.run(ctx, data, nil, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	return ID(strings.TrimSpace(out)), nil
}

// ReadBlob implements Store.
func (g *Git) ReadBlob(ctx context.Context, id ID) ([]byte, error) {
	out, err := g.run(ctx, nil, nil, "cat-file", "blob", string(id))
	if err != nil {
		return nil, classify(fmt.Errorf("read blob %s: %w", id, err))
	}
	return []byte(out), nil
}

// CreateTree implements Store. The tree is built in a private index file so
// the repository's own index is never touched.
func (g *Git) CreateTree(ctx context.Context, entries []TreeEntry) (ID, error) {
	cleaned, err := normalizeEntries(entries)
	if err != nil {
		return "", err
	}

	tmpDir, err := os.MkdirTemp("", "stratum-index-*")
	if err != nil {
		return "", fmt.Errorf("create index dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	env := []string{"GIT_INDEX_FILE=" + filepath.Join(tmpDir, "index")}

	if len(cleaned) > 0 {
		var info bytes.Buffer
		for _, e := range cleaned {
			fmt.Fprintf(&info, "100644 blob %s\t%s\x00", e.Blob, e.Path)
		}
		if _, err := g.run(ctx, info.Bytes(), env, "update-index", "-z", "--add", "--index-info"); err != nil {
			return "", fmt.Errorf("create tree: %w", err)
		}
	}

	out, err := g.run(ctx, nil, env, "write-tree")
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}
	return ID(strings.TrimSpace(out)), nil
}

// CreateCommit implements Store.
func (g *Git) CreateCommit(ctx context.Context, parents []ID, tree ID, message string) (ID, error) {
	args := []string{"commit-tree", string(tree)}
	for _, p := range parents {
		args = append(args, "-p", string(p))
	}
	args = append(args, "-m", message)

	env := []string{
		"GIT_AUTHOR_NAME=" + g.name,
		"GIT_AUTHOR_EMAIL=" + g.email,
		"GIT_COMMITTER_NAME=" + g.name,
		"GIT_COMMITTER_EMAIL=" + g.email,
	}
	out, err := g.run(ctx, nil, env, args...)
	if err != nil {
		return "", classify(fmt.Errorf("create commit: %w", err))
	}
	return ID(strings.TrimSpace(out)), nil
}

// ReadRef implements Store.
func (g *Git) ReadRef(ctx context.Context, ref string) (ID, bool, error) {
	out, err := g.run(ctx, nil, nil, "rev-parse", "--verify", "-q", ref+"^{commit}")
	if err != nil {
		var exitErr *gitExitError
		if errors.As(err, &exitErr) && exitErr.code == 1 {
			return "", false, nil
		}
		return "", false, classify(fmt.Errorf("read ref %s: %w", ref, err))
	}
	return ID(strings.TrimSpace(out)), true, nil
}

// ReadTree implements Store.
func (g *Git) ReadTree(ctx context.Context, commit ID) (ID, error) {
	out, err := g.run(ctx, nil, nil, "rev-parse", "--verify", "-q", string(commit)+"^{tree}")
	if err != nil {
		return "", classify(fmt.Errorf("read tree of %s: %w", commit, err))
	}
	return ID(strings.TrimSpace(out)), nil
}

// ReadBlobAt implements Store.
func (g *Git) ReadBlobAt(ctx context.Context, tree ID, path string) ([]byte, bool, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return nil, false, err
	}

	out, err := g.run(ctx, nil, nil, "ls-tree", "-z", string(tree), "--", clean)
	if err != nil {
		return nil, false, classify(fmt.Errorf("read %s: %w", clean, err))
	}
	entries, err := parseLsTree(out)
	if err != nil {
		return nil, false, err
	}
	if len(entries) == 0 || entries[0].Path != clean {
		return nil, false, nil
	}

	data, err := g.ReadBlob(ctx, entries[0].Blob)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// TreeEntries implements Store.
func (g *Git) TreeEntries(ctx context.Context, tree ID) ([]TreeEntry, error) {
	out, err := g.run(ctx, nil, nil, "ls-tree", "-r", "-z", string(tree))
	if err != nil {
		return nil, classify(fmt.Errorf("list tree %s: %w", tree, err))
	}
	entries, err := parseLsTree(out)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// ListPaths implements Store.
func (g *Git) ListPaths(ctx context.Context, tree ID) ([]string, error) {
	entries, err := g.TreeEntries(ctx, tree)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths, nil
}

// MergeBase implements Store.
func (g *Git) MergeBase(ctx context.Context, a, b ID) (ID, bool, error) {
	out, err := g.run(ctx, nil, nil, "merge-base", string(a), string(b))
	if err != nil {
		var exitErr *gitExitError
		if errors.As(err, &exitErr) && exitErr.code == 1 {
			return "", false, nil
		}
		return "", false, classify(fmt.Errorf("merge base: %w", err))
	}
	return ID(strings.TrimSpace(out)), true, nil
}

var lockRefPattern = regexp.MustCompile(`cannot lock ref '([^']+)'`)

// UpdateRefs implements Store. git applies the whole batch in one
// transaction and verifies every old value under its ref locks.
func (g *Git) UpdateRefs(ctx context.Context, updates []RefUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	var stdin bytes.Buffer
	for _, u := range updates {
		old := string(u.Old)
		if u.Old.IsZero() {
			old = g.zeroOID
		}
		if u.New.IsZero() {
			fmt.Fprintf(&stdin, "delete %s %s\n", u.Ref, old)
			continue
		}
		fmt.Fprintf(&stdin, "update %s %s %s\n", u.Ref, u.New, old)
	}

	if _, err := g.run(ctx, stdin.Bytes(), nil, "update-ref", "--stdin"); err != nil {
		if mismatch := g.refMismatch(ctx, err, updates); mismatch != nil {
			return mismatch
		}
		return classify(fmt.Errorf("update refs: %w", err))
	}
	return nil
}

// refMismatch turns a failed update-ref run into a *RefMismatchError when
// git refused because a ref moved.
func (g *Git) refMismatch(ctx context.Context, err error, updates []RefUpdate) error {
	msg := err.Error()
	if !strings.Contains(msg, "but expected") &&
		!strings.Contains(msg, "reference already exists") &&
		!strings.Contains(msg, "unable to resolve reference") &&
		!strings.Contains(msg, "reference is missing") {
		return nil
	}

	target := updates[0]
	if m := lockRefPattern.FindStringSubmatch(msg); m != nil {
		for _, u := range updates {
			if u.Ref == m[1] {
				target = u
				break
			}
		}
	}
	actual, _, readErr := g.ReadRef(ctx, target.Ref)
	if readErr != nil {
		actual = ""
	}
	return &RefMismatchError{Ref: target.Ref, Expected: target.Old, Actual: actual}
}

// parseLsTree parses `git ls-tree -z` output into blob entries.
func parseLsTree(out string) ([]TreeEntry, error) {
	var entries []TreeEntry
	for _, rec := range strings.Split(out, "\x00") {
		if rec == "" {
			continue
		}
		meta, path, ok := strings.Cut(rec, "\t")
		if !ok {
			return nil, fmt.Errorf("%w: unexpected ls-tree record %q", ErrCorrupt, rec)
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: unexpected ls-tree record %q", ErrCorrupt, rec)
		}
		if fields[1] != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{Path: path, Blob: ID(fields[2])})
	}
	return entries, nil
}

// classify marks errors that indicate a damaged object database.
func classify(err error) error {
	msg := err.Error()
	for _, marker := range []string{"corrupt", "bad object", "unable to read", "invalid object", "loose object"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	return err
}

func (g *Git) run(ctx context.Context, stdin []byte, env []string, args ...string) (string, error) {
	cmd := newGitCommand(g.dir, args...)
	cmd.path = g.gitPath
	cmd.stdin = stdin
	cmd.env = env
	if g.gitDir != "" {
		cmd.env = append([]string{"GIT_DIR=" + g.gitDir}, env...)
	}

	g.log.Debug().Strs("args", args).Msg("git")
	return cmd.run(ctx)
}

// gitCommand is one git invocation.
type gitCommand struct {
	path  string
	dir   string
	args  []string
	env   []string
	stdin []byte
}

func newGitCommand(dir string, args ...string) *gitCommand {
	return &gitCommand{path: "git", dir: dir, args: args}
}

// gitExitError carries git's exit status and stderr.
type gitExitError struct {
	args   []string
	code   int
	stderr string
}

func (e *gitExitError) Error() string {
	return fmt.Sprintf("git %s: exit %d: %s", strings.Join(e.args, " "), e.code, e.stderr)
}

// run executes the command and returns stdout.
func (c *gitCommand) run(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	if c.dir != "" {
		cmd.Dir = c.dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	cmd.Env = append(cmd.Env, c.env...)
	if c.stdin != nil {
		cmd.Stdin = bytes.NewReader(c.stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &gitExitError{args: c.args, code: exitErr.ExitCode(), stderr: strings.TrimSpace(stderr.String())}
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(c.args, " "), err)
	}
	return stdout.String(), nil
}
