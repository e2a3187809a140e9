// Package commit turns staged files into layer commits and moves every
// affected layer ref in one transaction.
package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/dshills/stratum/internal/layer"
	"github.com/dshills/stratum/internal/staging"
	"github.com/dshills/stratum/internal/store"
	"github.com/dshills/stratum/internal/txn"
)

// LayerResult describes the commit prepared for one layer.
type LayerResult struct {
	Ref    layer.Ref
	Parent store.ID
	Commit store.ID
	Tree   store.ID
	Files  []string
}

// Result is the outcome of Execute.
type Result struct {
	// TxnID is empty for dry runs and when no layer changed.
	TxnID     string
	Layers    []LayerResult
	FileCount int
	DryRun    bool
}

// RetryPolicy bounds ExecuteWithRetry.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// DefaultRetryPolicy is used when a policy field is zero.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 50 * time.Millisecond,
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// Pipeline commits staged entries.
type Pipeline struct {
	store   store.Store
	journal *txn.Journal
	index   staging.Index
	log     zerolog.Logger
}

// NewPipeline creates a pipeline over a store, transaction journal and
// staging index.
func NewPipeline(s store.Store, j *txn.Journal, idx staging.Index, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   s,
		journal: j,
		index:   idx,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute commits entries. Each affected layer gets one commit parented on
// its current commit; all layer refs then move in a single transaction and
// the consumed entries leave the staging index. A dry run prepares the
// commits and returns without touching refs or the index.
func (p *Pipeline) Execute(ctx context.Context, entries []staging.Entry, message string, dryRun bool) (*Result, error) {
	if len(entries) == 0 {
		return nil, ErrNothingToCommit
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	groups := group(entries)
	result := &Result{DryRun: dryRun}
	for _, g := range groups {
		lr, changed, err := p.prepare(ctx, g, message)
		if err != nil {
			return nil, err
		}
		if !changed {
			p.log.Debug().Str("ref", g.ref.Path).Msg("layer unchanged")
			continue
		}
		result.Layers = append(result.Layers, lr)
		result.FileCount += len(lr.Files)
	}

	if dryRun {
		return result, nil
	}

	if len(result.Layers) > 0 {
		id, err := p.apply(ctx, result.Layers)
		if err != nil {
			return nil, err
		}
		result.TxnID = id
	}

	if err := p.index.Clear(entries); err != nil {
		return result, fmt.Errorf("clear staging: %w", err)
	}
	p.log.Info().
		Str("txn", result.TxnID).
		Int("layers", len(result.Layers)).
		Int("files", result.FileCount).
		Msg("committed")
	return result, nil
}

// ExecuteWithRetry reads the staging index and commits it, retrying from a
// fresh read when another writer moved a layer ref first.
func (p *Pipeline) ExecuteWithRetry(ctx context.Context, message string, dryRun bool, policy RetryPolicy) (*Result, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxElapsedTime = 0
	b.Reset()
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)), ctx)

	var result *Result
	attempt := 0
	op := func() error {
		attempt++
		entries, err := p.index.Entries()
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := p.Execute(ctx, entries, message, dryRun)
		if err != nil {
			if Retriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.log.Info().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("layer ref moved, retrying commit")
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, err
	}
	return result, nil
}

// Retriable reports whether err is a lost race on a ref.
func Retriable(err error) bool {
	return errors.Is(err, txn.ErrOldValueMismatch) || errors.Is(err, store.ErrRefMismatch)
}

type refGroup struct {
	ref     layer.Ref
	entries []staging.Entry
}

// group splits entries by ref in layer precedence order.
func group(entries []staging.Entry) []refGroup {
	sorted := append([]staging.Entry(nil), entries...)
	staging.Sort(sorted)

	var groups []refGroup
	for _, e := range sorted {
		if n := len(groups); n > 0 && groups[n-1].ref.Path == e.Ref.Path {
			groups[n-1].entries = append(groups[n-1].entries, e)
			continue
		}
		groups = append(groups, refGroup{ref: e.Ref, entries: []staging.Entry{e}})
	}
	return groups
}

// prepare builds the new tree and commit for one layer. It reports false
// when the staged entries leave the tree as it is.
func (p *Pipeline) prepare(ctx context.Context, g refGroup, message string) (LayerResult, bool, error) {
	lr := LayerResult{Ref: g.ref}

	parent, tree, err := store.TreeAt(ctx, p.store, g.ref.Path)
	if err != nil {
		return lr, false, fmt.Errorf("read %s: %w", g.ref, err)
	}
	lr.Parent = parent

	files := make(map[string]store.ID)
	if !tree.IsZero() {
		current, err := p.store.TreeEntries(ctx, tree)
		if err != nil {
			return lr, false, fmt.Errorf("read tree of %s: %w", g.ref, err)
		}
		for _, e := range current {
			files[e.Path] = e.Blob
		}
	}

	for _, e := range g.entries {
		old, had := files[e.Path]
		switch {
		case e.Removed && had:
			delete(files, e.Path)
		case e.Removed:
			continue
		case had && old == e.Hash:
			continue
		default:
			files[e.Path] = e.Hash
		}
		lr.Files = append(lr.Files, e.Path)
	}
	if len(lr.Files) == 0 {
		return lr, false, nil
	}

	treeEntries := make([]store.TreeEntry, 0, len(files))
	for path, blob := range files {
		treeEntries = append(treeEntries, store.TreeEntry{Path: path, Blob: blob})
	}
	lr.Tree, err = p.store.CreateTree(ctx, treeEntries)
	if err != nil {
		return lr, false, fmt.Errorf("build tree for %s: %w", g.ref, err)
	}

	var parents []store.ID
	if !parent.IsZero() {
		parents = []store.ID{parent}
	}
	lr.Commit, err = p.store.CreateCommit(ctx, parents, lr.Tree, message)
	if err != nil {
		return lr, false, fmt.Errorf("commit %s: %w", g.ref, err)
	}

	p.log.Debug().
		Str("ref", g.ref.Path).
		Str("parent", parent.Short()).
		Str("commit", lr.Commit.Short()).
		Strs("files", lr.Files).
		Msg("layer commit prepared")
	return lr, true, nil
}

// apply moves every layer ref in one transaction.
func (p *Pipeline) apply(ctx context.Context, layers []LayerResult) (string, error) {
	tx, err := txn.Begin(ctx, p.store, p.journal, txn.WithLogger(p.log))
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	for _, lr := range layers {
		if err := tx.AddExpected(lr.Ref.Path, lr.Parent, lr.Commit); err != nil {
			if abortErr := tx.Abort(); abortErr != nil {
				p.log.Warn().Err(abortErr).Str("txn", tx.ID()).Msg("abort failed")
			}
			return "", err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return tx.ID(), nil
}
