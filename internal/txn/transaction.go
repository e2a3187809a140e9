// Package txn updates many refs of a store as one crash-recoverable unit.
//
// A transaction writes a small JSON log before touching the store:
//
//	{"id":"…","state":"building","created":"…","updates":[{"ref":…,"old":…,"new":…}]}
//
// The log is rewritten after every added update and flipped to "logged"
// just before the single atomic store call. It is deleted once the store
// confirms. A log found at startup is replayed or discarded by Recover.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"

	"github.com/dshills/stratum/internal/store"
)

// State is the lifecycle stage of a transaction.
type State uint8

const (
	// Building accepts updates. Its log is a discardable prefix.
	Building State = iota
	// Logged has a durable log of the full update list and is about to
	// reach, or has reached, the store.
	Logged
	// Committed means every ref holds its new value.
	Committed
	// RolledBack means the store was left unchanged.
	RolledBack
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Logged:
		return "logged"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Update moves Ref from Old to New.
type Update struct {
	Ref string   `json:"ref"`
	Old store.ID `json:"old"`
	New store.ID `json:"new"`
}

// Option configures a transaction.
type Option func(*Transaction)

// WithLogger sets the transaction logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Transaction) {
		t.log = log
	}
}

// WithClock sets the time source used for the created timestamp.
func WithClock(now func() time.Time) Option {
	return func(t *Transaction) {
		t.now = now
	}
}

// Transaction is one all-or-nothing batch of ref updates.
type Transaction struct {
	id      string
	state   State
	store   store.Store
	journal *Journal
	updates []Update
	doc     []byte
	log     zerolog.Logger
	now     func() time.Time
}

// Begin starts a transaction and writes its empty log.
func Begin(ctx context.Context, s store.Store, j *Journal, opts ...Option) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &Transaction{
		id:      uuid.NewString(),
		state:   Building,
		store:   s,
		journal: j,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With().Str("txn", t.id).Logger()

	doc := []byte(`{}`)
	var err error
	for _, field := range []struct {
		path  string
		value any
	}{
		{"id", t.id},
		{"state", Building.String()},
		{"created", t.now().UTC().Format(time.RFC3339Nano)},
	} {
		if doc, err = sjson.SetBytes(doc, field.path, field.value); err != nil {
			return nil, fmt.Errorf("build log: %w", err)
		}
	}
	if doc, err = sjson.SetRawBytes(doc, "updates", []byte(`[]`)); err != nil {
		return nil, fmt.Errorf("build log: %w", err)
	}

	if err := j.write(t.id, doc); err != nil {
		return nil, err
	}
	t.doc = doc
	t.log.Debug().Msg("transaction started")
	return t, nil
}

// ID returns the transaction id.
func (t *Transaction) ID() string {
	return t.id
}

// State returns the current state.
func (t *Transaction) State() State {
	return t.state
}

// Updates returns a copy of the recorded updates.
func (t *Transaction) Updates() []Update {
	return append([]Update(nil), t.updates...)
}

// AddUpdate records a move of ref to newID, observing the ref's current
// value as the expected old value.
func (t *Transaction) AddUpdate(ctx context.Context, ref string, newID store.ID) error {
	if t.state != Building {
		return ErrNotBuilding
	}
	old, _, err := t.store.ReadRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("observe %s: %w", ref, err)
	}
	return t.AddExpected(ref, old, newID)
}

// AddExpected records a move of ref from an already observed old value.
// The log is rewritten before AddExpected returns.
func (t *Transaction) AddExpected(ref string, old, newID store.ID) error {
	if t.state != Building {
		return ErrNotBuilding
	}
	for _, u := range t.updates {
		if u.Ref == ref {
			return fmt.Errorf("%w: %s", ErrDuplicateRef, ref)
		}
	}

	u := Update{Ref: ref, Old: old, New: newID}
	doc, err := sjson.SetBytes(t.doc, "updates.-1", u)
	if err != nil {
		return fmt.Errorf("append update: %w", err)
	}
	if err := t.journal.write(t.id, doc); err != nil {
		return err
	}

	t.doc = doc
	t.updates = append(t.updates, u)
	t.log.Debug().Str("ref", ref).Str("old", old.Short()).Str("new", newID.Short()).Msg("update added")
	return nil
}

// Commit checks that every ref still holds its observed value, marks the
// log as logged and applies all updates in one store call. The log is
// deleted after the store confirms. On any failure nothing changes in the
// store, the log stays for recovery and the transaction is RolledBack.
// A store reporting corruption yields a *RepairRequiredError.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != Building {
		return ErrNotBuilding
	}
	if len(t.updates) == 0 {
		return ErrEmptyTransaction
	}

	for _, u := range t.updates {
		current, _, err := t.store.ReadRef(ctx, u.Ref)
		if err != nil {
			t.state = RolledBack
			if errors.Is(err, store.ErrCorrupt) {
				return t.repair(err)
			}
			return fmt.Errorf("validate %s: %w", u.Ref, err)
		}
		if current != u.Old {
			t.state = RolledBack
			t.log.Info().Str("ref", u.Ref).Msg("ref moved, transaction rolled back")
			return &OldValueMismatchError{Ref: u.Ref, Expected: u.Old, Actual: current}
		}
	}

	doc, err := sjson.SetBytes(t.doc, "state", Logged.String())
	if err != nil {
		t.state = RolledBack
		return fmt.Errorf("mark logged: %w", err)
	}
	if err := t.journal.write(t.id, doc); err != nil {
		t.state = RolledBack
		return err
	}
	t.doc = doc
	t.state = Logged

	refUpdates := make([]store.RefUpdate, len(t.updates))
	for i, u := range t.updates {
		refUpdates[i] = store.RefUpdate{Ref: u.Ref, Old: u.Old, New: u.New}
	}
	if err := t.store.UpdateRefs(ctx, refUpdates); err != nil {
		t.state = RolledBack
		var mismatch *store.RefMismatchError
		if errors.As(err, &mismatch) {
			t.log.Info().Str("ref", mismatch.Ref).Msg("ref moved during commit, transaction rolled back")
			return &OldValueMismatchError{Ref: mismatch.Ref, Expected: mismatch.Expected, Actual: mismatch.Actual, Err: err}
		}
		if errors.Is(err, store.ErrCorrupt) {
			return t.repair(err)
		}
		return fmt.Errorf("apply transaction %s: %w", t.id, err)
	}

	t.state = Committed
	if err := t.journal.remove(t.id); err != nil {
		// Recovery discards the log: every old value check now fails.
		t.log.Warn().Err(err).Msg("committed but log not removed")
	}
	t.log.Info().Int("refs", len(t.updates)).Msg("transaction committed")
	return nil
}

// repair reports a store inconsistency. The log stays for a later repair.
func (t *Transaction) repair(err error) error {
	t.log.Error().Err(err).Msg("store reported corruption")
	return &RepairRequiredError{ID: t.id, Path: t.journal.Path(t.id), Reason: "store reported corruption", Err: err}
}

// Abort abandons a building transaction and deletes its log.
func (t *Transaction) Abort() error {
	if t.state != Building {
		return ErrNotBuilding
	}
	t.state = RolledBack
	t.log.Debug().Msg("transaction aborted")
	return t.journal.remove(t.id)
}
