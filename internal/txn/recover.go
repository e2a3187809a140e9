package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/dshills/stratum/internal/store"
)

// Report lists what Recover did with each leftover log.
type Report struct {
	Replayed  []string
	Discarded []string
}

// Empty reports whether no log was found.
func (r Report) Empty() bool {
	return len(r.Replayed) == 0 && len(r.Discarded) == 0
}

// Recover resolves every log left by an interrupted process.
//
// Building logs never reached the store and are discarded. Logged logs are
// applied again when every ref still holds its recorded old value;
// otherwise another process already applied or superseded them and they are
// discarded. An unreadable log, or a store reporting corruption, stops
// recovery with a *RepairRequiredError and the log is kept.
func Recover(ctx context.Context, s store.Store, j *Journal, log zerolog.Logger) (Report, error) {
	var report Report

	if err := j.removeTemps(); err != nil {
		return report, err
	}
	ids, err := j.List()
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		replayed, err := recoverOne(ctx, s, j, id, log)
		if err != nil {
			return report, err
		}
		if replayed {
			report.Replayed = append(report.Replayed, id)
		} else {
			report.Discarded = append(report.Discarded, id)
		}
	}

	if !report.Empty() {
		log.Info().
			Int("replayed", len(report.Replayed)).
			Int("discarded", len(report.Discarded)).
			Msg("recovered transaction logs")
	}
	return report, nil
}

// recoverOne replays or discards one log and reports whether it replayed.
func recoverOne(ctx context.Context, s store.Store, j *Journal, id string, log zerolog.Logger) (bool, error) {
	path := j.Path(id)
	repair := func(reason string, err error) error {
		return &RepairRequiredError{ID: id, Path: path, Reason: reason, Err: err}
	}

	data, err := j.read(id)
	if err != nil {
		return false, fmt.Errorf("read log %s: %w", id, err)
	}
	if !gjson.ValidBytes(data) {
		return false, repair("log is not valid JSON", nil)
	}

	doc := gjson.ParseBytes(data)
	state := doc.Get("state")
	updates := doc.Get("updates")
	if state.Type != gjson.String || !updates.IsArray() {
		return false, repair("log is missing state or updates", nil)
	}
	if logID := doc.Get("id").String(); logID != id {
		return false, repair(fmt.Sprintf("log id %q does not match file name", logID), nil)
	}

	log = log.With().Str("txn", id).Logger()
	switch state.String() {
	case Building.String():
		log.Info().Msg("discarding unfinished transaction")
		return false, j.remove(id)
	case Logged.String():
	default:
		return false, repair(fmt.Sprintf("unknown state %q", state.String()), nil)
	}

	var refUpdates []store.RefUpdate
	var bad error
	updates.ForEach(func(_, u gjson.Result) bool {
		ref := u.Get("ref")
		if ref.Type != gjson.String || ref.String() == "" {
			bad = repair("update without ref", nil)
			return false
		}
		refUpdates = append(refUpdates, store.RefUpdate{
			Ref: ref.String(),
			Old: store.ID(u.Get("old").String()),
			New: store.ID(u.Get("new").String()),
		})
		return true
	})
	if bad != nil {
		return false, bad
	}
	if len(refUpdates) == 0 {
		return false, j.remove(id)
	}

	for _, u := range refUpdates {
		current, _, err := s.ReadRef(ctx, u.Ref)
		if err != nil {
			if errors.Is(err, store.ErrCorrupt) {
				return false, repair("store reported corruption", err)
			}
			return false, fmt.Errorf("recover %s: %w", id, err)
		}
		if current != u.Old {
			log.Info().Str("ref", u.Ref).Msg("discarding stale transaction")
			return false, j.remove(id)
		}
	}

	if err := s.UpdateRefs(ctx, refUpdates); err != nil {
		switch {
		case errors.Is(err, store.ErrRefMismatch):
			log.Info().Msg("discarding stale transaction")
			return false, j.remove(id)
		case errors.Is(err, store.ErrCorrupt):
			return false, repair("store reported corruption", err)
		default:
			return false, fmt.Errorf("replay %s: %w", id, err)
		}
	}

	log.Info().Int("refs", len(refUpdates)).Msg("replayed transaction")
	return true, j.remove(id)
}
