package commit

import "errors"

// Errors returned by the commit pipeline.
var (
	// ErrNothingToCommit indicates an empty staging set.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrEmptyMessage indicates a commit without a message.
	ErrEmptyMessage = errors.New("commit message is empty")
)
