package pull

import "errors"

// Errors returned by divergent-history merges.
var (
	// ErrNoRemote indicates a merge without a remote commit.
	ErrNoRemote = errors.New("remote commit is required")
)
