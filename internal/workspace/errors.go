package workspace

import (
	"errors"
	"fmt"

	"github.com/dshills/stratum/internal/layer"
)

// Errors returned by the orchestrator.
var (
	// ErrNoWorkspaceRoot indicates Materialize on a merger without a root.
	ErrNoWorkspaceRoot = errors.New("no workspace root configured")
)

// FileError is a file-local failure: a layer's content that would not
// parse, or a merged value the target format cannot hold. Other files of
// the same merge are unaffected.
type FileError struct {
	Path  string
	Layer layer.Ref
	Err   error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	return fmt.Sprintf("%s (layer %s): %v", e.Path, e.Layer.Layer, e.Err)
}

// Unwrap returns the underlying format error.
func (e *FileError) Unwrap() error {
	return e.Err
}
