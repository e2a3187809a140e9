package format

import (
	"errors"
	"fmt"
)

// Errors returned by format operations.
var (
	// ErrSyntax indicates the input text could not be parsed.
	ErrSyntax = errors.New("syntax error")

	// ErrConstraint indicates a value cannot be represented in the target format.
	ErrConstraint = errors.New("value not representable in format")

	// ErrUnsupported indicates no format is known for a file name.
	ErrUnsupported = errors.New("unsupported format")

	// ErrNotStructured indicates a structured operation was requested for Text.
	ErrNotStructured = errors.New("format is not structured")
)

// Error describes text that failed to parse.
type Error struct {
	// Format is the format being parsed.
	Format Format
	// File is the file name, when known.
	File string
	// Line is the 1-based line of the error (0 if unknown).
	Line int
	// Column is the 1-based column of the error (0 if unknown).
	Column int
	// Message describes the problem.
	Message string
	// Err is the underlying library error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	where := e.File
	if where == "" {
		where = "<input>"
	}
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("%s parse error in %s at line %d, column %d: %s", e.Format, where, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s parse error in %s at line %d: %s", e.Format, where, e.Line, e.Message)
	}
	return fmt.Sprintf("%s parse error in %s: %s", e.Format, where, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSyntax
}

// Is reports ErrSyntax for every parse error.
func (e *Error) Is(target error) bool {
	return target == ErrSyntax
}

// ConstraintError describes a value that the target format cannot hold.
type ConstraintError struct {
	// Format is the target format.
	Format Format
	// Path is the dotted path of the first incompatible value ("" for the root).
	Path string
	// Reason explains the restriction that was violated.
	Reason string
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	path := e.Path
	if path == "" {
		path = "(root)"
	}
	return fmt.Sprintf("cannot serialize %s as %s: %s", path, e.Format, e.Reason)
}

// Unwrap returns ErrConstraint.
func (e *ConstraintError) Unwrap() error {
	return ErrConstraint
}

// UnsupportedError describes a file name with no known format.
type UnsupportedError struct {
	Name string
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported format for %q", e.Name)
}

// Unwrap returns ErrUnsupported.
func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

// lineCol converts a byte offset into a 1-based line and column.
func lineCol(data []byte, offset int) (int, int) {
	if offset > len(data) {
		offset = len(data)
	}
	line, col := 1, 1
	for _, c := range data[:offset] {
		if c == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
