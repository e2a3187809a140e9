package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration loading.
var (
	// ErrInvalidConfig indicates a setting with an unusable value.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownSetting indicates an environment variable or key that maps
	// to no setting.
	ErrUnknownSetting = errors.New("unknown setting")
)

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	// Path is the file path that failed to parse.
	Path string
	// Line is the line number where the error occurred (if available).
	Line int
	// Column is the column number where the error occurred (if available).
	Column int
	// Message describes the parse error.
	Message string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// SettingError reports a setting whose value could not be applied.
type SettingError struct {
	// Source names where the value came from (a file or variable name).
	Source string
	// Setting is the dotted setting path.
	Setting string
	Value   string
	Err     error
}

// Error implements the error interface.
func (e *SettingError) Error() string {
	return fmt.Sprintf("%s: %s = %q: %v", e.Source, e.Setting, e.Value, e.Err)
}

// Unwrap returns ErrInvalidConfig and the cause.
func (e *SettingError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}
