// Package format converts between structured configuration text and the
// value model.
//
// The set of formats is closed: JSON, YAML, TOML and INI are structured and
// merge through value.Value; Text is the catch-all for everything else and is
// merged line by line. Callers detect the format once from the file name and
// dispatch on it; adding a format means adding one constant, one codec pair
// and one row in the suffix table.
//
// Parsers keep object keys in document order. Serializers report the first
// value a format cannot represent as a *ConstraintError naming its dotted
// path.
package format

import (
	"errors"
	"path"
	"strings"

	"github.com/dshills/stratum/internal/value"
)

// Format identifies a file format.
type Format uint8

const (
	// Text is unstructured content merged line by line.
	Text Format = iota
	// JSON covers .json and .jsonc files.
	JSON
	// YAML covers .yaml and .yml files.
	YAML
	// TOML covers .toml files.
	TOML
	// INI covers flat key/value files with sections.
	INI
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	case TOML:
		return "toml"
	case INI:
		return "ini"
	default:
		return "unknown"
	}
}

// Structured reports whether f parses into a value.Value.
func (f Format) Structured() bool {
	return f != Text
}

// suffixes maps lower-case file extensions to formats.
var suffixes = map[string]Format{
	".json":       JSON,
	".jsonc":      JSON,
	".yaml":       YAML,
	".yml":        YAML,
	".toml":       TOML,
	".ini":        INI,
	".cfg":        INI,
	".conf":       INI,
	".properties": INI,
	".txt":        Text,
	".md":         Text,
	".sh":         Text,
	".env":        Text,
}

// dotfiles maps conventional file names that use the INI format regardless
// of suffix.
var dotfiles = map[string]Format{
	".gitconfig":    INI,
	".gitmodules":   INI,
	".editorconfig": INI,
	".npmrc":        INI,
	".pypirc":       INI,
	".flake8":       INI,
	".pylintrc":     INI,
	".coveragerc":   INI,
}

// Detect returns the format for a file name or path.
// Conventional dotfiles take precedence over the suffix table.
func Detect(name string) (Format, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if f, ok := dotfiles[strings.ToLower(base)]; ok {
		return f, nil
	}
	if f, ok := suffixes[strings.ToLower(path.Ext(base))]; ok {
		return f, nil
	}
	return Text, &UnsupportedError{Name: name}
}

// DetectOrText returns the detected format, or Text when the name is not in
// the table.
func DetectOrText(name string) Format {
	f, err := Detect(name)
	if err != nil {
		return Text
	}
	return f
}

// Parse converts text in format f into a value.
func Parse(data []byte, f Format) (value.Value, error) {
	switch f {
	case JSON:
		return parseJSON(data)
	case YAML:
		return parseYAML(data)
	case TOML:
		return parseTOML(data)
	case INI:
		return parseINI(data)
	default:
		return value.Value{}, ErrNotStructured
	}
}

// ParseFile is like Parse but records name on any *Error.
func ParseFile(name string, data []byte, f Format) (value.Value, error) {
	v, err := Parse(data, f)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			perr.File = name
		}
		return value.Value{}, err
	}
	return v, nil
}

// Serialize renders v in format f.
func Serialize(v value.Value, f Format) ([]byte, error) {
	switch f {
	case JSON:
		return serializeJSON(v)
	case YAML:
		return serializeYAML(v)
	case TOML:
		return serializeTOML(v)
	case INI:
		return serializeINI(v)
	default:
		return nil, ErrNotStructured
	}
}
