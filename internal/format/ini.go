package format

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/dshills/stratum/internal/value"
)

var (
	iniIntPattern   = regexp.MustCompile(`^[+-]?[0-9]+$`)
	iniFloatPattern = regexp.MustCompile(`^[+-]?([0-9]+\.[0-9]*|\.[0-9]+|[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// iniOptions reads and writes raw values: only whole-line comments, '=' as
// the sole delimiter and surrounding quotes left for iniValue to decode.
var iniOptions = ini.LoadOptions{
	IgnoreInlineComment:      true,
	PreserveSurroundedQuote:  true,
	KeyValueDelimiters:       "=",
	KeyValueDelimiterOnWrite: "=",
}

func init() {
	ini.PrettyFormat = false
	ini.PrettyEqual = true
	ini.PrettySection = true
	ini.LineBreak = "\n"
}

const iniUnclosedSection = "unclosed section: "

// parseINI parses flat key/value files with optional [sections]. Keys
// before the first section, and keys of an explicit [DEFAULT] section, live
// at the top level.
func parseINI(data []byte) (value.Value, error) {
	f, err := ini.LoadSources(iniOptions, data)
	if err != nil {
		return value.Value{}, iniError(data, err)
	}

	root := newTable()
	for _, sec := range f.Sections() {
		target := root
		if name := sec.Name(); name != ini.DefaultSection {
			if _, exists := root.fields[name]; exists {
				return value.Value{}, &Error{Format: INI, Line: iniLine(data, "["+name+"]"), Message: fmt.Sprintf("section %q conflicts with a key", name)}
			}
			target = newTable()
			root.set(name, target)
		}
		for _, key := range sec.Keys() {
			v, err := iniValue(strings.TrimSpace(key.Value()))
			if err != nil {
				return value.Value{}, &Error{Format: INI, Line: iniLine(data, key.Name()), Message: err.Error(), Err: err}
			}
			target.set(key.Name(), v)
		}
	}
	return root.toValue(), nil
}

// iniError converts a load error into an *Error, recovering the line from
// the offending text the library reports.
func iniError(data []byte, err error) *Error {
	perr := &Error{Format: INI, Message: err.Error(), Err: err}

	var delim ini.ErrDelimiterNotFound
	switch {
	case errors.As(err, &delim):
		perr.Line = iniLine(data, delim.Line)
		perr.Message = "expected key = value"
	case strings.HasPrefix(err.Error(), iniUnclosedSection):
		perr.Line = iniLine(data, strings.TrimPrefix(err.Error(), iniUnclosedSection))
		perr.Message = "unterminated section header"
	}
	return perr
}

// iniLine returns the 1-based line whose trimmed text equals text, or the
// first line starting with it, or 0.
func iniLine(data []byte, text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == text {
			return i + 1
		}
	}
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), text) {
			return i + 1
		}
	}
	return 0
}

// iniValue types a raw value: quoted strings, booleans, integers, floats,
// and everything else as a plain string.
func iniValue(raw string) (value.Value, error) {
	if strings.HasPrefix(raw, `"`) {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return value.Value{}, fmt.Errorf("invalid quoted value %s", raw)
		}
		return value.String(s), nil
	}

	switch raw {
	case "true":
		return value.Bool(true), nil
	case "false":
		return value.Bool(false), nil
	}

	if iniIntPattern.MatchString(raw) {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return value.Int(i), nil
		}
	}
	if iniFloatPattern.MatchString(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return value.Float(f), nil
		}
	}
	return value.String(raw), nil
}

// serializeINI renders a two-level object as INI.
//
// INI has no way to place a key of the top level after a section, so every
// top-level scalar is written before the first [section]. Reading the
// output back yields the same members with top-level scalars moved ahead of
// the sections; the order inside each level is kept. Anything nested below
// a section key is rejected.
func serializeINI(v value.Value) ([]byte, error) {
	if !v.IsObject() {
		return nil, &ConstraintError{Format: INI, Reason: "document root must be an object, got " + v.Kind().String()}
	}
	if err := checkINI(v); err != nil {
		return nil, err
	}

	f := ini.Empty(iniOptions)
	top := f.Section(ini.DefaultSection)
	for _, m := range v.Members() {
		if m.Value.IsObject() {
			continue
		}
		if _, err := top.NewKey(m.Key, iniScalar(m.Value)); err != nil {
			return nil, &ConstraintError{Format: INI, Path: m.Key, Reason: err.Error()}
		}
	}
	for _, m := range v.Members() {
		if !m.Value.IsObject() {
			continue
		}
		sec, err := f.NewSection(m.Key)
		if err != nil {
			return nil, &ConstraintError{Format: INI, Path: m.Key, Reason: err.Error()}
		}
		for _, child := range m.Value.Members() {
			if _, err := sec.NewKey(child.Key, iniScalar(child.Value)); err != nil {
				return nil, &ConstraintError{Format: INI, Path: value.JoinPath(m.Key, child.Key), Reason: err.Error()}
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write ini: %w", err)
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	if len(out) == 0 {
		return []byte{}, nil
	}
	return append(out, '\n'), nil
}

// checkINI walks members in document order and reports the first value
// INI cannot hold.
func checkINI(root value.Value) error {
	for _, m := range root.Members() {
		if err := checkINIKey(m.Key, m.Key); err != nil {
			return err
		}
		if !m.Value.IsObject() {
			if err := checkINIScalar(m.Key, m.Value); err != nil {
				return err
			}
			continue
		}
		if strings.ContainsAny(m.Key, "]\n\r") {
			return &ConstraintError{Format: INI, Path: m.Key, Reason: "section name cannot contain ']' or line breaks"}
		}
		if m.Key == ini.DefaultSection {
			return &ConstraintError{Format: INI, Path: m.Key, Reason: "section name " + ini.DefaultSection + " is reserved for top-level keys"}
		}
		for _, child := range m.Value.Members() {
			path := value.JoinPath(m.Key, child.Key)
			if err := checkINIKey(path, child.Key); err != nil {
				return err
			}
			if child.Value.IsObject() {
				return &ConstraintError{Format: INI, Path: firstLeaf(path, child.Value), Reason: "ini supports at most two levels of nesting"}
			}
			if err := checkINIScalar(path, child.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkINIKey(path, key string) error {
	if key == "" || key != strings.TrimSpace(key) || strings.ContainsAny(key, "=\n\r\"`") || key[0] == '[' || key[0] == ';' || key[0] == '#' {
		return &ConstraintError{Format: INI, Path: path, Reason: "key cannot be written as an ini key"}
	}
	return nil
}

func checkINIScalar(path string, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		return &ConstraintError{Format: INI, Path: path, Reason: "ini has no null"}
	case value.KindArray:
		return &ConstraintError{Format: INI, Path: path, Reason: "ini has no arrays"}
	case value.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &ConstraintError{Format: INI, Path: path, Reason: "ini has no NaN or infinity"}
		}
	}
	return nil
}

// firstLeaf returns the path of the first leaf below v, or path itself when
// v has no members.
func firstLeaf(path string, v value.Value) string {
	for v.IsObject() && v.Len() > 0 {
		m := v.Members()[0]
		path = value.JoinPath(path, m.Key)
		v = m.Value
	}
	return path
}

// iniScalar renders a checked scalar as raw value text.
func iniScalar(v value.Value) string {
	switch v.Kind() {
	case value.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case value.KindInt:
		i, _ := v.AsInt()
		return strconv.FormatInt(i, 10)
	case value.KindFloat:
		f, _ := v.AsFloat()
		return value.FormatFloat(f)
	default:
		s, _ := v.AsString()
		return iniString(s)
	}
}

// iniString quotes s when the bare text would read back differently.
func iniString(s string) string {
	if s == "" || s != strings.TrimSpace(s) || strings.ContainsAny(s, "\n\r\t`") || strings.HasSuffix(s, `\`) {
		return quoteBasic(s)
	}
	if bare, err := iniValue(s); err == nil {
		if got, ok := bare.AsString(); ok && got == s {
			return s
		}
	}
	return quoteBasic(s)
}
