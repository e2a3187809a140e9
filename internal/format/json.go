package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"

	"github.com/dshills/stratum/internal/value"
)

var prettyOptions = &pretty.Options{
	Width:    80,
	Prefix:   "",
	Indent:   "  ",
	SortKeys: false,
}

// parseJSON parses JSON (comments and trailing commas allowed) keeping
// object keys in document order.
func parseJSON(data []byte) (value.Value, error) {
	// jsonc blanks out comments in place, so offsets stay valid for errors.
	clean := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(clean)) == 0 {
		return value.Value{}, &Error{Format: JSON, Line: 1, Message: "empty document"}
	}
	if !gjson.ValidBytes(clean) {
		return value.Value{}, jsonSyntaxError(clean)
	}
	return fromGJSON(gjson.ParseBytes(clean)), nil
}

// jsonSyntaxError locates the first syntax error using encoding/json,
// which reports byte offsets.
func jsonSyntaxError(data []byte) error {
	var scratch any
	err := json.Unmarshal(data, &scratch)
	perr := &Error{Format: JSON, Message: "invalid JSON", Err: err}
	var serr *json.SyntaxError
	if errors.As(err, &serr) {
		perr.Line, perr.Column = lineCol(data, int(serr.Offset))
		perr.Message = serr.Error()
	}
	return perr
}

func fromGJSON(r gjson.Result) value.Value {
	switch r.Type {
	case gjson.Null:
		return value.Null()
	case gjson.False:
		return value.Bool(false)
	case gjson.True:
		return value.Bool(true)
	case gjson.Number:
		return parseNumber(strings.TrimSpace(r.Raw))
	case gjson.String:
		return value.String(r.Str)
	case gjson.JSON:
		if r.IsArray() {
			var items []value.Value
			r.ForEach(func(_, item gjson.Result) bool {
				items = append(items, fromGJSON(item))
				return true
			})
			return value.Array(items...)
		}
		var members []value.Member
		r.ForEach(func(key, item gjson.Result) bool {
			members = append(members, value.M(key.String(), fromGJSON(item)))
			return true
		})
		return value.Object(members...)
	default:
		return value.Null()
	}
}

// parseNumber keeps integer literals as Int and only falls back to Float for
// fractions, exponents or integers that overflow int64.
func parseNumber(raw string) value.Value {
	if !strings.ContainsAny(raw, ".eE") {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return value.Int(i)
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// Out of range floats saturate to ±Inf; keep the literal instead.
		return value.String(raw)
	}
	return value.Float(f)
}

// serializeJSON renders v as indented JSON with a trailing newline.
func serializeJSON(v value.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, "", v); err != nil {
		return nil, err
	}
	out := pretty.PrettyOptions(buf.Bytes(), prettyOptions)
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

func writeJSON(buf *bytes.Buffer, path string, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		buf.WriteString("null")
	case value.KindBool:
		b, _ := v.AsBool()
		buf.WriteString(strconv.FormatBool(b))
	case value.KindInt:
		i, _ := v.AsInt()
		buf.WriteString(strconv.FormatInt(i, 10))
	case value.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &ConstraintError{Format: JSON, Path: path, Reason: "NaN and infinity are not valid JSON numbers"}
		}
		buf.WriteString(value.FormatFloat(f))
	case value.KindString:
		s, _ := v.AsString()
		buf.Write(quoteJSON(s))
	case value.KindArray:
		buf.WriteByte('[')
		for i, item := range v.Items() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, value.IndexPath(path, i), item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case value.KindObject:
		buf.WriteByte('{')
		for i, m := range v.Members() {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(quoteJSON(m.Key))
			buf.WriteByte(':')
			if err := writeJSON(buf, value.JoinPath(path, m.Key), m.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// quoteJSON returns s as a JSON string literal without HTML escaping.
func quoteJSON(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}
