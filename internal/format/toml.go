package format

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"

	"github.com/dshills/stratum/internal/value"
)

// table is an ordered mutable table used while walking TOML expressions
// and INI sections. Fields hold value.Value, *table or *tableArray.
type table struct {
	keys   []string
	fields map[string]any
}

// tableArray is an array of tables ([[name]]).
type tableArray struct {
	tables []*table
}

func newTable() *table {
	return &table{fields: make(map[string]any)}
}

func (t *table) set(key string, v any) {
	if _, ok := t.fields[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.fields[key] = v
}

// descend walks to the table named by parts, creating tables as needed.
// Arrays of tables resolve to their last element.
func (t *table) descend(parts []string) (*table, error) {
	current := t
	for _, part := range parts {
		switch next := current.fields[part].(type) {
		case nil:
			child := newTable()
			current.set(part, child)
			current = child
		case *table:
			current = next
		case *tableArray:
			current = next.tables[len(next.tables)-1]
		default:
			return nil, fmt.Errorf("key %q is already defined as a value", part)
		}
	}
	return current, nil
}

func (t *table) appendTable(key string) (*table, error) {
	child := newTable()
	switch existing := t.fields[key].(type) {
	case nil:
		t.set(key, &tableArray{tables: []*table{child}})
	case *tableArray:
		existing.tables = append(existing.tables, child)
	default:
		return nil, fmt.Errorf("key %q is not an array of tables", key)
	}
	return child, nil
}

func (t *table) toValue() value.Value {
	members := make([]value.Member, 0, len(t.keys))
	for _, key := range t.keys {
		switch field := t.fields[key].(type) {
		case value.Value:
			members = append(members, value.M(key, field))
		case *table:
			members = append(members, value.M(key, field.toValue()))
		case *tableArray:
			items := make([]value.Value, len(field.tables))
			for i, tbl := range field.tables {
				items[i] = tbl.toValue()
			}
			members = append(members, value.M(key, value.Array(items...)))
		}
	}
	return value.Object(members...)
}

// parseTOML validates the document with the go-toml decoder, which reports
// positions, then walks the unstable expression stream to keep key order.
func parseTOML(data []byte) (value.Value, error) {
	var scratch map[string]any
	if err := toml.Unmarshal(data, &scratch); err != nil {
		perr := &Error{Format: TOML, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return value.Value{}, perr
	}

	p := unstable.Parser{}
	p.Reset(data)

	root := newTable()
	current := root
	for p.NextExpression() {
		expr := p.Expression()
		var err error
		switch expr.Kind {
		case unstable.Table:
			current, err = root.descend(tomlKey(expr.Key()))
		case unstable.ArrayTable:
			parts := tomlKey(expr.Key())
			var parent *table
			parent, err = root.descend(parts[:len(parts)-1])
			if err == nil {
				current, err = parent.appendTable(parts[len(parts)-1])
			}
		case unstable.KeyValue:
			err = setTOMLKeyValue(current, expr)
		}
		if err != nil {
			return value.Value{}, &Error{Format: TOML, Message: err.Error(), Err: err}
		}
	}
	if err := p.Error(); err != nil {
		return value.Value{}, &Error{Format: TOML, Message: err.Error(), Err: err}
	}

	return root.toValue(), nil
}

func setTOMLKeyValue(t *table, expr *unstable.Node) error {
	parts := tomlKey(expr.Key())
	target, err := t.descend(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	v, err := tomlValue(expr.Value())
	if err != nil {
		return err
	}
	target.set(parts[len(parts)-1], v)
	return nil
}

func tomlKey(it unstable.Iterator) []string {
	var parts []string
	for it.Next() {
		parts = append(parts, string(it.Node().Data))
	}
	return parts
}

func tomlValue(n *unstable.Node) (value.Value, error) {
	switch n.Kind {
	case unstable.String:
		return value.String(string(n.Data)), nil
	case unstable.Bool:
		return value.Bool(string(n.Data) == "true"), nil
	case unstable.Integer:
		return parseTOMLInt(string(n.Data))
	case unstable.Float:
		return parseTOMLFloat(string(n.Data))
	case unstable.LocalDate, unstable.LocalTime, unstable.LocalDateTime, unstable.DateTime:
		return value.String(string(n.Data)), nil
	case unstable.Array:
		var items []value.Value
		it := n.Children()
		for it.Next() {
			item, err := tomlValue(it.Node())
			if err != nil {
				return value.Value{}, err
			}
			items = append(items, item)
		}
		return value.Array(items...), nil
	case unstable.InlineTable:
		tbl := newTable()
		it := n.Children()
		for it.Next() {
			if err := setTOMLKeyValue(tbl, it.Node()); err != nil {
				return value.Value{}, err
			}
		}
		return tbl.toValue(), nil
	default:
		return value.Value{}, fmt.Errorf("unexpected toml node %v", n.Kind)
	}
}

func parseTOMLInt(raw string) (value.Value, error) {
	s := strings.ReplaceAll(raw, "_", "")
	i, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return value.Value{}, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	return value.Int(i), nil
}

func parseTOMLFloat(raw string) (value.Value, error) {
	s := strings.ReplaceAll(raw, "_", "")
	switch s {
	case "inf", "+inf":
		return value.Float(math.Inf(1)), nil
	case "-inf":
		return value.Float(math.Inf(-1)), nil
	case "nan", "+nan", "-nan":
		return value.Float(math.NaN()), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return value.Value{}, fmt.Errorf("invalid float %q: %w", raw, err)
	}
	return value.Float(f), nil
}

// serializeTOML renders an object as TOML. Tables become [sections] only
// when every key after them is also a table, so the output parses back with
// the same key order.
func serializeTOML(v value.Value) ([]byte, error) {
	if !v.IsObject() {
		return nil, &ConstraintError{Format: TOML, Reason: "document root must be a table, got " + v.Kind().String()}
	}
	if err := checkTOML("", v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeTOMLBody(&buf, nil, v)
	return buf.Bytes(), nil
}

// checkTOML rejects nulls and mixed-kind arrays.
func checkTOML(path string, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		return &ConstraintError{Format: TOML, Path: path, Reason: "toml has no null"}
	case value.KindArray:
		items := v.Items()
		for i, item := range items {
			if item.Kind() != items[0].Kind() {
				return &ConstraintError{
					Format: TOML,
					Path:   value.IndexPath(path, i),
					Reason: fmt.Sprintf("array mixes %s and %s", items[0].Kind(), item.Kind()),
				}
			}
			if err := checkTOML(value.IndexPath(path, i), item); err != nil {
				return err
			}
		}
	case value.KindObject:
		for _, m := range v.Members() {
			if err := checkTOML(value.JoinPath(path, m.Key), m.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func isTOMLSection(v value.Value) bool {
	if v.IsObject() {
		return true
	}
	if !v.IsArray() || v.Len() == 0 {
		return false
	}
	for _, item := range v.Items() {
		if !item.IsObject() {
			return false
		}
	}
	return true
}

func writeTOMLBody(buf *bytes.Buffer, path []string, v value.Value) {
	members := v.Members()

	split := len(members)
	for split > 0 && isTOMLSection(members[split-1].Value) {
		split--
	}

	for _, m := range members[:split] {
		buf.WriteString(tomlKeyString(m.Key))
		buf.WriteString(" = ")
		writeTOMLInline(buf, m.Value)
		buf.WriteByte('\n')
	}

	for _, m := range members[split:] {
		childPath := append(append([]string{}, path...), m.Key)
		if m.Value.IsObject() {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString("[" + tomlHeader(childPath) + "]\n")
			writeTOMLBody(buf, childPath, m.Value)
			continue
		}
		for _, item := range m.Value.Items() {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString("[[" + tomlHeader(childPath) + "]]\n")
			writeTOMLBody(buf, childPath, item)
		}
	}
}

func writeTOMLInline(buf *bytes.Buffer, v value.Value) {
	switch v.Kind() {
	case value.KindBool:
		b, _ := v.AsBool()
		buf.WriteString(strconv.FormatBool(b))
	case value.KindInt:
		i, _ := v.AsInt()
		buf.WriteString(strconv.FormatInt(i, 10))
	case value.KindFloat:
		f, _ := v.AsFloat()
		buf.WriteString(tomlFloat(f))
	case value.KindString:
		s, _ := v.AsString()
		buf.WriteString(quoteBasic(s))
	case value.KindArray:
		buf.WriteByte('[')
		for i, item := range v.Items() {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeTOMLInline(buf, item)
		}
		buf.WriteByte(']')
	case value.KindObject:
		if v.Len() == 0 {
			buf.WriteString("{}")
			return
		}
		buf.WriteString("{ ")
		for i, m := range v.Members() {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(tomlKeyString(m.Key))
			buf.WriteString(" = ")
			writeTOMLInline(buf, m.Value)
		}
		buf.WriteString(" }")
	}
}

func tomlFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return value.FormatFloat(f)
	}
}

var bareKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func tomlKeyString(key string) string {
	if bareKey.MatchString(key) {
		return key
	}
	return quoteBasic(key)
}

func tomlHeader(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = tomlKeyString(p)
	}
	return strings.Join(parts, ".")
}

// quoteBasic renders s as a TOML basic string. The INI writer shares it.
func quoteBasic(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\f':
			sb.WriteString(`\f`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&sb, `\u%04X`, r)
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
