package format

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dshills/stratum/internal/value"
)

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

// parseYAML parses the first YAML document. An empty document is Null.
func parseYAML(data []byte) (value.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		perr := &Error{Format: YAML, Message: err.Error(), Err: err}
		if m := yamlLinePattern.FindStringSubmatch(err.Error()); m != nil {
			perr.Line, _ = strconv.Atoi(m[1])
		}
		return value.Value{}, perr
	}

	if doc.Kind == 0 || (doc.Kind == yaml.DocumentNode && len(doc.Content) == 0) {
		return value.Null(), nil
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode {
		root = doc.Content[0]
	}
	return fromYAML(root)
}

func fromYAML(node *yaml.Node) (value.Value, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return fromYAML(node.Alias)
	case yaml.ScalarNode:
		return yamlScalar(node)
	case yaml.SequenceNode:
		items := make([]value.Value, 0, len(node.Content))
		for _, child := range node.Content {
			item, err := fromYAML(child)
			if err != nil {
				return value.Value{}, err
			}
			items = append(items, item)
		}
		return value.Array(items...), nil
	case yaml.MappingNode:
		return yamlMapping(node)
	default:
		return value.Value{}, &Error{Format: YAML, Line: node.Line, Column: node.Column, Message: fmt.Sprintf("unexpected node kind %d", node.Kind)}
	}
}

func yamlScalar(node *yaml.Node) (value.Value, error) {
	decodeErr := func(err error) error {
		return &Error{Format: YAML, Line: node.Line, Column: node.Column, Message: err.Error(), Err: err}
	}

	switch node.ShortTag() {
	case "!!null":
		return value.Null(), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return value.Value{}, decodeErr(err)
		}
		return value.Bool(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err == nil {
			return value.Int(i), nil
		}
		var f float64
		if err := node.Decode(&f); err != nil {
			return value.Value{}, decodeErr(err)
		}
		return value.Float(f), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return value.Value{}, decodeErr(err)
		}
		return value.Float(f), nil
	default:
		return value.String(node.Value), nil
	}
}

// yamlMapping converts a mapping node. Merge keys (<<) contribute members
// that explicit keys of the same mapping override.
func yamlMapping(node *yaml.Node) (value.Value, error) {
	members := make([]value.Member, 0, len(node.Content)/2)
	explicit := make(map[string]bool)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if key.Kind == yaml.AliasNode {
			key = key.Alias
		}

		if key.ShortTag() == "!!merge" {
			merged, err := yamlMergeMembers(val)
			if err != nil {
				return value.Value{}, err
			}
			for _, m := range merged {
				if !explicit[m.Key] {
					members = append(members, m)
				}
			}
			continue
		}

		item, err := fromYAML(val)
		if err != nil {
			return value.Value{}, err
		}
		explicit[key.Value] = true
		members = append(members, value.M(key.Value, item))
	}

	return value.Object(members...), nil
}

func yamlMergeMembers(node *yaml.Node) ([]value.Member, error) {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	switch node.Kind {
	case yaml.MappingNode:
		v, err := yamlMapping(node)
		if err != nil {
			return nil, err
		}
		return v.Members(), nil
	case yaml.SequenceNode:
		var out []value.Member
		for _, child := range node.Content {
			members, err := yamlMergeMembers(child)
			if err != nil {
				return nil, err
			}
			out = append(out, members...)
		}
		return out, nil
	default:
		return nil, &Error{Format: YAML, Line: node.Line, Column: node.Column, Message: "merge key value must be a mapping"}
	}
}

// serializeYAML renders v as a YAML document with two-space indentation.
func serializeYAML(v value.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toYAML(v)); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func toYAML(v value.Value) *yaml.Node {
	switch v.Kind() {
	case value.KindBool:
		b, _ := v.AsBool()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
	case value.KindInt:
		i, _ := v.AsInt()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(i, 10)}
	case value.KindFloat:
		f, _ := v.AsFloat()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: yamlFloat(f)}
	case value.KindString:
		s, _ := v.AsString()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	case value.KindArray:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.Items() {
			node.Content = append(node.Content, toYAML(item))
		}
		if len(node.Content) == 0 {
			node.Style = yaml.FlowStyle
		}
		return node
	case value.KindObject:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, m := range v.Members() {
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: m.Key},
				toYAML(m.Value),
			)
		}
		if len(node.Content) == 0 {
			node.Style = yaml.FlowStyle
		}
		return node
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

func yamlFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	default:
		return value.FormatFloat(f)
	}
}
