package predicate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tidemark/internal/planerr"
)

// Decode converts a YAML node into a Predicate, keeping mapping key order.
func Decode(node *yaml.Node) (Predicate, error) {
	if node == nil {
		return Null{}, nil
	}

	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null{}, nil
		}
		return Decode(node.Content[0])
	case yaml.AliasNode:
		return Decode(node.Alias)
	case yaml.ScalarNode:
		return decodeScalar(node)
	case yaml.SequenceNode:
		items := make([]Predicate, len(node.Content))
		for i, child := range node.Content {
			p, err := Decode(child)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = p
		}
		return Sequence{items: items}, nil
	case yaml.MappingNode:
		fields := make([]Field, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valNode := node.Content[i], node.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, planerr.StructuralInput("", "line %d: object keys must be scalars", keyNode.Line)
			}
			p, err := Decode(valNode)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", keyNode.Value, err)
			}
			fields = append(fields, Field{Key: keyNode.Value, Value: p})
		}
		return NewObject(fields...)
	default:
		return nil, planerr.StructuralInput("", "line %d: unsupported YAML node kind %d", node.Line, node.Kind)
	}
}

func decodeScalar(node *yaml.Node) (Predicate, error) {
	switch node.ShortTag() {
	case "!!null":
		return Null{}, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return nil, planerr.StructuralInput("", "line %d: %v", node.Line, err)
		}
		return Int(n), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return nil, err
		}
		return Float(f), nil
	case "!!str", "!!timestamp", "!!binary":
		return String(node.Value), nil
	default:
		return nil, planerr.StructuralInput("", "line %d: unsupported tag %s", node.Line, node.ShortTag())
	}
}

// ParseYAML decodes a YAML document into a Predicate.
func ParseYAML(data []byte) (Predicate, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, planerr.StructuralInput("", "parse yaml: %v", err)
	}
	return Decode(&node)
}

// ParseJSON decodes a JSON document into a Predicate, keeping object key order.
// Numbers without a fraction or exponent become Int.
func ParseJSON(data []byte) (Predicate, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	p, err := decodeJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, planerr.StructuralInput("", "trailing data after JSON value")
	}
	return p, nil
}

func decodeJSON(dec *json.Decoder) (Predicate, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, planerr.StructuralInput("", "parse json: %v", err)
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			var fields []Field
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, planerr.StructuralInput("", "parse json: %v", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, planerr.StructuralInput("", "parse json: object key is %T", keyTok)
				}
				val, err := decodeJSON(dec)
				if err != nil {
					return nil, fmt.Errorf("key %q: %w", key, err)
				}
				fields = append(fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, planerr.StructuralInput("", "parse json: %v", err)
			}
			return NewObject(fields...)
		case '[':
			var items []Predicate
			for dec.More() {
				val, err := decodeJSON(dec)
				if err != nil {
					return nil, fmt.Errorf("index %d: %w", len(items), err)
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, planerr.StructuralInput("", "parse json: %v", err)
			}
			return Sequence{items: items}, nil
		}
		return nil, planerr.StructuralInput("", "parse json: unexpected delimiter %q", t)
	case string:
		return String(t), nil
	case json.Number:
		if !strings.ContainsAny(t.String(), ".eE") {
			n, err := t.Int64()
			if err != nil {
				return nil, planerr.StructuralInput("", "parse json: %v", err)
			}
			return Int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, planerr.StructuralInput("", "parse json: %v", err)
		}
		return Float(f), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null{}, nil
	default:
		return nil, planerr.Internal("parse json: unexpected token %T", tok)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler, preserving key order.
func (o *Object) UnmarshalYAML(node *yaml.Node) error {
	p, err := Decode(node)
	if err != nil {
		return err
	}
	obj, ok := p.(Object)
	if !ok {
		return planerr.StructuralInput("", "line %d: expected a mapping", node.Line)
	}
	*o = obj
	return nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving key order.
func (o *Object) UnmarshalJSON(data []byte) error {
	p, err := ParseJSON(data)
	if err != nil {
		return err
	}
	obj, ok := p.(Object)
	if !ok {
		return planerr.StructuralInput("", "expected a JSON object")
	}
	*o = obj
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Sequence) UnmarshalYAML(node *yaml.Node) error {
	p, err := Decode(node)
	if err != nil {
		return err
	}
	seq, ok := p.(Sequence)
	if !ok {
		return planerr.StructuralInput("", "line %d: expected a sequence", node.Line)
	}
	*s = seq
	return nil
}

// ToValue converts a Predicate back into plain Go values for JSON output.
// Object key order is lost.
func ToValue(p Predicate) any {
	switch v := p.(type) {
	case String:
		return string(v)
	case Int:
		return int64(v)
	case Float:
		return float64(v)
	case Bool:
		return bool(v)
	case Null:
		return nil
	case Sequence:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = ToValue(item)
		}
		return out
	case Object:
		out := make(map[string]any, len(v.fields))
		for _, f := range v.fields {
			out[f.Key] = ToValue(f.Value)
		}
		return out
	default:
		return nil
	}
}
