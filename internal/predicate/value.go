// Package predicate defines the generic nested filter representation that the
// filter compiler renders into dialect-specific query fragments.
package predicate

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/roach88/tidemark/internal/planerr"
)

// Predicate is a sealed interface over the filter tree.
// Only String, Int, Float, Bool, Null, Sequence and Object implement it.
type Predicate interface {
	isPredicate()
}

// String is a string scalar.
type String string

func (String) isPredicate() {}

// Int is an integer scalar.
type Int int64

func (Int) isPredicate() {}

// Float is a floating point scalar.
type Float float64

func (Float) isPredicate() {}

// Bool is a boolean scalar.
type Bool bool

func (Bool) isPredicate() {}

// Null is the null scalar.
type Null struct{}

func (Null) isPredicate() {}

// Sequence is an ordered list of predicates.
type Sequence struct {
	items []Predicate
}

func (Sequence) isPredicate() {}

// NewSequence creates a Sequence. The slice is copied.
func NewSequence(items ...Predicate) Sequence {
	return Sequence{items: append([]Predicate(nil), items...)}
}

// Len returns the number of items.
func (s Sequence) Len() int { return len(s.items) }

// At returns the i-th item.
func (s Sequence) At(i int) Predicate { return s.items[i] }

// Items returns a copy of the items.
func (s Sequence) Items() []Predicate {
	return append([]Predicate(nil), s.items...)
}

// Field is one key/value entry of an Object.
type Field struct {
	Key   string
	Value Predicate
}

// F is shorthand for Field.
// Example: MustObject(F("$and", NewSequence(...)))
func F(key string, value Predicate) Field {
	return Field{Key: key, Value: value}
}

// Object is an ordered mapping with unique keys.
// Iteration order is insertion order and is preserved by compilation.
type Object struct {
	fields []Field
}

func (Object) isPredicate() {}

// NewObject creates an Object from fields, rejecting duplicate keys and nil values.
func NewObject(fields ...Field) (Object, error) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Key]; dup {
			return Object{}, planerr.StructuralInput("", "duplicate key %q in object", f.Key)
		}
		if f.Value == nil {
			return Object{}, planerr.StructuralInput("", "nil value for key %q", f.Key)
		}
		seen[f.Key] = struct{}{}
	}
	return Object{fields: append([]Field(nil), fields...)}, nil
}

// MustObject is NewObject that panics on error. Intended for literals.
func MustObject(fields ...Field) Object {
	obj, err := NewObject(fields...)
	if err != nil {
		panic(err)
	}
	return obj
}

// Len returns the number of fields.
func (o Object) Len() int { return len(o.fields) }

// Fields returns a copy of the fields in order.
func (o Object) Fields() []Field {
	return append([]Field(nil), o.fields...)
}

// Keys returns the keys in order.
func (o Object) Keys() []string {
	keys := make([]string, len(o.fields))
	for i, f := range o.fields {
		keys[i] = f.Key
	}
	return keys
}

// Get returns the value for key.
func (o Object) Get(key string) (Predicate, bool) {
	for _, f := range o.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Equal reports structural equality. Object key order is significant.
func Equal(a, b Predicate) bool {
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		if !ok {
			return false
		}
		if math.IsNaN(float64(av)) {
			return math.IsNaN(float64(bv))
		}
		return av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Null:
		_, ok := b.(Null)
		return ok
	case Sequence:
		bv, ok := b.(Sequence)
		if !ok || len(av.items) != len(bv.items) {
			return false
		}
		for i := range av.items {
			if !Equal(av.items[i], bv.items[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av.fields) != len(bv.fields) {
			return false
		}
		for i := range av.fields {
			if av.fields[i].Key != bv.fields[i].Key || !Equal(av.fields[i].Value, bv.fields[i].Value) {
				return false
			}
		}
		return true
	default:
		return a == nil && b == nil
	}
}

// IsString reports whether p is a bare string scalar.
func IsString(p Predicate) bool {
	_, ok := p.(String)
	return ok
}

// FromValue converts a Go value into a Predicate.
// This is the only conversion path from untyped input. Maps are converted in
// sorted key order since Go maps carry no order; use the YAML or JSON
// decoders when key order matters.
func FromValue(v any) (Predicate, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Predicate:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, planerr.StructuralInput("", "integer %d overflows int64", val)
		}
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, planerr.StructuralInput("", "integer %d overflows int64", val)
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case []any:
		items := make([]Predicate, len(val))
		for i, elem := range val {
			p, err := FromValue(elem)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = p
		}
		return Sequence{items: items}, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, len(keys))
		for i, k := range keys {
			p, err := FromValue(val[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			fields[i] = Field{Key: k, Value: p}
		}
		return Object{fields: fields}, nil
	default:
		return nil, planerr.StructuralInput("", "unsupported value type %s", reflect.TypeOf(v))
	}
}
