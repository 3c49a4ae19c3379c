package predicate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tidemark/internal/planerr"
)

func TestNewObject_RejectsDuplicateKeys(t *testing.T) {
	_, err := NewObject(F("a", Int(1)), F("a", Int(2)))
	require.Error(t, err)
	assert.True(t, planerr.IsStructuralInput(err))
	assert.Contains(t, err.Error(), `"a"`)
}

func TestNewObject_RejectsNilValue(t *testing.T) {
	_, err := NewObject(F("a", nil))
	require.Error(t, err)
}

func TestObject_IsImmutable(t *testing.T) {
	fields := []Field{F("a", Int(1))}
	obj := MustObject(fields...)
	fields[0] = F("b", Int(2))

	assert.Equal(t, []string{"a"}, obj.Keys())

	out := obj.Fields()
	out[0] = F("c", Int(3))
	assert.Equal(t, []string{"a"}, obj.Keys())
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Predicate
		want bool
	}{
		{"same string", String("x"), String("x"), true},
		{"different scalar kinds", Int(1), Float(1), false},
		{"null", Null{}, Null{}, true},
		{"nan", Float(math.NaN()), Float(math.NaN()), true},
		{"nested equal",
			MustObject(F("$and", NewSequence(MustObject(F("a", Int(1))), MustObject(F("b", Bool(true)))))),
			MustObject(F("$and", NewSequence(MustObject(F("a", Int(1))), MustObject(F("b", Bool(true)))))),
			true},
		{"key order matters",
			MustObject(F("a", Int(1)), F("b", Int(2))),
			MustObject(F("b", Int(2)), F("a", Int(1))),
			false},
		{"sequence length", NewSequence(Int(1)), NewSequence(Int(1), Int(2)), false},
		{"both nil", nil, nil, true},
		{"nil vs null", nil, Null{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a))
		})
	}
}

func TestFromValue(t *testing.T) {
	got, err := FromValue(map[string]any{
		"b":    []any{1, 2.5, "x"},
		"a":    true,
		"none": nil,
	})
	require.NoError(t, err)

	want := MustObject(
		F("a", Bool(true)),
		F("b", NewSequence(Int(1), Float(2.5), String("x"))),
		F("none", Null{}),
	)
	assert.True(t, Equal(want, got))
}

func TestFromValue_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"struct", struct{}{}},
		{"nested channel", []any{make(chan int)}},
		{"uint overflow", uint64(math.MaxUint64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromValue(tt.in)
			require.Error(t, err)
			assert.True(t, planerr.IsStructuralInput(err))
		})
	}
}

func TestParseYAML_PreservesOrder(t *testing.T) {
	p, err := ParseYAML([]byte(`
zeta: 1
$or:
  - alpha: {$gt: 1.5}
  - beta: null
enabled: true
name: "x"
`))
	require.NoError(t, err)

	obj, ok := p.(Object)
	require.True(t, ok)
	assert.Equal(t, []string{"zeta", "$or", "enabled", "name"}, obj.Keys())

	or, _ := obj.Get("$or")
	seq := or.(Sequence)
	require.Equal(t, 2, seq.Len())
	assert.True(t, Equal(MustObject(F("alpha", MustObject(F("$gt", Float(1.5))))), seq.At(0)))
	assert.True(t, Equal(MustObject(F("beta", Null{})), seq.At(1)))
}

func TestParseYAML_DuplicateKey(t *testing.T) {
	_, err := ParseYAML([]byte("a: 1\na: 2\n"))
	require.Error(t, err)
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Predicate
	}{
		{"int", `42`, Int(42)},
		{"float", `4.5`, Float(4.5)},
		{"exponent", `1e3`, Float(1000)},
		{"string", `"s"`, String("s")},
		{"null", `null`, Null{}},
		{"ordered object", `{"b":1,"a":[true,false]}`,
			MustObject(F("b", Int(1)), F("a", NewSequence(Bool(true), Bool(false))))},
		{"empty object", `{}`, MustObject()},
		{"empty array", `[]`, NewSequence()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON([]byte(tt.in))
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %#v", got)
		})
	}
}

func TestParseJSON_Errors(t *testing.T) {
	for _, in := range []string{``, `{"a":`, `1 2`, `{"a":1,"a":2}`} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseJSON([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestObject_UnmarshalYAML(t *testing.T) {
	var doc struct {
		Where Object `yaml:"where"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("where:\n  b: 1\n  a: 2\n"), &doc))
	assert.Equal(t, []string{"b", "a"}, doc.Where.Keys())

	err := yaml.Unmarshal([]byte("where: [1, 2]\n"), &doc)
	assert.Error(t, err)
}

func TestObject_UnmarshalJSON(t *testing.T) {
	var obj Object
	require.NoError(t, obj.UnmarshalJSON([]byte(`{"y":1,"x":2}`)))
	assert.Equal(t, []string{"y", "x"}, obj.Keys())

	assert.Error(t, obj.UnmarshalJSON([]byte(`"nope"`)))
}

func TestToValue(t *testing.T) {
	p := MustObject(F("a", NewSequence(Int(1), Null{})), F("b", Float(0.5)))
	assert.Equal(t, map[string]any{"a": []any{int64(1), nil}, "b": 0.5}, ToValue(p))
}
