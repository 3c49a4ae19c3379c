package hwm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidemark/internal/planerr"
)

func TestIntegralKinds_Parse(t *testing.T) {
	for _, kind := range []Kind{IntKind{}, DecimalKind{}} {
		t.Run(kind.Name(), func(t *testing.T) {
			tests := []struct {
				name string
				raw  any
				want IntValue
			}{
				{"int64", int64(7), 7},
				{"int", 7, 7},
				{"uint32", uint32(7), 7},
				{"float whole", 3.0, 3},
				{"float32 whole", float32(12), 12},
				{"string", "42", 42},
				{"string trailing zeros", "3.000", 3},
				{"negative", "-5", -5},
				{"exponent", "1e3", 1000},
				{"bytes", []byte("15"), 15},
				{"json number", json.Number("8"), 8},
				{"apd", apd.New(30, -1), 3},
				{"passthrough", IntValue(9), 9},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := kind.Parse(tt.raw)
					require.NoError(t, err)
					assert.Equal(t, tt.want, got)
				})
			}
		})
	}
}

func TestIntegralKinds_RejectFraction(t *testing.T) {
	for _, kind := range []Kind{IntKind{}, DecimalKind{}} {
		t.Run(kind.Name(), func(t *testing.T) {
			for _, raw := range []any{3.5, "3.5", "-0.25", []byte("10.01"), apd.New(35, -1)} {
				_, err := kind.Parse(raw)
				require.Error(t, err, "raw=%v", raw)
				assert.True(t, planerr.IsTypeMismatch(err))
				assert.Contains(t, err.Error(), "cannot have fraction part")
			}
		})
	}
}

func TestIntegralKinds_RejectGarbage(t *testing.T) {
	kind := DecimalKind{}
	for _, raw := range []any{"abc", "NaN", "Infinity", true, time.Now(), uint64(1 << 63), "99999999999999999999"} {
		_, err := kind.Parse(raw)
		require.Error(t, err, "raw=%v", raw)
		assert.True(t, planerr.IsTypeMismatch(err))
	}
}

func TestIntKind_CompareAndSerialize(t *testing.T) {
	k := IntKind{}

	cmp, err := k.Compare(IntValue(1), IntValue(2))
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = k.Compare(IntValue(2), IntValue(2))
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	_, err = k.Compare(IntValue(1), NewDate(2024, 1, 1))
	assert.Error(t, err)

	s, err := k.Serialize(IntValue(-12))
	require.NoError(t, err)
	assert.Equal(t, "-12", s)

	v, err := k.Deserialize(s)
	require.NoError(t, err)
	assert.Equal(t, IntValue(-12), v)
}

func TestIntKind_Offset(t *testing.T) {
	v, err := IntKind{}.ApplyOffset(IntValue(1000), "100")
	require.NoError(t, err)
	assert.Equal(t, IntValue(900), v)

	_, err = IntKind{}.ApplyOffset(IntValue(1000), "1.5")
	assert.Error(t, err)
}

func TestKinds_Step(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		kind Stepper
		from Value
		step string
		want Value
	}{
		{IntKind{}, IntValue(1000), "100", IntValue(1100)},
		{DecimalKind{}, IntValue(-5), "5", IntValue(0)},
		{DateKind{}, NewDate(2024, 2, 28), "2d", NewDate(2024, 3, 1)},
		{DateTimeKind{}, DateTimeValue{ts}, "90m", DateTimeValue{ts.Add(90 * time.Minute)}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.(Kind).Name(), func(t *testing.T) {
			got, err := tt.kind.ApplyStep(tt.from, tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateKind(t *testing.T) {
	k := DateKind{}

	tests := []struct {
		name string
		raw  any
		want DateValue
	}{
		{"iso", "2024-03-05", NewDate(2024, 3, 5)},
		{"time truncates", time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC), NewDate(2024, 3, 5)},
		{"timestamp string", "2024-03-05T10:00:00Z", NewDate(2024, 3, 5)},
		{"bytes", []byte("2024-03-05"), NewDate(2024, 3, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := k.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := k.Parse("05/03/2024")
	assert.True(t, planerr.IsTypeMismatch(err))

	s, err := k.Serialize(NewDate(2024, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", s)

	cmp, err := k.Compare(NewDate(2024, 3, 5), NewDate(2024, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	shifted, err := k.ApplyOffset(NewDate(2024, 3, 5), "2d")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, 3, 3), shifted)

	shifted, err = k.ApplyOffset(NewDate(2024, 3, 5), "24h")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, 3, 4), shifted)

	_, err = k.ApplyOffset(NewDate(2024, 3, 5), "36h")
	assert.Error(t, err)
}

func TestDateTimeKind(t *testing.T) {
	k := DateTimeKind{}
	ts := time.Date(2024, 3, 5, 10, 11, 12, 500000000, time.UTC)

	for _, raw := range []any{ts, "2024-03-05T10:11:12.5Z", "2024-03-05 10:11:12.5", "2024-03-05T10:11:12.5"} {
		got, err := k.Parse(raw)
		require.NoError(t, err, "raw=%v", raw)
		dt := got.(DateTimeValue)
		assert.True(t, dt.Equal(ts), "raw=%v got=%v", raw, dt)
	}

	s, err := k.Serialize(DateTimeValue{ts})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T10:11:12.5Z", s)

	back, err := k.Deserialize(s)
	require.NoError(t, err)
	assert.True(t, back.(DateTimeValue).Equal(ts))

	shifted, err := k.ApplyOffset(DateTimeValue{ts}, "90m")
	require.NoError(t, err)
	assert.True(t, shifted.(DateTimeValue).Equal(ts.Add(-90*time.Minute)))

	_, err = k.ApplyOffset(DateTimeValue{ts}, "yesterday")
	assert.True(t, planerr.IsCode(err, planerr.CodeInvalidInput))

	_, err = k.Compare(DateTimeValue{ts}, IntValue(1))
	assert.Error(t, err)
}
