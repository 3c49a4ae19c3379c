package hwm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/tidemark/internal/planerr"
)

// Value is an HWM value. Values are totally ordered within their Kind.
type Value interface {
	String() string
}

// IntValue is the value of the int and decimal kinds.
type IntValue int64

func (v IntValue) String() string { return strconv.FormatInt(int64(v), 10) }

// DateValue is a calendar date stored as UTC midnight.
type DateValue struct{ time.Time }

func (v DateValue) String() string { return v.Format(time.DateOnly) }

// NewDate creates a DateValue.
func NewDate(year int, month time.Month, day int) DateValue {
	return DateValue{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateTimeValue is a point in time.
type DateTimeValue struct{ time.Time }

func (v DateTimeValue) String() string { return v.Format(time.RFC3339Nano) }

// Kind owns parsing, comparison and serialization of one family of values.
type Kind interface {
	// Name is the canonical kind name persisted with the value.
	Name() string

	// Parse converts a raw value (driver value, string, number) into a Value.
	// It is the construction-time validation point for the kind.
	Parse(raw any) (Value, error)

	// Compare returns -1, 0 or +1. Both values must belong to this kind.
	Compare(a, b Value) (int, error)

	// Serialize renders v for persistence.
	Serialize(v Value) (string, error)

	// Deserialize is the inverse of Serialize.
	Deserialize(s string) (Value, error)
}

// Offsetter is implemented by kinds that support moving a value back by an
// offset before it is used as the lower bound.
type Offsetter interface {
	ApplyOffset(v Value, offset string) (Value, error)
}

// Stepper is implemented by kinds that can advance a value by a batch step.
// Steps use the offset syntax of the kind.
type Stepper interface {
	ApplyStep(v Value, step string) (Value, error)
}

// Kind names.
const (
	KindInt      = "int"
	KindDecimal  = "decimal"
	KindDate     = "date"
	KindDateTime = "datetime"
)

// IntKind holds integer values.
type IntKind struct{}

func (IntKind) Name() string { return KindInt }

func (k IntKind) Parse(raw any) (Value, error) { return parseIntegral(k.Name(), raw) }

func (k IntKind) Compare(a, b Value) (int, error) { return compareInts(k.Name(), a, b) }

func (k IntKind) Serialize(v Value) (string, error) { return serializeInt(k.Name(), v) }

func (k IntKind) Deserialize(s string) (Value, error) { return parseIntegral(k.Name(), s) }

func (k IntKind) ApplyStep(v Value, step string) (Value, error) {
	return shiftInt(k.Name(), v, step, 1)
}

func (k IntKind) ApplyOffset(v Value, offset string) (Value, error) {
	return shiftInt(k.Name(), v, offset, -1)
}

// DecimalKind accepts decimal-typed source values as long as they have no
// fractional part: 3.0 becomes 3, 3.5 is rejected.
type DecimalKind struct{}

func (DecimalKind) Name() string { return KindDecimal }

func (k DecimalKind) Parse(raw any) (Value, error) { return parseIntegral(k.Name(), raw) }

func (k DecimalKind) Compare(a, b Value) (int, error) { return compareInts(k.Name(), a, b) }

func (k DecimalKind) Serialize(v Value) (string, error) { return serializeInt(k.Name(), v) }

func (k DecimalKind) Deserialize(s string) (Value, error) { return parseIntegral(k.Name(), s) }

func (k DecimalKind) ApplyOffset(v Value, offset string) (Value, error) {
	return shiftInt(k.Name(), v, offset, -1)
}

func (k DecimalKind) ApplyStep(v Value, step string) (Value, error) {
	return shiftInt(k.Name(), v, step, 1)
}

func parseIntegral(kind string, raw any) (Value, error) {
	switch v := raw.(type) {
	case IntValue:
		return v, nil
	case int:
		return IntValue(v), nil
	case int8:
		return IntValue(v), nil
	case int16:
		return IntValue(v), nil
	case int32:
		return IntValue(v), nil
	case int64:
		return IntValue(v), nil
	case uint8:
		return IntValue(v), nil
	case uint16:
		return IntValue(v), nil
	case uint32:
		return IntValue(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, planerr.TypeMismatch(kind, "%s value %d overflows int64", kind, v)
		}
		return IntValue(v), nil
	case float32:
		return parseFloat(kind, float64(v))
	case float64:
		return parseFloat(kind, v)
	case json.Number:
		return parseDecimalString(kind, v.String())
	case string:
		return parseDecimalString(kind, v)
	case []byte:
		return parseDecimalString(kind, string(v))
	case *apd.Decimal:
		return decimalToInt(kind, v)
	case apd.Decimal:
		return decimalToInt(kind, &v)
	default:
		return nil, planerr.TypeMismatch(kind, "cannot use %T as %s value", raw, kind)
	}
}

func parseFloat(kind string, f float64) (Value, error) {
	d, err := new(apd.Decimal).SetFloat64(f)
	if err != nil {
		return nil, planerr.TypeMismatch(kind, "%s value %v: %v", kind, f, err)
	}
	return decimalToInt(kind, d)
}

func parseDecimalString(kind, s string) (Value, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, planerr.TypeMismatch(kind, "%s value %q is not a number", kind, s)
	}
	return decimalToInt(kind, d)
}

func decimalToInt(kind string, d *apd.Decimal) (Value, error) {
	if d.Form != apd.Finite {
		return nil, planerr.TypeMismatch(kind, "%s value %s is not finite", kind, d.String())
	}
	var integ, frac apd.Decimal
	d.Modf(&integ, &frac)
	if !frac.IsZero() {
		return nil, planerr.TypeMismatch(kind, "%s value %s cannot have fraction part", kind, d.Text('f'))
	}
	n, err := integ.Int64()
	if err != nil {
		return nil, planerr.TypeMismatch(kind, "%s value %s overflows int64", kind, d.Text('f'))
	}
	return IntValue(n), nil
}

func compareInts(kind string, a, b Value) (int, error) {
	av, aok := a.(IntValue)
	bv, bok := b.(IntValue)
	if !aok || !bok {
		return 0, planerr.TypeMismatch(kind, "cannot compare %T with %T as %s", a, b, kind)
	}
	switch {
	case av < bv:
		return -1, nil
	case av > bv:
		return 1, nil
	default:
		return 0, nil
	}
}

func serializeInt(kind string, v Value) (string, error) {
	iv, ok := v.(IntValue)
	if !ok {
		return "", planerr.TypeMismatch(kind, "cannot serialize %T as %s", v, kind)
	}
	return iv.String(), nil
}

// shiftInt moves v by amount: back for an offset (sign -1), forward for a
// step (sign 1).
func shiftInt(kind string, v Value, amount string, sign int64) (Value, error) {
	iv, ok := v.(IntValue)
	if !ok {
		return nil, planerr.TypeMismatch(kind, "cannot shift %T as %s", v, kind)
	}
	by, err := parseIntegral(kind, amount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", shiftName(sign), err)
	}
	return iv + IntValue(sign)*by.(IntValue), nil
}

func shiftName(sign int64) string {
	if sign < 0 {
		return "offset"
	}
	return "step"
}

// DateKind holds calendar dates.
type DateKind struct{}

func (DateKind) Name() string { return KindDate }

func (k DateKind) Parse(raw any) (Value, error) {
	switch v := raw.(type) {
	case DateValue:
		return v, nil
	case DateTimeValue:
		return toDate(v.Time), nil
	case time.Time:
		return toDate(v), nil
	case []byte:
		return k.Parse(string(v))
	case string:
		s := strings.TrimSpace(v)
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			return DateValue{t}, nil
		}
		if t, err := parseTimestamp(s); err == nil {
			return toDate(t), nil
		}
		return nil, planerr.TypeMismatch(k.Name(), "date value %q is not in YYYY-MM-DD form", v)
	default:
		return nil, planerr.TypeMismatch(k.Name(), "cannot use %T as date value", raw)
	}
}

func toDate(t time.Time) DateValue {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func (k DateKind) Compare(a, b Value) (int, error) {
	av, aok := a.(DateValue)
	bv, bok := b.(DateValue)
	if !aok || !bok {
		return 0, planerr.TypeMismatch(k.Name(), "cannot compare %T with %T as date", a, b)
	}
	return av.Compare(bv.Time), nil
}

func (k DateKind) Serialize(v Value) (string, error) {
	dv, ok := v.(DateValue)
	if !ok {
		return "", planerr.TypeMismatch(k.Name(), "cannot serialize %T as date", v)
	}
	return dv.String(), nil
}

func (k DateKind) Deserialize(s string) (Value, error) { return k.Parse(s) }

func (k DateKind) ApplyOffset(v Value, offset string) (Value, error) {
	return k.shift(v, offset, -1)
}

func (k DateKind) ApplyStep(v Value, step string) (Value, error) {
	return k.shift(v, step, 1)
}

func (k DateKind) shift(v Value, amount string, sign int) (Value, error) {
	dv, ok := v.(DateValue)
	if !ok {
		return nil, planerr.TypeMismatch(k.Name(), "cannot shift %T as date", v)
	}
	d, err := parseShiftDuration(amount, int64(sign))
	if err != nil {
		return nil, err
	}
	if d%(24*time.Hour) != 0 {
		return nil, planerr.TypeMismatch(k.Name(), "date %s %q must be a whole number of days", shiftName(int64(sign)), amount)
	}
	return DateValue{dv.AddDate(0, 0, sign*int(d/(24*time.Hour)))}, nil
}

// DateTimeKind holds timestamps.
type DateTimeKind struct{}

func (DateTimeKind) Name() string { return KindDateTime }

func (k DateTimeKind) Parse(raw any) (Value, error) {
	switch v := raw.(type) {
	case DateTimeValue:
		return v, nil
	case DateValue:
		return DateTimeValue{v.Time}, nil
	case time.Time:
		return DateTimeValue{v}, nil
	case []byte:
		return k.Parse(string(v))
	case string:
		t, err := parseTimestamp(strings.TrimSpace(v))
		if err != nil {
			return nil, planerr.TypeMismatch(k.Name(), "datetime value %q is not a timestamp", v)
		}
		return DateTimeValue{t}, nil
	default:
		return nil, planerr.TypeMismatch(k.Name(), "cannot use %T as datetime value", raw)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func (k DateTimeKind) Compare(a, b Value) (int, error) {
	av, aok := a.(DateTimeValue)
	bv, bok := b.(DateTimeValue)
	if !aok || !bok {
		return 0, planerr.TypeMismatch(k.Name(), "cannot compare %T with %T as datetime", a, b)
	}
	return av.Compare(bv.Time), nil
}

func (k DateTimeKind) Serialize(v Value) (string, error) {
	dv, ok := v.(DateTimeValue)
	if !ok {
		return "", planerr.TypeMismatch(k.Name(), "cannot serialize %T as datetime", v)
	}
	return dv.String(), nil
}

func (k DateTimeKind) Deserialize(s string) (Value, error) { return k.Parse(s) }

func (k DateTimeKind) ApplyOffset(v Value, offset string) (Value, error) {
	return k.shift(v, offset, -1)
}

func (k DateTimeKind) ApplyStep(v Value, step string) (Value, error) {
	return k.shift(v, step, 1)
}

func (k DateTimeKind) shift(v Value, amount string, sign time.Duration) (Value, error) {
	dv, ok := v.(DateTimeValue)
	if !ok {
		return nil, planerr.TypeMismatch(k.Name(), "cannot shift %T as datetime", v)
	}
	d, err := parseShiftDuration(amount, int64(sign))
	if err != nil {
		return nil, err
	}
	return DateTimeValue{dv.Add(sign * d)}, nil
}

// parseShiftDuration accepts Go durations ("36h") and day counts ("2d").
func parseShiftDuration(amount string, sign int64) (time.Duration, error) {
	s := strings.TrimSpace(amount)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		name := shiftName(sign)
		return 0, planerr.InvalidInput("hwm."+name, "%s %q is neither a duration nor a day count", name, amount)
	}
	return d, nil
}
