// Package planerr defines the coded errors raised while building a read plan.
//
// Every planning failure is a *Error carrying a Code. Callers branch on the
// code with IsCode or one of the Is* helpers, which use errors.As so wrapped
// errors still match.
package planerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code categorizes planning errors.
type Code string

const (
	// CodeStructuralInput: where/hint/columns have the wrong shape for the dialect.
	CodeStructuralInput Code = "STRUCTURAL_INPUT"

	// CodeForbiddenOperator: a disallowed operator at the top level of where.
	CodeForbiddenOperator Code = "FORBIDDEN_OPERATOR"

	// CodeColumnConflict: duplicate column or HWM alias collision.
	CodeColumnConflict Code = "COLUMN_CONFLICT"

	// CodeSchemaMismatch: HWM column absent from the supplied schema.
	CodeSchemaMismatch Code = "SCHEMA_MISMATCH"

	// CodeTypeMismatch: value does not fit the HWM kind.
	CodeTypeMismatch Code = "TYPE_MISMATCH"

	// CodeUnsupportedCapability: dialect does not support a requested feature.
	CodeUnsupportedCapability Code = "UNSUPPORTED_CAPABILITY"

	// CodeInvalidTable: table identity is malformed for the dialect.
	CodeInvalidTable Code = "INVALID_TABLE"

	// CodeInvalidInput: request fields are missing or out of range.
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeInternal signals a defect rather than bad input.
	CodeInternal Code = "INTERNAL"
)

// Error is a planning error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Field names the request field at fault (where, hint, columns, hwm, table).
	Field string

	// Details contains additional context.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Details[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// With returns a copy of e with an extra detail.
func (e *Error) With(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsStructuralInput reports whether err is a structural input error.
func IsStructuralInput(err error) bool { return IsCode(err, CodeStructuralInput) }

// IsForbiddenOperator reports whether err is a forbidden operator error.
func IsForbiddenOperator(err error) bool { return IsCode(err, CodeForbiddenOperator) }

// IsColumnConflict reports whether err is a column conflict error.
func IsColumnConflict(err error) bool { return IsCode(err, CodeColumnConflict) }

// IsSchemaMismatch reports whether err is a schema mismatch error.
func IsSchemaMismatch(err error) bool { return IsCode(err, CodeSchemaMismatch) }

// IsTypeMismatch reports whether err is a type mismatch error.
func IsTypeMismatch(err error) bool { return IsCode(err, CodeTypeMismatch) }

// IsUnsupported reports whether err is an unsupported capability error.
func IsUnsupported(err error) bool { return IsCode(err, CodeUnsupportedCapability) }

// StructuralInput creates a STRUCTURAL_INPUT error.
func StructuralInput(field, format string, args ...any) *Error {
	return &Error{Code: CodeStructuralInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ForbiddenOperator creates a FORBIDDEN_OPERATOR error naming the key.
func ForbiddenOperator(key, message string) *Error {
	return &Error{
		Code:    CodeForbiddenOperator,
		Field:   "where",
		Message: message,
		Details: map[string]string{"operator": key},
	}
}

// ColumnConflict creates a COLUMN_CONFLICT error.
func ColumnConflict(column, format string, args ...any) *Error {
	return &Error{
		Code:    CodeColumnConflict,
		Field:   "columns",
		Message: fmt.Sprintf(format, args...),
		Details: map[string]string{"column": column},
	}
}

// SchemaMismatch creates a SCHEMA_MISMATCH error.
func SchemaMismatch(column, format string, args ...any) *Error {
	return &Error{
		Code:    CodeSchemaMismatch,
		Field:   "hwm",
		Message: fmt.Sprintf(format, args...),
		Details: map[string]string{"column": column},
	}
}

// TypeMismatch creates a TYPE_MISMATCH error.
func TypeMismatch(kind, format string, args ...any) *Error {
	return &Error{
		Code:    CodeTypeMismatch,
		Field:   "hwm",
		Message: fmt.Sprintf(format, args...),
		Details: map[string]string{"kind": kind},
	}
}

// Unsupported creates an UNSUPPORTED_CAPABILITY error.
func Unsupported(dialect, field, format string, args ...any) *Error {
	return &Error{
		Code:    CodeUnsupportedCapability,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]string{"dialect": dialect},
	}
}

// InvalidTable creates an INVALID_TABLE error.
func InvalidTable(table, format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidTable,
		Field:   "table",
		Message: fmt.Sprintf(format, args...),
		Details: map[string]string{"table": table},
	}
}

// InvalidInput creates an INVALID_INPUT error.
func InvalidInput(field, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an INTERNAL error. It marks a defect, not a user mistake.
func Internal(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}
