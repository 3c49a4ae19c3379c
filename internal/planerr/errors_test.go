package planerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code and message",
			err:  Internal("unknown predicate variant"),
			want: "INTERNAL: unknown predicate variant",
		},
		{
			name: "with field",
			err:  StructuralInput("where", "must be structured"),
			want: "STRUCTURAL_INPUT: where: must be structured",
		},
		{
			name: "details sorted",
			err:  InvalidTable("t", "bad").With("dialect", "postgres"),
			want: "INVALID_TABLE: table: bad (dialect=postgres, table=t)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Wrapped(t *testing.T) {
	base := ForbiddenOperator("$group", "aggregations are not allowed")
	wrapped := fmt.Errorf("plan orders: %w", base)

	assert.True(t, IsForbiddenOperator(wrapped))
	assert.False(t, IsColumnConflict(wrapped))
	assert.Equal(t, CodeForbiddenOperator, CodeOf(wrapped))

	var pe *Error
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, "$group", pe.Details["operator"])
}

func TestError_Cause(t *testing.T) {
	cause := errors.New("disk full")
	err := &Error{Code: CodeInternal, Message: "save", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestWith_DoesNotMutate(t *testing.T) {
	base := SchemaMismatch("h", "missing")
	extended := base.With("table", "t")

	assert.NotContains(t, base.Details, "table")
	assert.Equal(t, "t", extended.Details["table"])
	assert.Equal(t, "h", extended.Details["column"])
}

func TestCodeOf_Foreign(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
