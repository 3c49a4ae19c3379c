package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidemark/internal/columns"
	"github.com/roach88/tidemark/internal/dialect"
	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/planerr"
	"github.com/roach88/tidemark/internal/planner"
	"github.com/roach88/tidemark/internal/testutil"
)

func openEvents(t *testing.T) (*DB, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "events.db")
	src, err := Open(context.Background(), Config{Dialect: dialect.SQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	exec(t, src.db, `CREATE TABLE events (id INTEGER PRIMARY KEY, ts TIMESTAMP NOT NULL, payload TEXT)`)
	exec(t, src.db, `INSERT INTO events (id, ts, payload) VALUES
		(1, '2024-03-01 10:00:00', 'a'),
		(2, '2024-03-02 10:00:00', 'b'),
		(3, '2024-03-03 10:00:00', 'c')`)
	return src, dsn
}

func exec(t *testing.T, db *sql.DB, stmt string) {
	t.Helper()
	_, err := db.Exec(stmt)
	require.NoError(t, err)
}

func TestSchema(t *testing.T) {
	src, _ := openEvents(t)
	ctx := context.Background()

	fields, err := src.Schema(ctx, "events", []string{columns.Wildcard})
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, []string{"id", "ts", "payload"}, []string{fields[0].Name, fields[1].Name, fields[2].Name})
	assert.True(t, strings.EqualFold("INTEGER", fields[0].Type), fields[0].Type)
	assert.True(t, strings.EqualFold("TIMESTAMP", fields[1].Type), fields[1].Type)

	fields, err = src.Schema(ctx, "events", []string{"payload", "id"})
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "payload", fields[0].Name)

	_, err = src.Schema(ctx, "missing", nil)
	assert.Error(t, err)
}

func TestMinMax(t *testing.T) {
	src, _ := openEvents(t)
	ctx := context.Background()

	min, max, err := src.MinMax(ctx, hwm.ProbeRequest{Table: "events", Column: "id"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, min)
	assert.EqualValues(t, 3, max)

	_, max, err = src.MinMax(ctx, hwm.ProbeRequest{Table: "events", Column: "id", Where: "payload = 'b'"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, max)

	min, max, err = src.MinMax(ctx, hwm.ProbeRequest{Table: "events", Column: "id", Where: "1=0"})
	require.NoError(t, err)
	assert.Nil(t, min)
	assert.Nil(t, max)

	_, max, err = src.MinMax(ctx, hwm.ProbeRequest{Table: "events", Column: "n", Expression: "id * 10"})
	require.NoError(t, err)
	assert.EqualValues(t, 30, max)
}

func TestIncrementalReadEndToEnd(t *testing.T) {
	src, dsn := openEvents(t)
	ctx := context.Background()
	cfg := Config{Dialect: dialect.SQLite, DSN: dsn}

	pl, err := planner.New(planner.Config{
		Dialect: src.Dialect(),
		Schema:  src,
		Probe:   src,
		Store:   hwm.NewMemoryStore(),
		IDs:     testutil.NewSequentialIDs(""),
		Source:  cfg.InstanceName(),
	})
	require.NoError(t, err)
	req := planner.Request{Table: "events", Columns: []string{"id", "payload"}, HWM: &planner.HWMSpec{Column: "id"}}

	plan, err := pl.Plan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, payload FROM events WHERE id <= 3", plan.Query())
	n, err := src.Count(ctx, plan)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, pl.Commit(ctx, plan, true))

	exec(t, src.db, `INSERT INTO events (id, ts, payload) VALUES (4, '2024-03-04 10:00:00', 'd'), (5, '2024-03-05 10:00:00', 'e')`)

	plan, err = pl.Plan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "id > 3 AND id <= 5", plan.Where())
	n, err = src.Count(ctx, plan)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestIncrementalReadByTimestamp(t *testing.T) {
	src, _ := openEvents(t)
	ctx := context.Background()

	pl, err := planner.New(planner.Config{Dialect: src.Dialect(), Schema: src, Probe: src, Store: hwm.NewMemoryStore()})
	require.NoError(t, err)

	plan, err := pl.Plan(ctx, planner.Request{
		Table: "events",
		Where: nil,
		HWM:   &planner.HWMSpec{Column: "ts"},
	})
	require.NoError(t, err)
	assert.Equal(t, hwm.KindDateTime, plan.Proposal().State.Kind.Name())
	assert.Equal(t, "ts <= '2024-03-03 10:00:00'", plan.Where())

	n, err := src.Count(ctx, plan)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestCount_EmptyQuery(t *testing.T) {
	src, _ := openEvents(t)
	_, err := src.Count(context.Background(), queryString(""))
	assert.True(t, planerr.IsCode(err, planerr.CodeInvalidInput))

	_, err = src.Count(context.Background(), queryString("SELECT nope FROM events"))
	assert.Error(t, err)
}

type queryString string

func (q queryString) Query() string { return string(q) }

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Dialect: dialect.MongoDB, DSN: "mongodb://localhost"})
	assert.True(t, planerr.IsUnsupported(err))

	_, err = Open(ctx, Config{Dialect: "db2", DSN: "x"})
	assert.True(t, planerr.IsUnsupported(err))

	_, err = Open(ctx, Config{Dialect: dialect.MySQL, DSN: "not a dsn"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Dialect: dialect.Postgres, DSN: "postgres://%zz"})
	assert.Error(t, err)
}

func TestDrivers(t *testing.T) {
	assert.Equal(t, []string{"greenplum", "mssql", "mysql", "postgres", "sqlite"}, Drivers())
}

func TestInstanceName(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Dialect: "postgres", DSN: "postgres://user:secret@db:5432/shop?sslmode=disable"}, "postgres://db:5432/shop"},
		{Config{Dialect: "mssql", DSN: "sqlserver://sa:pw@host:1433?database=dwh"}, "sqlserver://host:1433"},
		{Config{Dialect: "mysql", DSN: "user:pw@tcp(db:3306)/shop?parseTime=true"}, "mysql://tcp(db:3306)/shop"},
		{Config{Dialect: "sqlite", DSN: "file:/data/events.db?mode=ro"}, "sqlite:///data/events.db"},
		{Config{Dialect: "sqlite", DSN: "/data/events.db", Instance: "events"}, "events"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.InstanceName())
		})
	}
}
