// Package source connects the planner to real databases through database/sql.
// A DB serves as the schema lookup and bounds probe of a Planner and runs the
// planned read.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/roach88/tidemark/internal/columns"
	"github.com/roach88/tidemark/internal/dialect"
	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/logger"
	"github.com/roach88/tidemark/internal/planerr"
)

// Config selects the dialect and connection of a source.
type Config struct {
	Dialect string `json:"dialect" yaml:"dialect"`
	DSN     string `json:"dsn" yaml:"dsn"`
	// Instance names the source in HWM identities. Defaults to the DSN
	// without credentials and query parameters.
	Instance string `json:"instance,omitempty" yaml:"instance,omitempty"`
}

// InstanceName returns the name used in HWM identities.
func (c Config) InstanceName() string {
	if c.Instance != "" {
		return c.Instance
	}
	u, err := url.Parse(c.DSN)
	if err != nil || u.Scheme == "" || u.Host == "" {
		path, _, _ := strings.Cut(c.DSN, "?")
		if _, rest, ok := strings.Cut(path, "@"); ok {
			path = rest
		}
		return c.Dialect + "://" + strings.TrimPrefix(path, "file:")
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Opener opens a connection pool for a DSN.
type Opener func(ctx context.Context, dsn string) (*sql.DB, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{
		dialect.Postgres:  openPgx,
		dialect.Greenplum: openPgx,
		dialect.MSSQL:     openMSSQL,
		dialect.MySQL:     openMySQL,
		dialect.SQLite:    openSQLite,
	}
)

// Register sets the opener for a dialect, replacing any existing one.
func Register(dialectName string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[dialectName] = open
}

// Drivers lists the dialects with an opener, sorted.
func Drivers() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DB is an open source. It implements columns.SchemaLookup and
// hwm.BoundsProbe.
type DB struct {
	db      *sql.DB
	dialect *dialect.Dialect
}

var (
	_ columns.SchemaLookup = (*DB)(nil)
	_ hwm.BoundsProbe      = (*DB)(nil)
)

// Open connects to the source described by cfg and pings it.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	d, err := dialect.Lookup(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	openersMu.RLock()
	open, ok := openers[d.Name]
	openersMu.RUnlock()
	if !ok {
		return nil, planerr.Unsupported(d.Name, "source", "no database/sql driver for %s, expected one of %v", d.Name, Drivers())
	}

	db, err := open(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s dsn: %w", d.Name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return &DB{db: db, dialect: d}, nil
}

// Dialect returns the dialect of the source.
func (s *DB) Dialect() *dialect.Dialect {
	return s.dialect
}

// Close closes the connection pool.
func (s *DB) Close() error {
	return s.db.Close()
}

// Schema returns the name and database type of each requested column by
// running the projection against an empty result.
func (s *DB) Schema(ctx context.Context, table string, cols []string) (fields []columns.Field, err error) {
	projection := "*"
	if len(cols) > 0 && !(len(cols) == 1 && cols[0] == columns.Wildcard) {
		projection = strings.Join(cols, ", ")
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+projection+" FROM "+table+" WHERE 1=0")
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer func() { err = multierr.Append(err, rows.Close()) }()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types of %s: %w", table, err)
	}
	fields = make([]columns.Field, 0, len(types))
	for _, ct := range types {
		fields = append(fields, columns.Field{Name: ct.Name(), Type: ct.DatabaseTypeName()})
	}
	return fields, nil
}

// MinMax runs the dialect's MIN/MAX probe.
func (s *DB) MinMax(ctx context.Context, req hwm.ProbeRequest) (min, max any, err error) {
	query := s.dialect.MinMaxQuery(req.Table, dialect.Target{Column: req.Column, Expression: req.Expression}, req.Where, req.Hint)
	logger.Fetch(ctx, "source").Debug().Str("query", query).Msg("probing bounds")
	if err := s.db.QueryRowContext(ctx, query).Scan(&min, &max); err != nil {
		return nil, nil, fmt.Errorf("probe %s: %w", req.Table, err)
	}
	return normalize(min), normalize(max), nil
}

// normalize turns driver byte slices into strings so kinds can parse them.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Queryable is anything with a rendered read statement, such as a
// planner.ReadPlan.
type Queryable interface {
	Query() string
}

// Count runs the planned read and returns the number of rows it produced.
func (s *DB) Count(ctx context.Context, plan Queryable) (n int64, err error) {
	query := plan.Query()
	if query == "" {
		return 0, planerr.InvalidInput("plan", "plan has no query to run")
	}
	logger.Fetch(ctx, "source").Debug().Str("query", query).Msg("running read")
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	defer func() { err = multierr.Append(err, rows.Close()) }()

	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("read: %w", err)
	}
	return n, nil
}
