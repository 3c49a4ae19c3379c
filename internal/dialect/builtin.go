package dialect

import (
	"sort"
	"time"

	"github.com/roach88/tidemark/internal/filter"
	"github.com/roach88/tidemark/internal/planerr"
)

// Built-in dialect names.
const (
	Postgres   = "postgres"
	Greenplum  = "greenplum"
	Oracle     = "oracle"
	MSSQL      = "mssql"
	MySQL      = "mysql"
	ClickHouse = "clickhouse"
	Teradata   = "teradata"
	Hive       = "hive"
	SQLite     = "sqlite"
	MongoDB    = "mongodb"
)

const (
	isoMicros    = "2006-01-02T15:04:05.000000"
	spaceSeconds = "2006-01-02 15:04:05"
	spaceMicros  = "2006-01-02 15:04:05.000000"
)

// wrap returns a literal func that formats t with layout and surrounds it.
func wrap(prefix, layout, suffix string) func(time.Time) string {
	return func(t time.Time) string {
		return prefix + t.Format(layout) + suffix
	}
}

func sqlDialect(name string, date, datetime func(time.Time) string) Dialect {
	return Dialect{
		Name:                  name,
		TableRule:             TableWithSchema,
		SupportsColumns:       true,
		SupportsHWMExpression: true,
		DateLiteral:           date,
		DateTimeLiteral:       datetime,
	}
}

var builtins = map[string]func() Dialect{
	Postgres: func() Dialect {
		return sqlDialect(Postgres,
			wrap("'", time.DateOnly, "'::date"),
			wrap("'", isoMicros, "'::timestamp"))
	},
	Greenplum: func() Dialect {
		return sqlDialect(Greenplum,
			wrap("cast('", time.DateOnly, "' as date)"),
			wrap("cast('", isoMicros, "' as timestamp)"))
	},
	Oracle: func() Dialect {
		return sqlDialect(Oracle,
			wrap("TO_DATE('", time.DateOnly, "', 'YYYY-MM-DD')"),
			wrap("TO_DATE('", spaceSeconds, "', 'YYYY-MM-DD HH24:MI:SS')"))
	},
	MSSQL: func() Dialect {
		return sqlDialect(MSSQL,
			wrap("CAST('", time.DateOnly, "' AS date)"),
			wrap("CAST('", isoMicros, "' AS datetime2)"))
	},
	MySQL: func() Dialect {
		return sqlDialect(MySQL,
			wrap("STR_TO_DATE('", time.DateOnly, "', '%Y-%m-%d')"),
			wrap("STR_TO_DATE('", spaceMicros, "', '%Y-%m-%d %H:%i:%s.%f')"))
	},
	ClickHouse: func() Dialect {
		return sqlDialect(ClickHouse,
			wrap("CAST('", time.DateOnly, "' AS Date)"),
			wrap("CAST('", spaceSeconds, "' AS DateTime)"))
	},
	Teradata: func() Dialect {
		return sqlDialect(Teradata,
			wrap("CAST('", time.DateOnly, "' AS DATE)"),
			wrap("CAST('", isoMicros, "' AS TIMESTAMP)"))
	},
	Hive: func() Dialect {
		return sqlDialect(Hive,
			wrap("to_date('", time.DateOnly, "')"),
			wrap("cast('", spaceSeconds, "' as timestamp)"))
	},
	SQLite: func() Dialect {
		d := sqlDialect(SQLite,
			wrap("'", time.DateOnly, "'"),
			wrap("'", spaceSeconds, "'"))
		d.TableRule = TableWithoutSchema
		return d
	},
	MongoDB: func() Dialect {
		return Dialect{
			Name:                  MongoDB,
			TableRule:             TableWithoutSchema,
			WhereMustBeStructured: true,
			RequiresSchemaHint:    true,
			Compiler:              filter.New(),
		}
	},
}

// Lookup returns a fresh copy of the built-in dialect called name.
func Lookup(name string) (*Dialect, error) {
	ctor, ok := builtins[name]
	if !ok {
		return nil, planerr.Unsupported(name, "dialect", "unknown dialect %q, expected one of %v", name, Names())
	}
	d := ctor()
	return &d, nil
}

// Names lists the built-in dialects in lexical order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
