// Package logger implements a logging system with a module tag.
// The module tag names the component the log event is emitted from.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const rootName = "root"

// Logging is the config info.
type Logging struct {
	// Env is "dev" for human-readable console output, anything else for JSON.
	Env   string
	Level string
	// Out defaults to stderr.
	Out io.Writer
}

// Logger is a zerolog logger tagged with a module.
type Logger struct {
	*zerolog.Logger
	module string
}

// Module returns the logger's module name.
func (l *Logger) Module() string {
	return l.module
}

// Named creates a child Logger whose module is appended to l's.
func (l *Logger) Named(name ...string) *Logger {
	mm := name
	if l.module != rootName {
		mm = append([]string{l.module}, name...)
	}
	module := strings.ToUpper(strings.Join(mm, "."))
	sub := l.Logger.With().Str("module", module).Logger()
	return &Logger{module: module, Logger: &sub}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	l := zerolog.Nop()
	return &Logger{module: rootName, Logger: &l}
}

type contextKey struct{}

// WithLogger attaches l to ctx.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// Fetch returns the Logger attached to ctx, named with module, or the scoped
// root logger when ctx carries none.
func Fetch(ctx context.Context, module string) *Logger {
	if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return l.Named(module)
	}
	return GetLogger(module)
}

var root struct {
	sync.Mutex
	l *Logger
}

// Init replaces the root logger.
func Init(cfg Logging) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	root.Lock()
	root.l = l
	root.Unlock()
	return nil
}

// GetLogger returns the root logger, scoped to the given modules if any.
func GetLogger(scope ...string) *Logger {
	root.Lock()
	if root.l == nil {
		l, err := New(Logging{Env: "prod", Level: "info"})
		if err != nil {
			root.Unlock()
			panic(err)
		}
		root.l = l
	}
	r := root.l
	root.Unlock()
	if len(scope) == 0 {
		return r
	}
	return r.Named(scope...)
}

// New builds a standalone root logger from cfg.
func New(cfg Logging) (*Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer
	switch cfg.Env {
	case "dev":
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		cw.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		}
		cw.FormatFieldName = func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		}
		w = cw
	default:
		w = out
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{module: rootName, Logger: &l}, nil
}
