// Package config loads read definitions: which source to read, where HWM
// state lives and the reads themselves. Definitions are CUE (a file or a
// directory of files) or, as a fallback, YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue/token"
	"go.uber.org/multierr"

	"github.com/roach88/tidemark/internal/columns"
	"github.com/roach88/tidemark/internal/dialect"
	"github.com/roach88/tidemark/internal/planner"
	"github.com/roach88/tidemark/internal/predicate"
	"github.com/roach88/tidemark/internal/source"
)

// Error codes.
const (
	ErrCodeGeneric     = "C001" // Generic/unknown error
	ErrCodeNotFound    = "C002" // Path not found
	ErrCodeNoFiles     = "C003" // No config files found
	ErrCodeLoadFailed  = "C004" // CUE load or YAML parse failed
	ErrCodeBuildFailed = "C005" // CUE evaluation failed
	ErrCodeSource      = "C006" // Missing or invalid source
	ErrCodeStore       = "C007" // Invalid store
	ErrCodeRead        = "C008" // Invalid read definition
	ErrCodeUnknownRead = "C009" // Read name not defined
)

// Error is a config problem, with the CUE position when known.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code string, pos token.Pos, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreYAML   = "yaml"
)

// StoreConfig selects the HWM store.
type StoreConfig struct {
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`
}

// Validate checks the kind and that file-backed stores have a path. An empty
// kind is valid and left to the caller's default.
func (s StoreConfig) Validate() error {
	switch s.Kind {
	case "", StoreMemory:
		return nil
	case StoreSQLite, StoreYAML:
		if strings.TrimSpace(s.Path) == "" {
			return newError(ErrCodeStore, token.NoPos, "store kind %s needs a path", s.Kind)
		}
		return nil
	default:
		return newError(ErrCodeStore, token.NoPos, "unknown store kind %q, expected one of sqlite, yaml, memory", s.Kind)
	}
}

// Read is one named read definition.
type Read struct {
	Name    string
	Table   string
	Columns []string
	Where   predicate.Predicate
	Hint    predicate.Predicate
	HWM     *planner.HWMSpec
	Schema  []columns.Field
}

// Request converts the read to a planner request.
func (r Read) Request() planner.Request {
	req := planner.Request{
		Table:      r.Table,
		Columns:    r.Columns,
		Where:      r.Where,
		Hint:       r.Hint,
		SchemaHint: r.Schema,
	}
	if r.HWM != nil {
		spec := *r.HWM
		req.HWM = &spec
	}
	return req
}

// Config is a loaded definition file or directory.
type Config struct {
	Source source.Config
	Store  StoreConfig
	Reads  map[string]Read
	// Files lists the files the config was loaded from.
	Files []string
}

// ReadNames returns the defined read names, sorted.
func (c *Config) ReadNames() []string {
	names := make([]string, 0, len(c.Reads))
	for name := range c.Reads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Read returns the read called name.
func (c *Config) Read(name string) (Read, error) {
	r, ok := c.Reads[name]
	if !ok {
		return Read{}, newError(ErrCodeUnknownRead, token.NoPos, "read %q is not defined, expected one of %v", name, c.ReadNames())
	}
	return r, nil
}

// Load reads a config from path: a .yaml/.yml file, a .cue file, or a
// directory of .cue files. Every invalid read is reported; the returned
// error combines them.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, newError(ErrCodeNotFound, token.NoPos, "config not found: %s", path)
	}
	if err != nil {
		return nil, newError(ErrCodeNotFound, token.NoPos, "error accessing config: %v", err)
	}

	var cfg *Config
	switch {
	case info.IsDir():
		cfg, err = loadCUEDir(path)
	case filepath.Ext(path) == ".cue":
		cfg, err = loadCUEFile(path)
	case filepath.Ext(path) == ".yaml" || filepath.Ext(path) == ".yml":
		cfg, err = loadYAML(path)
	default:
		return nil, newError(ErrCodeLoadFailed, token.NoPos, "unsupported config file %s, expected .cue, .yaml or .yml", path)
	}
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	var errs error
	if strings.TrimSpace(c.Source.Dialect) == "" {
		errs = multierr.Append(errs, newError(ErrCodeSource, token.NoPos, "source.dialect is required"))
	} else if _, err := dialect.Lookup(c.Source.Dialect); err != nil {
		errs = multierr.Append(errs, newError(ErrCodeSource, token.NoPos, "source.dialect: %v", err))
	}
	errs = multierr.Append(errs, c.Store.Validate())
	if len(c.Reads) == 0 {
		errs = multierr.Append(errs, newError(ErrCodeRead, token.NoPos, "no reads defined"))
	}
	return errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
