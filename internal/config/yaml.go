package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"cuelang.org/go/cue/token"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tidemark/internal/columns"
	"github.com/roach88/tidemark/internal/planner"
	"github.com/roach88/tidemark/internal/predicate"
	"github.com/roach88/tidemark/internal/source"
)

type yamlFile struct {
	Source source.Config       `yaml:"source"`
	Store  StoreConfig         `yaml:"store"`
	Read   map[string]yamlRead `yaml:"read"`
}

type yamlRead struct {
	Table   string          `yaml:"table"`
	Columns []string        `yaml:"columns"`
	Where   yaml.Node       `yaml:"where"`
	Hint    yaml.Node       `yaml:"hint"`
	HWM     *yamlHWM        `yaml:"hwm"`
	Schema  []columns.Field `yaml:"schema"`
}

type yamlHWM struct {
	Column     string `yaml:"column"`
	Expression string `yaml:"expression"`
	Type       string `yaml:"type"`
	Offset     string `yaml:"offset"`
	Step       string `yaml:"step"`
	Start      string `yaml:"start"`
	Stop       string `yaml:"stop"`
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrCodeLoadFailed, token.NoPos, "reading %s: %v", path, err)
	}

	var file yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, newError(ErrCodeLoadFailed, token.NoPos, "%s: %v", path, err)
	}

	cfg := &Config{
		Source: file.Source,
		Store:  file.Store,
		Reads:  make(map[string]Read, len(file.Read)),
		Files:  []string{path},
	}
	var errs error
	for name, yr := range file.Read {
		r, err := yr.read(name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		cfg.Reads[name] = r
	}
	return cfg, errs
}

func (yr yamlRead) read(name string) (Read, error) {
	if yr.Table == "" {
		return Read{}, newError(ErrCodeRead, token.NoPos, "read.%s.table is required", name)
	}
	r := Read{Name: name, Table: yr.Table, Columns: yr.Columns, Schema: yr.Schema}

	var err error
	if r.Where, err = yamlPredicate(&yr.Where); err != nil {
		return Read{}, newError(ErrCodeRead, token.NoPos, "read.%s.where (line %d): %v", name, yr.Where.Line, err)
	}
	if r.Hint, err = yamlPredicate(&yr.Hint); err != nil {
		return Read{}, newError(ErrCodeRead, token.NoPos, "read.%s.hint (line %d): %v", name, yr.Hint.Line, err)
	}

	if yr.HWM != nil {
		if yr.HWM.Column == "" {
			return Read{}, newError(ErrCodeRead, token.NoPos, "read.%s.hwm.column is required", name)
		}
		r.HWM = &planner.HWMSpec{
			Column:     yr.HWM.Column,
			Expression: yr.HWM.Expression,
			Type:       yr.HWM.Type,
			Offset:     yr.HWM.Offset,
			Step:       yr.HWM.Step,
			Start:      yr.HWM.Start,
			Stop:       yr.HWM.Stop,
		}
	}
	return r, nil
}

// yamlPredicate decodes an optional node; an absent node is nil.
func yamlPredicate(node *yaml.Node) (predicate.Predicate, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	return predicate.Decode(node)
}
