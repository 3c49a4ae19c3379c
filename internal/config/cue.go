package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"go.uber.org/multierr"

	"github.com/roach88/tidemark/internal/columns"
	"github.com/roach88/tidemark/internal/planner"
	"github.com/roach88/tidemark/internal/predicate"
)

func loadCUEDir(dir string) (*Config, error) {
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, newError(ErrCodeLoadFailed, token.NoPos, "error scanning directory: %v", err)
	}
	if len(files) == 0 {
		return nil, newError(ErrCodeNoFiles, token.NoPos, "no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, newError(ErrCodeLoadFailed, token.NoPos, "no CUE instances loaded")
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, newError(ErrCodeLoadFailed, token.NoPos, "loading CUE files: %v", inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	cfg, err := decodeCUE(value)
	if cfg != nil {
		cfg.Files = files
	}
	return cfg, err
}

func loadCUEFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrCodeLoadFailed, token.NoPos, "reading %s: %v", path, err)
	}
	value := cuecontext.New().CompileBytes(data, cue.Filename(filepath.Clean(path)))
	cfg, err := decodeCUE(value)
	if cfg != nil {
		cfg.Files = []string{path}
	}
	return cfg, err
}

func decodeCUE(v cue.Value) (*Config, error) {
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(ErrCodeBuildFailed, err)
	}

	cfg := &Config{Reads: make(map[string]Read)}
	var errs error

	if src := v.LookupPath(cue.ParsePath("source")); src.Exists() {
		if err := src.Decode(&cfg.Source); err != nil {
			errs = multierr.Append(errs, formatCUEError(ErrCodeSource, err))
		}
	}
	if st := v.LookupPath(cue.ParsePath("store")); st.Exists() {
		if err := st.Decode(&cfg.Store); err != nil {
			errs = multierr.Append(errs, formatCUEError(ErrCodeStore, err))
		}
	}

	reads := v.LookupPath(cue.ParsePath("read"))
	if reads.Exists() {
		iter, err := reads.Fields()
		if err != nil {
			return cfg, multierr.Append(errs, formatCUEError(ErrCodeRead, err))
		}
		for iter.Next() {
			name := iter.Label()
			r, err := decodeRead(name, iter.Value())
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			cfg.Reads[name] = r
		}
	}
	return cfg, errs
}

func decodeRead(name string, v cue.Value) (Read, error) {
	r := Read{Name: name}

	table, err := requiredString(v, "table", "read."+name)
	if err != nil {
		return Read{}, err
	}
	r.Table = table

	if cols := v.LookupPath(cue.ParsePath("columns")); cols.Exists() {
		r.Columns = []string{}
		if err := cols.Decode(&r.Columns); err != nil {
			return Read{}, formatCUEError(ErrCodeRead, err)
		}
	}

	for _, field := range []struct {
		label string
		dst   *predicate.Predicate
	}{{"where", &r.Where}, {"hint", &r.Hint}} {
		fv := v.LookupPath(cue.ParsePath(field.label))
		if !fv.Exists() {
			continue
		}
		p, err := predicateFromCUE(fv)
		if err != nil {
			return Read{}, newError(ErrCodeRead, fv.Pos(), "read.%s.%s: %v", name, field.label, err)
		}
		*field.dst = p
	}

	if hv := v.LookupPath(cue.ParsePath("hwm")); hv.Exists() {
		spec, err := decodeHWM(name, hv)
		if err != nil {
			return Read{}, err
		}
		r.HWM = spec
	}

	if sv := v.LookupPath(cue.ParsePath("schema")); sv.Exists() {
		var fields []columns.Field
		if err := sv.Decode(&fields); err != nil {
			return Read{}, formatCUEError(ErrCodeRead, err)
		}
		r.Schema = fields
	}
	return r, nil
}

func decodeHWM(read string, v cue.Value) (*planner.HWMSpec, error) {
	ctx := "read." + read + ".hwm"
	column, err := requiredString(v, "column", ctx)
	if err != nil {
		return nil, err
	}
	spec := &planner.HWMSpec{Column: column}
	for _, field := range []struct {
		label string
		dst   *string
	}{
		{"expression", &spec.Expression},
		{"type", &spec.Type},
		{"offset", &spec.Offset},
		{"step", &spec.Step},
		{"start", &spec.Start},
		{"stop", &spec.Stop},
	} {
		fv := v.LookupPath(cue.ParsePath(field.label))
		if !fv.Exists() {
			continue
		}
		s, err := scalarString(fv)
		if err != nil {
			return nil, newError(ErrCodeRead, fv.Pos(), "%s.%s: %v", ctx, field.label, err)
		}
		*field.dst = s
	}
	return spec, nil
}

func requiredString(v cue.Value, label, ctx string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return "", newError(ErrCodeRead, v.Pos(), "%s.%s is required", ctx, label)
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(ErrCodeRead, err)
	}
	return s, nil
}

// scalarString accepts a string or a number, so offsets and steps can be
// written as 100.
func scalarString(v cue.Value) (string, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	default:
		return "", fmt.Errorf("expected string or integer, got %s", v.Kind())
	}
}

// predicateFromCUE converts a concrete CUE value to a Predicate, keeping the
// declaration order of struct fields.
func predicateFromCUE(v cue.Value) (predicate.Predicate, error) {
	if err := v.Err(); err != nil {
		return nil, err
	}
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		return predicate.String(s), err
	case cue.IntKind:
		n, err := v.Int64()
		return predicate.Int(n), err
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		return predicate.Float(f), err
	case cue.BoolKind:
		b, err := v.Bool()
		return predicate.Bool(b), err
	case cue.NullKind:
		return predicate.Null{}, nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, err
		}
		var items []predicate.Predicate
		for i := 0; iter.Next(); i++ {
			p, err := predicateFromCUE(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items = append(items, p)
		}
		return predicate.NewSequence(items...), nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		var fields []predicate.Field
		for iter.Next() {
			key := iter.Label()
			p, err := predicateFromCUE(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			fields = append(fields, predicate.F(key, p))
		}
		return predicate.NewObject(fields...)
	default:
		return nil, fmt.Errorf("value must be concrete, got %s", v.IncompleteKind())
	}
}

// formatCUEError converts the first CUE error to an Error with its position.
func formatCUEError(code string, err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: code, Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
