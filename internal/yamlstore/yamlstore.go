// Package yamlstore keeps high-water marks in local YAML files, one file per
// HWM identity. Each file holds every saved value, newest first.
package yamlstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tidemark/internal/hwm"
)

var (
	itemsDelimiter     = regexp.MustCompile(`[#@|]+`)
	prohibitedSymbols  = regexp.MustCompile(`[=:/\\]+`)
	repeatedUnderscore = regexp.MustCompile(`_{2,}`)
)

// entry is one saved value as written to disk.
type entry struct {
	Source       string    `yaml:"source"`
	Table        string    `yaml:"table"`
	Column       string    `yaml:"column"`
	Process      string    `yaml:"process,omitempty"`
	Kind         string    `yaml:"type"`
	Name         string    `yaml:"name"`
	Expression   string    `yaml:"expression,omitempty"`
	Value        string    `yaml:"value"`
	ModifiedTime time.Time `yaml:"modified_time"`
	PlanID       string    `yaml:"plan_id,omitempty"`
}

func (e entry) record() hwm.Record {
	return hwm.Record{
		Identity:     hwm.Identity{Source: e.Source, Table: e.Table, Column: e.Column, Process: e.Process},
		Kind:         e.Kind,
		Name:         e.Name,
		Expression:   e.Expression,
		Value:        e.Value,
		ModifiedTime: e.ModifiedTime,
		PlanID:       e.PlanID,
	}
}

// Store is a directory of YAML HWM files. It implements hwm.Store.
type Store struct {
	dir      string
	registry *hwm.Registry
	now      func() time.Time

	// mu serializes read-modify-write cycles within one process.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for modified times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates the directory if needed and returns a Store over it. Stored
// kinds are decoded with registry; nil uses a fresh default registry.
func New(dir string, registry *hwm.Registry, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("yaml store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create yaml store directory: %w", err)
	}
	if registry == nil {
		registry = hwm.NewRegistry()
	}
	s := &Store{dir: dir, registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CleanupFileName turns a qualified name into a portable file name: HWM item
// delimiters become "__", path and URL symbols become "_".
func CleanupFileName(name string) string {
	result := itemsDelimiter.ReplaceAllString(name, "__")
	result = prohibitedSymbols.ReplaceAllString(result, "_")
	return repeatedUnderscore.ReplaceAllString(result, "__")
}

// Path returns the file that holds id.
func (s *Store) Path(id hwm.Identity) string {
	return filepath.Join(s.dir, CleanupFileName(id.QualifiedName())+".yml")
}

// Load returns the entry with the latest modified time, or nil.
func (s *Store) Load(_ context.Context, id hwm.Identity) (*hwm.State, error) {
	entries, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if e.ModifiedTime.After(latest.ModifiedTime) {
			latest = e
		}
	}
	rec := latest.record()
	rec.Identity = id
	return s.registry.DecodeState(rec)
}

// Save prepends state to the file of id. The file is replaced atomically.
func (s *Store) Save(ctx context.Context, id hwm.Identity, state hwm.State) error {
	if err := id.Validate(); err != nil {
		return err
	}
	rec, err := hwm.EncodeState(id, state)
	if err != nil {
		return fmt.Errorf("save %s: %w", id.QualifiedName(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read(id)
	if err != nil {
		return err
	}
	e := entry{
		Source:       id.Source,
		Table:        id.Table,
		Column:       id.Column,
		Process:      id.Process,
		Kind:         rec.Kind,
		Name:         rec.Name,
		Expression:   rec.Expression,
		Value:        rec.Value,
		ModifiedTime: s.now().UTC(),
		PlanID:       hwm.PlanIDFrom(ctx),
	}
	return s.write(id, append([]entry{e}, entries...))
}

// History returns every saved value of id in file order, newest first.
func (s *Store) History(_ context.Context, id hwm.Identity) ([]hwm.Record, error) {
	entries, err := s.read(id)
	if err != nil {
		return nil, err
	}
	records := make([]hwm.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.record())
	}
	return records, nil
}

// List returns the newest record of every file in the directory ordered by
// qualified name.
func (s *Store) List(_ context.Context) ([]hwm.Record, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("list yaml store: %w", err)
	}
	records := []hwm.Record{}
	for _, path := range paths {
		entries, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			records = append(records, entries[0].record())
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Identity.QualifiedName() < records[j].Identity.QualifiedName()
	})
	return records, nil
}

func (s *Store) read(id hwm.Identity) ([]entry, error) {
	return readFile(s.Path(id))
}

func readFile(path string) ([]entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var entries []entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

func (s *Store) write(id hwm.Identity, entries []entry) error {
	path := s.Path(id)
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".hwm-*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
