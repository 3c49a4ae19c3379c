package hwm

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/tidemark/internal/planerr"
)

// Constructor builds a Kind.
type Constructor func() Kind

// ErrRegistryClosed is returned by a Registry after Close.
var ErrRegistryClosed = errors.New("hwm registry is closed")

// Registry maps source type names to HWM kinds.
//
// A Registry is owned by the caller: create it with NewRegistry, register
// custom kinds before planning starts, and Close it when the planner is torn
// down. There is no package-level registry.
type Registry struct {
	mu      sync.RWMutex
	kinds   map[string]Constructor // canonical name -> constructor
	aliases map[string]string      // normalized source type -> canonical name
	closed  bool
}

// builtinAliases lists the source type names each built-in kind serves.
var builtinAliases = map[string][]string{
	KindInt: {
		"byte", "tinyint", "short", "smallint", "int2", "integer", "int",
		"int4", "long", "bigint", "int8", "serial", "bigserial", "mediumint",
	},
	KindDecimal: {
		"float", "double", "double precision", "real", "fractional", "decimal",
		"numeric", "number", "float4", "float8", "money",
	},
	KindDate: {"date"},
	KindDateTime: {
		"timestamp", "timestamptz", "datetime", "datetime2", "smalldatetime",
		"timestamp with time zone", "timestamp without time zone",
		"datetimeoffset",
	},
}

// NewRegistry creates a Registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{
		kinds:   make(map[string]Constructor),
		aliases: make(map[string]string),
	}
	builtins := []Constructor{
		func() Kind { return IntKind{} },
		func() Kind { return DecimalKind{} },
		func() Kind { return DateKind{} },
		func() Kind { return DateTimeKind{} },
	}
	for _, ctor := range builtins {
		name := ctor().Name()
		if err := r.Register(ctor, builtinAliases[name]...); err != nil {
			panic(fmt.Sprintf("register built-in kind %s: %v", name, err))
		}
	}
	return r
}

// Register adds a kind. The kind's own name is always registered; aliases
// are the source type names that map to it. Any name already taken is an error.
func (r *Registry) Register(ctor Constructor, aliases ...string) error {
	if ctor == nil {
		return planerr.InvalidInput("registry", "nil constructor")
	}
	kind := ctor()
	if kind == nil || kind.Name() == "" {
		return planerr.InvalidInput("registry", "constructor returned a kind without a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}

	name := normalizeTypeName(kind.Name())
	if _, dup := r.kinds[name]; dup {
		return planerr.InvalidInput("registry", "kind %q already registered", name)
	}

	names := append([]string{name}, aliases...)
	normalized := make([]string, 0, len(names))
	for _, alias := range names {
		n := normalizeTypeName(alias)
		if owner, taken := r.aliases[n]; taken {
			return planerr.InvalidInput("registry", "type name %q already mapped to kind %q", n, owner)
		}
		normalized = append(normalized, n)
	}

	r.kinds[name] = ctor
	for _, n := range normalized {
		r.aliases[n] = name
	}
	return nil
}

// Lookup returns the kind serving a source type name such as "NUMERIC(10,2)"
// or "timestamp with time zone". Matching is case-insensitive; precision
// arguments and "unsigned" are ignored.
func (r *Registry) Lookup(typeName string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}

	n := normalizeTypeName(typeName)
	name, ok := r.aliases[n]
	if !ok {
		return nil, planerr.Unsupported("", "hwm", "no HWM kind for source type %q", typeName)
	}
	return r.kinds[name](), nil
}

// Kind returns a kind by its canonical name, as persisted by stores.
func (r *Registry) Kind(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}

	ctor, ok := r.kinds[normalizeTypeName(name)]
	if !ok {
		return nil, planerr.Unsupported("", "hwm", "unknown HWM kind %q", name)
	}
	return ctor(), nil
}

// Names returns the registered canonical kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for n := range r.kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close tears the registry down. Later calls fail with ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.kinds = nil
	r.aliases = nil
	return nil
}

var (
	typeParamsRe = regexp.MustCompile(`\([^)]*\)`)
	spacesRe     = regexp.MustCompile(`\s+`)
)

func normalizeTypeName(s string) string {
	s = strings.ToLower(s)
	s = typeParamsRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "unsigned", " ")
	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}
