// Package hwm implements high-water-mark tracking for incremental reads:
// value kinds and their registry, HWM state and identity, the boundary state
// machine, and the store contract.
package hwm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/tidemark/internal/planerr"
)

// Identity is the single-writer key of an HWM: one (source, table, column)
// triple, optionally scoped to a process.
type Identity struct {
	Source  string `json:"source" yaml:"source"`
	Table   string `json:"table" yaml:"table"`
	Column  string `json:"column" yaml:"column"`
	Process string `json:"process,omitempty" yaml:"process,omitempty"`
}

// QualifiedName renders the identity as column#table@source[#process].
func (id Identity) QualifiedName() string {
	name := id.Column + "#" + id.Table + "@" + id.Source
	if id.Process != "" {
		name += "#" + id.Process
	}
	return name
}

// Validate checks that the identity is complete.
func (id Identity) Validate() error {
	switch {
	case strings.TrimSpace(id.Source) == "":
		return planerr.InvalidInput("hwm", "identity source is required")
	case strings.TrimSpace(id.Table) == "":
		return planerr.InvalidInput("hwm", "identity table is required")
	case strings.TrimSpace(id.Column) == "":
		return planerr.InvalidInput("hwm", "identity column is required")
	}
	return nil
}

// ParseQualifiedName is the inverse of QualifiedName.
func ParseQualifiedName(name string) (Identity, error) {
	column, rest, ok := strings.Cut(name, "#")
	if !ok {
		return Identity{}, planerr.InvalidInput("hwm", "qualified name %q: missing '#' after column", name)
	}
	table, rest, ok := strings.Cut(rest, "@")
	if !ok {
		return Identity{}, planerr.InvalidInput("hwm", "qualified name %q: missing '@' before source", name)
	}
	source, process, _ := strings.Cut(rest, "#")
	id := Identity{Source: source, Table: table, Column: column, Process: process}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// State is the HWM of one identity: its column alias, kind, optional
// expression, and current value (nil before the first commit).
type State struct {
	Name       string
	Kind       Kind
	Expression string
	Value      Value
}

// NewState builds a State, parsing raw through the kind. A nil raw yields a
// state without a value.
func NewState(name string, kind Kind, expression string, raw any) (State, error) {
	if strings.TrimSpace(name) == "" {
		return State{}, planerr.InvalidInput("hwm", "hwm column name is required")
	}
	if kind == nil {
		return State{}, planerr.InvalidInput("hwm", "hwm kind is required")
	}
	s := State{Name: name, Kind: kind, Expression: expression}
	if raw == nil {
		return s, nil
	}
	v, err := kind.Parse(raw)
	if err != nil {
		return State{}, err
	}
	s.Value = v
	return s, nil
}

// CheckAdvance refuses to replace current with a proposed value below it. A
// proposal planned before a newer commit of the same identity is stale and
// must not move the HWM back.
func CheckAdvance(id Identity, current *State, proposed State) error {
	if current == nil || current.Value == nil || proposed.Value == nil {
		return nil
	}
	if current.Kind != nil && current.Kind.Name() != proposed.Kind.Name() {
		return planerr.TypeMismatch(proposed.Kind.Name(),
			"stored HWM for %s has kind %s, proposal has %s",
			id.QualifiedName(), current.Kind.Name(), proposed.Kind.Name())
	}
	cmp, err := proposed.Kind.Compare(proposed.Value, current.Value)
	if err != nil {
		return err
	}
	if cmp < 0 {
		return planerr.InvalidInput("hwm", "stale proposal for %s: stored value %s is ahead of proposed %s",
			id.QualifiedName(), current.Value, proposed.Value).
			With("current", current.Value.String()).
			With("proposed", proposed.Value.String())
	}
	return nil
}

// Boundary is the value range read by one run. A nil bound is open.
type Boundary struct {
	Lower Value
	Upper Value
}

// IsOpen reports whether neither bound is set.
func (b Boundary) IsOpen() bool {
	return b.Lower == nil && b.Upper == nil
}

func (b Boundary) String() string {
	return fmt.Sprintf("(%s, %s]", boundString(b.Lower), boundString(b.Upper))
}

func boundString(v Value) string {
	if v == nil {
		return "-"
	}
	return v.String()
}

// Status is the lifecycle position of a Proposal.
type Status int

const (
	StatusProposed Status = iota
	StatusCommitted
	StatusAbandoned
)

func (s Status) String() string {
	switch s {
	case StatusProposed:
		return "proposed"
	case StatusCommitted:
		return "committed"
	case StatusAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "proposed":
		return StatusProposed, nil
	case "committed":
		return StatusCommitted, nil
	case "abandoned":
		return StatusAbandoned, nil
	default:
		return 0, fmt.Errorf("unknown proposal status %q", s)
	}
}

// Proposal is the HWM state a run will commit if its read succeeds.
// It settles exactly once: committed on success, abandoned on failure.
type Proposal struct {
	Identity Identity
	State    State
	Previous *State

	mu     sync.Mutex
	status Status
}

// NewProposal creates a proposal in the proposed state.
func NewProposal(id Identity, state State, previous *State) *Proposal {
	return &Proposal{Identity: id, State: state, Previous: previous}
}

// RestoreProposal rebuilds a persisted proposal with its recorded status.
func RestoreProposal(id Identity, state State, previous *State, status Status) *Proposal {
	return &Proposal{Identity: id, State: state, Previous: previous, status: status}
}

// Status returns the current lifecycle status.
func (p *Proposal) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Store persists HWM state. Save must be atomic: after it returns either the
// whole new state is visible to Load or none of it is.
type Store interface {
	Load(ctx context.Context, id Identity) (*State, error)
	Save(ctx context.Context, id Identity, state State) error
}

// Record is the serialized form of a State, used by store implementations.
type Record struct {
	Identity     Identity
	Kind         string
	Name         string
	Expression   string
	Value        string
	ModifiedTime time.Time
	PlanID       string
}

// EncodeState serializes a state for persistence. The state must carry a value.
func EncodeState(id Identity, s State) (Record, error) {
	if s.Kind == nil {
		return Record{}, planerr.InvalidInput("hwm", "cannot encode state without kind")
	}
	if s.Value == nil {
		return Record{}, planerr.InvalidInput("hwm", "cannot encode state without value")
	}
	v, err := s.Kind.Serialize(s.Value)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Identity:   id,
		Kind:       s.Kind.Name(),
		Name:       s.Name,
		Expression: s.Expression,
		Value:      v,
	}, nil
}

// DecodeState rebuilds a State from a record using the registry's kinds.
func (r *Registry) DecodeState(rec Record) (*State, error) {
	kind, err := r.Kind(rec.Kind)
	if err != nil {
		return nil, err
	}
	v, err := kind.Deserialize(rec.Value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.Identity.QualifiedName(), err)
	}
	return &State{Name: rec.Name, Kind: kind, Expression: rec.Expression, Value: v}, nil
}

type planIDKey struct{}

// WithPlanID attaches the plan id of the committing run to ctx so stores can
// record it alongside the saved state.
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, planIDKey{}, planID)
}

// PlanIDFrom returns the plan id attached by WithPlanID, or "".
func PlanIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(planIDKey{}).(string)
	return id
}
