// Package testutil provides deterministic collaborators for planner tests:
// an in-memory schema, a scripted bounds probe, a store that fails on demand,
// a stepping clock and sequential plan ids.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/tidemark/internal/columns"
	"github.com/roach88/tidemark/internal/hwm"
)

// ErrInjected is returned by FailingStore when a failure is armed.
var ErrInjected = errors.New("injected store failure")

// FakeSchema serves table schemas from memory and counts lookups.
type FakeSchema struct {
	mu     sync.Mutex
	tables map[string][]columns.Field
	calls  int
}

// NewFakeSchema creates an empty FakeSchema.
func NewFakeSchema() *FakeSchema {
	return &FakeSchema{tables: make(map[string][]columns.Field)}
}

// WithTable sets the fields of table and returns s.
func (s *FakeSchema) WithTable(table string, fields ...columns.Field) *FakeSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = fields
	return s
}

// Schema implements columns.SchemaLookup.
func (s *FakeSchema) Schema(ctx context.Context, table string, cols []string) ([]columns.Field, error) {
	s.mu.Lock()
	s.calls++
	fields, ok := s.tables[table]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return columns.Static(fields).Schema(ctx, table, cols)
}

// Calls returns the number of Schema calls.
func (s *FakeSchema) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// FakeProbe returns scripted MIN/MAX values and records its requests.
type FakeProbe struct {
	mu       sync.Mutex
	min, max any
	err      error
	requests []hwm.ProbeRequest
}

// NewFakeProbe creates a probe that returns (nil, max).
func NewFakeProbe(max any) *FakeProbe {
	return &FakeProbe{max: max}
}

// Set changes the values returned by subsequent probes.
func (p *FakeProbe) Set(min, max any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.min, p.max = min, max
}

// Fail makes subsequent probes return err.
func (p *FakeProbe) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// MinMax implements hwm.BoundsProbe.
func (p *FakeProbe) MinMax(_ context.Context, req hwm.ProbeRequest) (any, any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.min, p.max, nil
}

// Requests returns the recorded probe requests.
func (p *FakeProbe) Requests() []hwm.ProbeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hwm.ProbeRequest(nil), p.requests...)
}

// FailingStore wraps an hwm.Store and fails Load or Save while armed.
type FailingStore struct {
	hwm.Store

	mu       sync.Mutex
	loadErr  error
	saveErr  error
	saves    int
	lastPlan string
}

// NewFailingStore wraps inner, or a fresh MemoryStore when inner is nil.
func NewFailingStore(inner hwm.Store) *FailingStore {
	if inner == nil {
		inner = hwm.NewMemoryStore()
	}
	return &FailingStore{Store: inner}
}

// FailSave arms (err != nil) or disarms Save failures.
func (s *FailingStore) FailSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// FailLoad arms (err != nil) or disarms Load failures.
func (s *FailingStore) FailLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// Load implements hwm.Store.
func (s *FailingStore) Load(ctx context.Context, id hwm.Identity) (*hwm.State, error) {
	s.mu.Lock()
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Load(ctx, id)
}

// Save implements hwm.Store.
func (s *FailingStore) Save(ctx context.Context, id hwm.Identity, st hwm.State) error {
	s.mu.Lock()
	s.saves++
	s.lastPlan = hwm.PlanIDFrom(ctx)
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Save(ctx, id, st)
}

// Saves returns the number of Save calls, failed ones included.
func (s *FailingStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// LastPlanID returns the plan id attached to the last Save context.
func (s *FailingStore) LastPlanID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPlan
}
