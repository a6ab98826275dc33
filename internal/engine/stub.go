package engine

import (
	"context"
	"fmt"
	"sync"
)

// StubEngine serves canned results keyed by data-source id. It backs demo
// mode and tests; its call counters let tests assert whether execution was
// skipped on a cache hit.
type StubEngine struct {
	mu      sync.Mutex
	results map[string]Result
	schemas map[string]string

	ExecuteCalls int
	SchemaCalls  int

	// ExecuteErr, when set, fails the next ExecuteErrCount executions.
	ExecuteErr      error
	ExecuteErrCount int
}

// NewStubEngine returns an empty stub.
func NewStubEngine() *StubEngine {
	return &StubEngine{
		results: make(map[string]Result),
		schemas: make(map[string]string),
	}
}

// SetResult registers the result served for a data source.
func (s *StubEngine) SetResult(sourceID string, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[sourceID] = r
}

// SetSchema registers the schema text served for a data source.
func (s *StubEngine) SetSchema(sourceID, schema string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[sourceID] = schema
}

// Execute returns the canned result for the source.
func (s *StubEngine) Execute(_ context.Context, _ string, src DataSource) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExecuteCalls++
	if s.ExecuteErr != nil && s.ExecuteErrCount > 0 {
		s.ExecuteErrCount--
		return Result{}, s.ExecuteErr
	}
	r, ok := s.results[src.ID]
	if !ok {
		return Result{}, fmt.Errorf("no stub result for data source %s", src.ID)
	}
	return r, nil
}

// FetchSchema returns the canned schema for the source.
func (s *StubEngine) FetchSchema(_ context.Context, src DataSource) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SchemaCalls++
	schema, ok := s.schemas[src.ID]
	if !ok {
		return "", fmt.Errorf("no stub schema for data source %s", src.ID)
	}
	return schema, nil
}

// StaticSourceProvider resolves descriptors from a fixed map.
type StaticSourceProvider struct {
	Sources map[string]DataSource
}

// Descriptor returns the descriptor for id.
func (p *StaticSourceProvider) Descriptor(_ context.Context, id string) (DataSource, error) {
	src, ok := p.Sources[id]
	if !ok {
		return DataSource{}, fmt.Errorf("unknown data source: %s", id)
	}
	return src, nil
}
