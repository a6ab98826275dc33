// Package engine defines the pluggable data-engine contract the pipeline
// executes generated queries against.
package engine

import "context"

// DataSource is the descriptor for a target data source, supplied by the
// catalog collaborator. The pipeline never manages credentials itself; the
// DSN arrives resolved.
type DataSource struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Engine string `json:"engine"` // postgres, stub
	DSN    string `json:"-"`
}

// Result is a tabular query result.
type Result struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

// Engine executes queries and introspects schemas for one engine family.
type Engine interface {
	// Execute runs query against the data source and returns the result set.
	Execute(ctx context.Context, query string, src DataSource) (Result, error)

	// FetchSchema returns a formatted schema description suitable for
	// inclusion in a generation prompt.
	FetchSchema(ctx context.Context, src DataSource) (string, error)
}

// SourceProvider resolves data-source ids to descriptors. Implemented by the
// catalog collaborator; the pipeline only consumes it.
type SourceProvider interface {
	Descriptor(ctx context.Context, id string) (DataSource, error)
}

// Registry selects an Engine by the descriptor's engine family.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register binds an engine family name to an implementation.
func (r *Registry) Register(name string, e Engine) {
	r.engines[name] = e
}

// For returns the engine for the descriptor, or false when none is registered.
func (r *Registry) For(src DataSource) (Engine, bool) {
	e, ok := r.engines[src.Engine]
	return e, ok
}
