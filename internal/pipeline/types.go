package pipeline

import (
	"context"
	"time"

	"github.com/vizquery/vizquery/internal/engine"
)

// Stage is one named step of the orchestrator's state machine.
type Stage string

const (
	StageRouting          Stage = "routing"
	StageSchemaFetch      Stage = "schema_fetch"
	StageQueryGeneration  Stage = "query_generation"
	StageQueryExecution   Stage = "query_execution"
	StageChartGeneration  Stage = "chart_generation"
	StageInsightNarration Stage = "insight_narration"
	StageCompleted        Stage = "completed"
	StageError            Stage = "error"
)

// stageOrder is the fixed forward path through the pipeline. A workflow only
// advances along it; the only repetition allowed is a bounded in-place retry.
var stageOrder = []Stage{
	StageRouting,
	StageSchemaFetch,
	StageQueryGeneration,
	StageQueryExecution,
	StageChartGeneration,
	StageInsightNarration,
}

// stageProgress maps each stage to the percentage reported when it begins.
var stageProgress = map[Stage]int{
	StageRouting:          5,
	StageSchemaFetch:      15,
	StageQueryGeneration:  35,
	StageQueryExecution:   55,
	StageChartGeneration:  75,
	StageInsightNarration: 90,
	StageCompleted:        100,
}

// stageMessage is the user-facing progress line for each stage.
var stageMessage = map[Stage]string{
	StageRouting:          "Routing your request",
	StageSchemaFetch:      "Loading data source schema",
	StageQueryGeneration:  "Generating query",
	StageQueryExecution:   "Executing query",
	StageChartGeneration:  "Building chart",
	StageInsightNarration: "Writing insights",
}

// Request is the inbound shape for one analysis run. UserID and Role arrive
// from the identity collaborator, not from the request body.
type Request struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	DataSourceID   string `json:"data_source_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	Model          string `json:"model,omitempty"`
	AnalysisMode   string `json:"analysis_mode,omitempty"` // standard | deep

	UserID string `json:"-"`
	Role   string `json:"-"`
}

// ChartSpec is the chart contract shape handed to callers. The visual grammar
// beyond this shape belongs to the frontend.
type ChartSpec struct {
	Type       string   `json:"type"`
	Title      string   `json:"title,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Series     []Series `json:"series"`
}

// Series is one plotted series.
type Series struct {
	Name string        `json:"name,omitempty"`
	Data []interface{} `json:"data"`
}

// Valid reports whether the chart has a plottable first series.
func (c *ChartSpec) Valid() bool {
	return c != nil && len(c.Series) > 0 && len(c.Series[0].Data) > 0
}

// ExecMetadata captures how a run was executed.
type ExecMetadata struct {
	Model          string                   `json:"model,omitempty"`
	ReasoningSteps []string                 `json:"reasoning_steps,omitempty"`
	StageTimings   map[string]time.Duration `json:"stage_timings,omitempty"`
	TokensUsed     int64                    `json:"tokens_used,omitempty"`
	FromCache      bool                     `json:"from_cache,omitempty"`
}

// WorkflowState is the single mutable record threaded through one request's
// lifetime. It is owned exclusively by its workflow instance and discarded
// once the terminal event has been delivered; durable artifacts are persisted
// by the caller, never by the pipeline.
type WorkflowState struct {
	ID             string
	Query          string
	ConversationID string
	UserID         string
	OrganizationID string
	DataSourceID   string
	AnalysisMode   string
	ModelOverride  string

	Stage          Stage
	Schema         string
	PriorQuery     string
	GeneratedQuery string
	Result         *engine.Result
	Chart          *ChartSpec
	Insights       string
	Err            *PipelineError

	Confidence  map[string]float64
	DataQuality float64
	Metadata    ExecMetadata

	Progress        int
	ProgressMessage string

	source engine.DataSource
	engine engine.Engine
}

// StageResult is the outcome every stage function produces. It is consumed
// only by the confidence scorer and the orchestrator's retry logic.
type StageResult struct {
	Success         bool
	Fields          map[string]interface{}
	Error           string
	ExecutionTimeMs int64
}

// QuotaGate is the billing collaborator's admission check, consulted once
// before the orchestrator starts.
type QuotaGate interface {
	Allow(ctx context.Context, userID, organizationID string) (bool, error)
}

// ConversationStore remembers the last generated query per conversation so
// the relevance detector can decide whether to seed generation with it.
type ConversationStore interface {
	LastQuery(ctx context.Context, conversationID string) (string, bool)
	SaveQuery(ctx context.Context, conversationID, query string)
}
