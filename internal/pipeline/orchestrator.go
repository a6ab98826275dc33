// Package pipeline implements the natural-language-to-visualization workflow:
// schema resolution, query generation, execution, chart rendering and insight
// narration, with incremental progress streamed to the caller.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vizquery/vizquery/config"
	"github.com/vizquery/vizquery/internal/cache"
	"github.com/vizquery/vizquery/internal/engine"
	"github.com/vizquery/vizquery/internal/llm"
	"github.com/vizquery/vizquery/internal/relevance"
	"github.com/vizquery/vizquery/internal/score"
	"github.com/vizquery/vizquery/internal/stream"
	"github.com/vizquery/vizquery/internal/telemetry"
)

var pipelineTracer trace.Tracer = otel.Tracer("vizquery/internal/pipeline")

const quotaDeniedMessage = "You do not have sufficient permissions or credits to run this analysis."

// Orchestrator sequences the pipeline stages for each request. One instance
// serves many concurrent workflow instances; the caches are the only shared
// state and synchronize internally.
type Orchestrator struct {
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	provider      llm.Provider
	detector      *relevance.Detector
	engines       *engine.Registry
	sources       engine.SourceProvider
	schemaCache   cache.Store
	queryCache    cache.Store
	normalizer    cache.Normalizer
	conversations ConversationStore
	quota         QuotaGate

	routing      config.LLMRoutingConfig
	maxRetries   int
	modelTimeout time.Duration
	schemaTTL    time.Duration
	queryTTL     time.Duration
}

// modelCtx bounds one model call. Timeouts surface as transient failures and
// take the normal retry path.
func (o *Orchestrator) modelCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.modelTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.modelTimeout)
}

// Deps bundles the orchestrator's collaborators. Caches are constructed once
// at process start and passed in; the orchestrator never creates hidden
// instances.
type Deps struct {
	Logger        *log.Logger
	Telemetry     *telemetry.Telemetry
	Provider      llm.Provider
	Detector      *relevance.Detector
	Engines       *engine.Registry
	Sources       engine.SourceProvider
	SchemaCache   cache.Store
	QueryCache    cache.Store
	Conversations ConversationStore
	Quota         QuotaGate
}

// NewOrchestrator wires the pipeline from configuration and collaborators.
func NewOrchestrator(cfg *config.Config, d Deps) (*Orchestrator, error) {
	if d.Provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if d.Engines == nil || d.Sources == nil {
		return nil, fmt.Errorf("engine registry and source provider are required")
	}
	if d.SchemaCache == nil || d.QueryCache == nil {
		return nil, fmt.Errorf("schema and query caches are required")
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.Telemetry == nil {
		d.Telemetry = telemetry.New()
	}
	if d.Conversations == nil {
		d.Conversations = NewInMemoryConversations()
	}
	if d.Quota == nil {
		d.Quota = AllowAllQuota{}
	}
	if d.Detector == nil {
		d.Detector = relevance.NewDetector(d.Provider, cfg.LLM.Routing.Auxiliary, d.Logger)
	}

	maxRetries := cfg.Pipeline.MaxStageRetries
	if maxRetries < 0 {
		maxRetries = 2
	}

	return &Orchestrator{
		logger:        d.Logger,
		telemetry:     d.Telemetry,
		provider:      d.Provider,
		detector:      d.Detector,
		engines:       d.Engines,
		sources:       d.Sources,
		schemaCache:   d.SchemaCache,
		queryCache:    d.QueryCache,
		conversations: d.Conversations,
		quota:         d.Quota,
		routing:       cfg.LLM.Routing,
		maxRetries:    maxRetries,
		modelTimeout:  cfg.Pipeline.ModelTimeout,
		schemaTTL:     cfg.Cache.SchemaTTL,
		queryTTL:      cfg.Cache.QueryTTL,
	}, nil
}

// InvalidateDataSource drops cached schema and query results for a source,
// called when the underlying data changes.
func (o *Orchestrator) InvalidateDataSource(ctx context.Context, dataSourceID string) {
	if err := o.schemaCache.Invalidate(ctx, dataSourceID); err != nil {
		o.logger.Printf("schema cache invalidation failed: %v", err)
	}
	// query fingerprints embed the data source id but are hashed; drop all
	if err := o.queryCache.InvalidateAll(ctx); err != nil {
		o.logger.Printf("query cache invalidation failed: %v", err)
	}
}

type stageFunc func(ctx context.Context, state *WorkflowState) (StageResult, *PipelineError)

// Run executes one workflow instance, emitting ordered progress events and
// terminating the sequence with a complete event on every path. The returned
// state is for the caller's benefit (artifact persistence); the pipeline
// itself never stores it.
func (o *Orchestrator) Run(ctx context.Context, req Request, em stream.Emitter) *WorkflowState {
	start := time.Now()
	state := &WorkflowState{
		ID:             uuid.New().String(),
		Query:          req.Query,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		DataSourceID:   req.DataSourceID,
		AnalysisMode:   req.AnalysisMode,
		ModelOverride:  req.Model,
		Stage:          StageRouting,
		Confidence:     make(map[string]float64),
		Metadata:       ExecMetadata{StageTimings: make(map[string]time.Duration)},
	}

	// A caller disconnect only stops emission: the emitter watches the request
	// context, while backend work runs to completion so its result still
	// lands in the caches for the next caller.
	ctx = context.WithoutCancel(ctx)

	ctx, span := pipelineTracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("workflow.id", state.ID),
			attribute.String("data_source.id", state.DataSourceID),
			attribute.String("analysis.mode", state.AnalysisMode),
		))
	defer span.End()

	allowed, err := o.quota.Allow(ctx, req.UserID, req.OrganizationID)
	if err != nil || !allowed {
		if err != nil {
			o.logger.Printf("quota check failed for user %s: %v", req.UserID, err)
		}
		state.Stage = StageError
		state.Err = &PipelineError{Kind: KindFatal, Stage: StageRouting, Err: fmt.Errorf("quota denied"), UserMessage: quotaDeniedMessage}
		em.Emit(stream.Event{Type: stream.TypeError, Stage: string(StageRouting), Message: quotaDeniedMessage, Error: "quota_denied"})
		em.Emit(stream.Event{Type: stream.TypeComplete})
		span.SetStatus(codes.Error, "quota denied")
		o.telemetry.RecordRun(false, time.Since(start))
		return state
	}

	stageFns := map[Stage]stageFunc{
		StageRouting:          o.stageRouting,
		StageSchemaFetch:      o.stageSchemaFetch,
		StageQueryGeneration:  o.stageQueryGeneration,
		StageQueryExecution:   o.stageQueryExecution,
		StageChartGeneration:  o.stageChartGeneration,
		StageInsightNarration: o.stageInsightNarration,
	}

	for _, st := range stageOrder {
		state.Stage = st
		state.Progress = stageProgress[st]
		state.ProgressMessage = stageMessage[st]

		// the progress event goes out before the stage's suspending work so
		// the caller has a timely status while the backend call is outstanding
		em.Emit(stream.Event{
			Type:       stream.TypeProgress,
			Stage:      string(st),
			Percentage: state.Progress,
			Message:    state.ProgressMessage,
		})

		if perr := o.runStage(ctx, state, st, stageFns[st], em); perr != nil {
			msg := perr.userMessage(state.Query)
			state.Stage = StageError
			state.Err = perr
			o.logger.Printf("workflow %s failed at %s: %v", state.ID, perr.Stage, perr.Err)
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Error())

			em.Emit(stream.Event{
				Type:    stream.TypeError,
				Stage:   string(perr.Stage),
				Message: msg,
				Error:   string(perr.Kind),
			})
			em.Emit(stream.Event{Type: stream.TypeComplete})
			o.telemetry.RecordRun(false, time.Since(start))
			return state
		}
	}

	state.Stage = StageCompleted
	state.Progress = stageProgress[StageCompleted]
	em.Emit(o.resultEvent(state))
	em.Emit(stream.Event{Type: stream.TypeComplete})

	span.SetAttributes(
		attribute.Int64("run.tokens", state.Metadata.TokensUsed),
		attribute.Bool("run.from_cache", state.Metadata.FromCache),
	)
	span.SetStatus(codes.Ok, "completed")
	o.telemetry.RecordRun(true, time.Since(start))
	o.logger.Printf("workflow %s completed in %v (cache hit: %v)", state.ID, time.Since(start), state.Metadata.FromCache)
	return state
}

// runStage invokes one stage function under the retry policy: transient
// failures are retried immediately up to the budget, each retry announced
// with a progress event; validation, structural and fatal failures surface at
// once. Stage confidence is scored after the final attempt.
func (o *Orchestrator) runStage(ctx context.Context, state *WorkflowState, stage Stage, fn stageFunc, em stream.Emitter) *PipelineError {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.stage",
		trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()

	var lastErr *PipelineError
	for attempt := 0; ; attempt++ {
		attemptStart := time.Now()
		res, perr := fn(ctx, state)
		elapsed := time.Since(attemptStart)

		state.Metadata.StageTimings[string(stage)] += elapsed
		o.telemetry.RecordStage(string(stage), perr == nil, elapsed)

		execMs := res.ExecutionTimeMs
		if execMs == 0 {
			execMs = elapsed.Milliseconds()
		}
		errStr := res.Error
		if errStr == "" && perr != nil {
			errStr = perr.Err.Error()
		}
		state.Confidence[string(stage)] = score.Confidence(string(stage), score.Result{
			Success: perr == nil,
			Error:   errStr,
			Fields:  res.Fields,
		}, execMs, o.telemetry.StageSuccessRate(string(stage)))

		if perr == nil {
			span.SetStatus(codes.Ok, "completed")
			return nil
		}

		lastErr = perr
		span.RecordError(perr)
		if !perr.Retryable() || attempt >= o.maxRetries {
			span.SetStatus(codes.Error, perr.Error())
			return lastErr
		}

		o.logger.Printf("stage %s attempt %d failed (%s), retrying: %v", stage, attempt+1, perr.Kind, perr.Err)
		em.Emit(stream.Event{
			Type:       stream.TypeProgress,
			Stage:      string(stage),
			Percentage: stageProgress[stage],
			Message:    fmt.Sprintf("Retrying %s (attempt %d of %d)", stageMessage[stage], attempt+2, o.maxRetries+1),
		})
	}
}

// resultEvent builds the terminal result event, including the degraded-output
// message when a recovered failure is still recorded on the state.
func (o *Orchestrator) resultEvent(state *WorkflowState) stream.Event {
	var confSum float64
	for _, c := range state.Confidence {
		confSum += c
	}
	overallConf := 0.0
	if len(state.Confidence) > 0 {
		overallConf = confSum / float64(len(state.Confidence))
	}

	finalFields := map[string]interface{}{
		"query":    state.GeneratedQuery,
		"rows":     nil,
		"columns":  nil,
		"chart":    state.Chart,
		"insights": state.Insights,
	}
	if state.Result != nil {
		finalFields["rows"] = state.Result.Rows
		finalFields["columns"] = state.Result.Columns
	}
	quality := score.Quality(score.Result{
		Success: true,
		Fields:  finalFields,
	}, []string{"query", "rows", "columns", "chart", "insights"}, state.DataQuality)
	trustScore := score.Trust(overallConf, quality, nil, state.Err != nil)

	timingsMs := make(map[string]int64, len(state.Metadata.StageTimings))
	for k, v := range state.Metadata.StageTimings {
		timingsMs[k] = v.Milliseconds()
	}

	metadata := map[string]interface{}{
		"workflow_id":  state.ID,
		"confidence":   state.Confidence,
		"overall":      overallConf,
		"trust":        trustScore,
		"quality":      quality,
		"data_quality": state.DataQuality,
		"from_cache":   state.Metadata.FromCache,
		"model":        state.Metadata.Model,
		"tokens_used":  state.Metadata.TokensUsed,
		"timings_ms":   timingsMs,
	}
	if len(state.Metadata.ReasoningSteps) > 0 {
		metadata["reasoning_steps"] = state.Metadata.ReasoningSteps
	}

	ev := stream.Event{
		Type:       stream.TypeResult,
		Stage:      string(StageCompleted),
		Percentage: state.Progress,
		Query:      state.GeneratedQuery,
		Result:     state.Result,
		Chart:      state.Chart,
		Insights:   state.Insights,
		Metadata:   metadata,
	}
	// a recorded error on a nominally successful run means degraded output;
	// the caller must still see a user-facing message
	if state.Err != nil {
		ev.Message = state.Err.userMessage(state.Query)
	}
	return ev
}
