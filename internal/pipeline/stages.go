package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vizquery/vizquery/internal/cache"
	"github.com/vizquery/vizquery/internal/engine"
	"github.com/vizquery/vizquery/internal/score"
	"github.com/vizquery/vizquery/internal/structured"
)

// stageRouting validates the request and binds the data source descriptor and
// engine to the workflow.
func (o *Orchestrator) stageRouting(ctx context.Context, state *WorkflowState) (StageResult, *PipelineError) {
	if strings.TrimSpace(state.Query) == "" {
		return StageResult{}, newStageError(StageRouting, KindValidation, errors.New("empty query"))
	}
	if state.DataSourceID == "" {
		return StageResult{}, newStageError(StageRouting, KindValidation, errors.New("data_source_id required"))
	}

	src, err := o.sources.Descriptor(ctx, state.DataSourceID)
	if err != nil {
		return StageResult{}, newStageError(StageRouting, KindValidation, fmt.Errorf("resolving data source: %w", err))
	}
	eng, ok := o.engines.For(src)
	if !ok {
		return StageResult{}, newStageError(StageRouting, KindValidation, fmt.Errorf("no engine registered for %q", src.Engine))
	}

	state.source = src
	state.engine = eng
	return StageResult{Success: true, Fields: map[string]interface{}{}}, nil
}

// stageSchemaFetch loads the formatted schema text, preferring the schema
// cache over a live introspection.
func (o *Orchestrator) stageSchemaFetch(ctx context.Context, state *WorkflowState) (StageResult, *PipelineError) {
	if payload, ok, err := o.schemaCache.Get(ctx, state.DataSourceID); err == nil && ok {
		state.Schema = string(payload)
		return StageResult{Success: true, Fields: map[string]interface{}{"schema": state.Schema}}, nil
	} else if err != nil {
		o.logger.Printf("schema cache read failed, falling through: %v", err)
	}

	schema, err := state.engine.FetchSchema(ctx, state.source)
	if err != nil {
		return StageResult{}, classify(StageSchemaFetch, err)
	}
	if strings.TrimSpace(schema) == "" {
		return StageResult{}, newStageError(StageSchemaFetch, KindFatal, errors.New("data source has no schema"))
	}

	state.Schema = schema
	if err := o.schemaCache.Set(ctx, state.DataSourceID, []byte(schema), o.schemaTTL); err != nil {
		o.logger.Printf("schema cache write failed: %v", err)
	}
	return StageResult{Success: true, Fields: map[string]interface{}{"schema": schema}}, nil
}

// stageQueryGeneration turns the question into a query, seeding generation
// with the conversation's previous query when the relevance detector approves.
func (o *Orchestrator) stageQueryGeneration(ctx context.Context, state *WorkflowState) (StageResult, *PipelineError) {
	if prior, ok := o.conversations.LastQuery(ctx, state.ConversationID); ok {
		verdict := o.detector.IsRelevant(ctx, state.Query, prior)
		if verdict.IsRelevant {
			state.PriorQuery = prior
			state.Metadata.ReasoningSteps = append(state.Metadata.ReasoningSteps,
				fmt.Sprintf("reused previous query as context (%.2f): %s", verdict.Confidence, verdict.Reasoning))
		}
	}

	model := o.routeModel(state, o.routing.QueryGeneration)
	mctx, cancel := o.modelCtx(ctx)
	defer cancel()
	start := time.Now()
	raw, inTok, outTok, err := o.provider.GenerateWithTokens(mctx,
		buildQueryPrompt(state.Schema, state.Query, state.PriorQuery), model,
		map[string]interface{}{"system": queryGenSystem, "temperature": 0.0})
	elapsed := time.Since(start)
	if err != nil {
		return StageResult{ExecutionTimeMs: elapsed.Milliseconds()}, classify(StageQueryGeneration, err)
	}
	o.telemetry.RecordTokens(model, inTok+outTok)
	state.Metadata.TokensUsed += inTok + outTok
	state.Metadata.Model = model

	query, diag := structured.ParseString(raw, "query")
	if !diag.OK() {
		// one simplified "bare question" re-generation before failing the stage
		o.logger.Printf("query response unparseable (%s), retrying with bare prompt", diag)
		raw, err = o.provider.Generate(mctx, buildBareQueryPrompt(state.Schema, state.Query), model,
			map[string]interface{}{"temperature": 0.0})
		if err != nil {
			return StageResult{ExecutionTimeMs: elapsed.Milliseconds()}, classify(StageQueryGeneration, err)
		}
		query, diag = structured.ParseString(raw, "query")
		if !diag.OK() {
			return StageResult{ExecutionTimeMs: elapsed.Milliseconds()},
				newStageError(StageQueryGeneration, KindStructural, fmt.Errorf("query output invalid after repair: %s", diag))
		}
	}
	if strings.TrimSpace(query) == "" {
		return StageResult{}, newStageError(StageQueryGeneration, KindStructural, errors.New("model produced an empty query"))
	}

	state.GeneratedQuery = query
	o.conversations.SaveQuery(ctx, state.ConversationID, query)
	return StageResult{
		Success:         true,
		Fields:          map[string]interface{}{"query": query},
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// stageQueryExecution runs the generated query, checking the query-result
// cache first. A cache hit skips execution entirely.
func (o *Orchestrator) stageQueryExecution(ctx context.Context, state *WorkflowState) (StageResult, *PipelineError) {
	fingerprint := o.normalizer.Fingerprint(state.DataSourceID, state.GeneratedQuery)

	if payload, ok, err := o.queryCache.Get(ctx, fingerprint); err == nil && ok {
		var cached engine.Result
		if err := json.Unmarshal(payload, &cached); err == nil {
			state.Result = &cached
			state.Metadata.FromCache = true
			report := score.AssessDataQuality(cached.Rows)
			state.DataQuality = report.Score
			return StageResult{Success: true, Fields: map[string]interface{}{
				"rows":    cached.Rows,
				"columns": cached.Columns,
			}}, nil
		}
		o.logger.Printf("query cache entry corrupt, invalidating: %v", err)
		_ = o.queryCache.Invalidate(ctx, fingerprint)
	} else if err != nil {
		o.logger.Printf("query cache read failed, falling through: %v", err)
	}

	start := time.Now()
	result, err := state.engine.Execute(ctx, state.GeneratedQuery, state.source)
	elapsed := time.Since(start)
	if err != nil {
		return StageResult{ExecutionTimeMs: elapsed.Milliseconds()}, classify(StageQueryExecution, err)
	}
	if len(result.Rows) == 0 {
		return StageResult{ExecutionTimeMs: elapsed.Milliseconds()},
			newStageError(StageQueryExecution, KindFatal, errors.New("query returned no rows"))
	}

	state.Result = &result
	report := score.AssessDataQuality(result.Rows)
	state.DataQuality = report.Score
	if len(report.Issues) > 0 {
		state.Metadata.ReasoningSteps = append(state.Metadata.ReasoningSteps,
			"data quality issues: "+strings.Join(report.Issues, ", "))
	}

	if payload, err := json.Marshal(result); err == nil {
		if err := o.queryCache.Set(ctx, fingerprint, payload, o.queryTTL); err != nil {
			if errors.Is(err, cache.ErrPayloadTooLarge) {
				o.logger.Printf("query result too large to cache (%d bytes)", len(payload))
			} else {
				o.logger.Printf("query cache write failed: %v", err)
			}
		}
	}

	return StageResult{
		Success: true,
		Fields: map[string]interface{}{
			"rows":    result.Rows,
			"columns": result.Columns,
		},
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// stageChartGeneration produces the chart specification. A valid chart
// already present on the state (seeded by an earlier analysis path) is reused
// as-is; model failures degrade to the deterministic fallback chart rather
// than failing the run.
func (o *Orchestrator) stageChartGeneration(ctx context.Context, state *WorkflowState) (StageResult, *PipelineError) {
	if state.Chart.Valid() {
		return StageResult{Success: true, Fields: map[string]interface{}{"chart": state.Chart}}, nil
	}

	model := o.routeModel(state, o.routing.ChartGeneration)
	mctx, cancel := o.modelCtx(ctx)
	defer cancel()
	start := time.Now()
	raw, inTok, outTok, err := o.provider.GenerateWithTokens(mctx,
		buildChartPrompt(state.Query, state.Result), model,
		map[string]interface{}{"system": chartGenSystem, "temperature": 0.0})
	elapsed := time.Since(start)

	var spec *ChartSpec
	if err == nil {
		o.telemetry.RecordTokens(model, inTok+outTok)
		state.Metadata.TokensUsed += inTok + outTok
		spec, err = parseChartResponse(raw)
	}
	if err != nil {
		o.logger.Printf("chart generation degraded to fallback: %v", err)
		spec = fallbackChart(state.Result)
		if spec == nil {
			return StageResult{ExecutionTimeMs: elapsed.Milliseconds()},
				newStageError(StageChartGeneration, KindFatal, errors.New("no result data to chart"))
		}
		state.Err = &PipelineError{
			Kind:        KindStructural,
			Stage:       StageChartGeneration,
			Err:         err,
			UserMessage: "I used a simplified chart because the detailed chart layout could not be generated.",
		}
	}

	state.Chart = spec
	return StageResult{
		Success:         true,
		Fields:          map[string]interface{}{"chart": spec},
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// stageInsightNarration writes the prose summary of the results. Deep
// analysis mode routes to the higher-tier model.
func (o *Orchestrator) stageInsightNarration(ctx context.Context, state *WorkflowState) (StageResult, *PipelineError) {
	deep := state.AnalysisMode == "deep"
	routed := o.routing.Insights
	if deep && o.routing.InsightsDeep != "" {
		routed = o.routing.InsightsDeep
	}
	model := o.routeModel(state, routed)

	mctx, cancel := o.modelCtx(ctx)
	defer cancel()
	start := time.Now()
	text, inTok, outTok, err := o.provider.GenerateWithTokens(mctx,
		buildInsightPrompt(state.Query, state.Result, state.Chart, deep), model, nil)
	elapsed := time.Since(start)
	if err != nil {
		return StageResult{ExecutionTimeMs: elapsed.Milliseconds()}, classify(StageInsightNarration, err)
	}
	o.telemetry.RecordTokens(model, inTok+outTok)
	state.Metadata.TokensUsed += inTok + outTok

	text = strings.TrimSpace(text)
	if text == "" {
		return StageResult{ExecutionTimeMs: elapsed.Milliseconds()},
			newStageError(StageInsightNarration, KindStructural, errors.New("model produced empty insights"))
	}

	state.Insights = text
	if deep {
		state.Metadata.ReasoningSteps = append(state.Metadata.ReasoningSteps, "deep analysis mode: "+model)
	}
	return StageResult{
		Success:         true,
		Fields:          map[string]interface{}{"insights": text},
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// routeModel resolves the model key for a stage: explicit request override
// first, then the routed default, then the configured fallback.
func (o *Orchestrator) routeModel(state *WorkflowState, routed string) string {
	if state.ModelOverride != "" {
		return state.ModelOverride
	}
	if routed != "" {
		return routed
	}
	return o.routing.Fallback
}
