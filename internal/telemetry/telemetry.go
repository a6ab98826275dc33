// Package telemetry tracks run and stage outcomes. Per-stage historical
// success rates feed the confidence scorer.
package telemetry

import (
	"sync"
	"time"
)

// Telemetry aggregates pipeline metrics in memory.
type Telemetry struct {
	mu sync.RWMutex

	totalRuns      int64
	successfulRuns int64
	failedRuns     int64
	totalDuration  time.Duration

	stageAttempts  map[string]int64
	stageSuccesses map[string]int64
	stageDuration  map[string]time.Duration

	modelTokens map[string]int64
}

// New creates an empty telemetry aggregate.
func New() *Telemetry {
	return &Telemetry{
		stageAttempts:  make(map[string]int64),
		stageSuccesses: make(map[string]int64),
		stageDuration:  make(map[string]time.Duration),
		modelTokens:    make(map[string]int64),
	}
}

// RecordRun records one completed workflow instance.
func (t *Telemetry) RecordRun(success bool, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRuns++
	if success {
		t.successfulRuns++
	} else {
		t.failedRuns++
	}
	t.totalDuration += duration
}

// RecordStage records one stage attempt (retries count individually).
func (t *Telemetry) RecordStage(stage string, success bool, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stageAttempts[stage]++
	if success {
		t.stageSuccesses[stage]++
	}
	t.stageDuration[stage] += duration
}

// RecordTokens adds token usage for a model.
func (t *Telemetry) RecordTokens(model string, tokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modelTokens[model] += tokens
}

// StageSuccessRate returns the historical success rate for a stage, or nil
// when the stage has not run yet.
func (t *Telemetry) StageSuccessRate(stage string) *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	attempts := t.stageAttempts[stage]
	if attempts == 0 {
		return nil
	}
	rate := float64(t.stageSuccesses[stage]) / float64(attempts)
	return &rate
}

// Snapshot is a point-in-time metrics export.
type Snapshot struct {
	TotalRuns       int64                    `json:"total_runs"`
	SuccessfulRuns  int64                    `json:"successful_runs"`
	FailedRuns      int64                    `json:"failed_runs"`
	AverageDuration time.Duration            `json:"average_duration"`
	StageAttempts   map[string]int64         `json:"stage_attempts"`
	StageSuccesses  map[string]int64         `json:"stage_successes"`
	StageAvgTime    map[string]time.Duration `json:"stage_avg_time"`
	ModelTokens     map[string]int64         `json:"model_tokens"`
}

// GetSnapshot exports current metrics.
func (t *Telemetry) GetSnapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		TotalRuns:      t.totalRuns,
		SuccessfulRuns: t.successfulRuns,
		FailedRuns:     t.failedRuns,
		StageAttempts:  make(map[string]int64, len(t.stageAttempts)),
		StageSuccesses: make(map[string]int64, len(t.stageSuccesses)),
		StageAvgTime:   make(map[string]time.Duration, len(t.stageDuration)),
		ModelTokens:    make(map[string]int64, len(t.modelTokens)),
	}
	if t.totalRuns > 0 {
		snap.AverageDuration = t.totalDuration / time.Duration(t.totalRuns)
	}
	for k, v := range t.stageAttempts {
		snap.StageAttempts[k] = v
	}
	for k, v := range t.stageSuccesses {
		snap.StageSuccesses[k] = v
	}
	for k, v := range t.stageDuration {
		if attempts := t.stageAttempts[k]; attempts > 0 {
			snap.StageAvgTime[k] = v / time.Duration(attempts)
		}
	}
	for k, v := range t.modelTokens {
		snap.ModelTokens[k] = v
	}
	return snap
}
