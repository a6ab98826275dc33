package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure at the point it is first observed.
type ErrorKind string

const (
	// KindValidation: malformed input query or config. Not retried.
	KindValidation ErrorKind = "validation"
	// KindTransient: timeout, rate limit, momentary backend unavailability.
	// Retried up to the stage's bounded retry count.
	KindTransient ErrorKind = "transient"
	// KindStructural: model output failed to parse or validate against its
	// contract. One repair-and-retry attempt, then the stage fails.
	KindStructural ErrorKind = "structural"
	// KindFatal: no data available, quota denied. Never retried.
	KindFatal ErrorKind = "fatal"
)

// PipelineError is a classified stage failure. UserMessage is what callers
// see; the wrapped error stays internal.
type PipelineError struct {
	Kind        ErrorKind
	Stage       Stage
	Err         error
	UserMessage string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator may re-run the stage.
func (e *PipelineError) Retryable() bool { return e.Kind == KindTransient }

func newStageError(stage Stage, kind ErrorKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// classify maps an arbitrary error to a kind. Timeouts and cancellations are
// transient; everything unrecognized defaults to transient so it gets the
// benefit of the retry budget before being surfaced.
func classify(stage Stage, err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newStageError(stage, KindTransient, err)
	}
	kind := KindTransient
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "status 429"),
		strings.Contains(msg, "status 5"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"):
		kind = KindTransient
	case strings.Contains(msg, "syntax error"), strings.Contains(msg, "does not exist"):
		kind = KindValidation
	}
	return newStageError(stage, kind, err)
}

// userMessage synthesizes the single human-readable message for a terminal
// failure. Raw internal error strings never reach the caller.
func (e *PipelineError) userMessage(question string) string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	q := strings.TrimSpace(question)
	if r := []rune(q); len(r) > 120 {
		q = string(r[:120]) + "..."
	}
	switch e.Stage {
	case StageRouting:
		return fmt.Sprintf("I couldn't start working on %q. Please check the request and try again.", q)
	case StageSchemaFetch:
		return fmt.Sprintf("I couldn't read the data source structure needed to answer %q. The source may be unavailable right now.", q)
	case StageQueryGeneration:
		return fmt.Sprintf("I couldn't turn %q into a query for this data source. Try rephrasing the question.", q)
	case StageQueryExecution:
		if e.Kind == KindFatal {
			return fmt.Sprintf("The query for %q ran but returned no data. Try broadening the question or a different time range.", q)
		}
		return fmt.Sprintf("Running the query for %q failed. The data source may be busy. Please try again.", q)
	case StageChartGeneration:
		return fmt.Sprintf("I couldn't build a chart for %q from the results.", q)
	case StageInsightNarration:
		return fmt.Sprintf("I analyzed the data for %q but couldn't write up the insights.", q)
	default:
		return fmt.Sprintf("Something went wrong while answering %q. Please try again.", q)
	}
}
