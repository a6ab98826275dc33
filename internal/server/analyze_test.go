package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vizquery/vizquery/config"
	"github.com/vizquery/vizquery/internal/cache"
	"github.com/vizquery/vizquery/internal/engine"
	"github.com/vizquery/vizquery/internal/pipeline"
	"github.com/vizquery/vizquery/internal/stream"
	"github.com/vizquery/vizquery/internal/telemetry"
)

type cannedProvider struct {
	replies []string
}

func (p *cannedProvider) Generate(_ context.Context, _, _ string, _ map[string]interface{}) (string, error) {
	if len(p.replies) == 0 {
		return "", io.EOF
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *cannedProvider) GenerateWithTokens(ctx context.Context, prompt, model string, opts map[string]interface{}) (string, int64, int64, error) {
	s, err := p.Generate(ctx, prompt, model, opts)
	return s, 10, 5, err
}

func newTestHandler(t *testing.T) *AnalyzeHandler {
	t.Helper()

	stub := engine.NewStubEngine()
	stub.SetSchema("sales", "TABLE sales (\n  month text NOT NULL\n  amount numeric NOT NULL\n)\n")
	stub.SetResult("sales", engine.Result{
		Columns: []string{"month", "amount"},
		Rows: []map[string]interface{}{
			{"month": "Jan", "amount": 10},
			{"month": "Feb", "amount": 20},
		},
	})
	registry := engine.NewRegistry()
	registry.Register("stub", stub)

	cfg := &config.Config{
		Pipeline: config.PipelineConfig{MaxStageRetries: 2},
		Cache: config.CacheConfig{
			SchemaTTL: time.Hour, QueryTTL: 5 * time.Minute,
			MaxEntries: 100, MaxPayloadBytes: 1 << 20,
		},
		LLM: config.LLMConfig{Routing: config.LLMRoutingConfig{
			QueryGeneration: "m", ChartGeneration: "m", Insights: "m", Auxiliary: "m", Fallback: "m",
		}},
	}

	tele := telemetry.New()
	orch, err := pipeline.NewOrchestrator(cfg, pipeline.Deps{
		Logger:   log.New(io.Discard, "", 0),
		Provider: &cannedProvider{replies: []string{
			`{"query": "SELECT month, amount FROM sales GROUP BY month"}`,
			`{"type": "bar", "title": "t", "categories": ["Jan", "Feb"], "series": [{"name": "amount", "data": [10, 20]}]}`,
			"Amounts doubled from Jan to Feb.",
		}},
		Engines: registry,
		Sources: &engine.StaticSourceProvider{Sources: map[string]engine.DataSource{
			"sales": {ID: "sales", Engine: "stub"},
		}},
		SchemaCache: cache.NewMemoryStore(100, 1<<20),
		QueryCache:  cache.NewMemoryStore(100, 1<<20),
		Telemetry:   tele,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return &AnalyzeHandler{Orch: orch, Telemetry: tele, Logger: log.New(io.Discard, "", 0)}
}

func TestAnalyzeStreamsEventSequence(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	body := `{"query": "Show amounts by month", "data_source_id": "sales"}`
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.analyze(c); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", ct)
	}

	var events []stream.Event
	for _, frame := range strings.Split(rec.Body.String(), "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		events = append(events, ev)
	}

	if len(events) < 3 {
		t.Fatalf("expected a full event sequence, got %d events", len(events))
	}
	if events[0].Type != stream.TypeProgress {
		t.Fatalf("first event should be progress, got %+v", events[0])
	}
	if events[len(events)-1].Type != stream.TypeComplete {
		t.Fatalf("sequence must end with complete, got %+v", events[len(events)-1])
	}
	var sawResult bool
	for _, ev := range events {
		if ev.Type == stream.TypeResult {
			sawResult = true
			if ev.Insights == "" || ev.Query == "" {
				t.Fatalf("result event incomplete: %+v", ev)
			}
		}
	}
	if !sawResult {
		t.Fatalf("missing result event in %+v", events)
	}
}

// nonFlushingWriter hides the recorder's Flush method.
type nonFlushingWriter struct {
	rec *httptest.ResponseRecorder
}

func (w *nonFlushingWriter) Header() http.Header         { return w.rec.Header() }
func (w *nonFlushingWriter) Write(b []byte) (int, error) { return w.rec.Write(b) }
func (w *nonFlushingWriter) WriteHeader(code int)        { w.rec.WriteHeader(code) }

func TestAnalyzeNonFlushingWriterGetsErrorStatus(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	body := `{"query": "Show amounts by month", "data_source_id": "sales"}`
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, &nonFlushingWriter{rec: rec})

	err := h.analyze(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the writer cannot stream, got %v", err)
	}
	if c.Response().Committed {
		t.Fatalf("response must not be committed before the flusher check")
	}
}

func TestAnalyzeRejectsEmptyQuery(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{"query": "  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.analyze(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %v", err)
	}
}
