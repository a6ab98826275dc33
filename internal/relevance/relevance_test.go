package relevance

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
)

type scriptedProvider struct {
	reply string
	err   error
}

func (p *scriptedProvider) Generate(_ context.Context, _, _ string, _ map[string]interface{}) (string, error) {
	return p.reply, p.err
}

func (p *scriptedProvider) GenerateWithTokens(ctx context.Context, prompt, model string, opts map[string]interface{}) (string, int64, int64, error) {
	s, err := p.Generate(ctx, prompt, model, opts)
	return s, 0, 0, err
}

func newTestDetector(p *scriptedProvider) *Detector {
	return NewDetector(p, "test-model", log.New(io.Discard, "", 0))
}

func TestIsRelevantAffirmative(t *testing.T) {
	d := newTestDetector(&scriptedProvider{
		reply: `{"is_relevant": true, "confidence": 0.9, "reasoning": "same table"}`,
	})
	v := d.IsRelevant(context.Background(), "now by region", "SELECT * FROM sales")
	if !v.IsRelevant || v.Confidence != 0.9 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestIsRelevantFailsClosedOnProviderError(t *testing.T) {
	d := newTestDetector(&scriptedProvider{err: errors.New("backend down")})
	v := d.IsRelevant(context.Background(), "q", "SELECT 1")
	if v.IsRelevant || v.Confidence != 0 {
		t.Fatalf("provider failure must fail closed, got %+v", v)
	}
}

func TestIsRelevantFailsClosedOnUnparseableOutput(t *testing.T) {
	d := newTestDetector(&scriptedProvider{reply: "sure, sounds relevant to me!"})
	v := d.IsRelevant(context.Background(), "q", "SELECT 1")
	if v.IsRelevant || v.Confidence != 0 {
		t.Fatalf("unparseable output must fail closed, got %+v", v)
	}
}

func TestIsRelevantFailsClosedOnWrongTypes(t *testing.T) {
	d := newTestDetector(&scriptedProvider{
		reply: `{"is_relevant": "yes", "confidence": "high", "reasoning": 1}`,
	})
	v := d.IsRelevant(context.Background(), "q", "SELECT 1")
	if v.IsRelevant {
		t.Fatalf("mis-typed output must fail closed, got %+v", v)
	}
}

func TestIsRelevantEmptyPriorQuery(t *testing.T) {
	p := &scriptedProvider{reply: `{"is_relevant": true, "confidence": 1, "reasoning": "x"}`}
	d := newTestDetector(p)
	v := d.IsRelevant(context.Background(), "q", "   ")
	if v.IsRelevant {
		t.Fatalf("empty prior query must be irrelevant without a model call, got %+v", v)
	}
}

func TestIsRelevantClampsConfidence(t *testing.T) {
	d := newTestDetector(&scriptedProvider{
		reply: `{"is_relevant": true, "confidence": 3.5, "reasoning": "x"}`,
	})
	v := d.IsRelevant(context.Background(), "q", "SELECT 1")
	if v.Confidence != 1 {
		t.Fatalf("confidence should clamp to 1, got %f", v.Confidence)
	}
}
