package pipeline

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestUserMessageTruncatesOnRuneBoundary(t *testing.T) {
	question := strings.Repeat("é", 200)
	pe := newStageError(StageQueryGeneration, KindStructural, errors.New("boom"))

	msg := pe.userMessage(question)
	if !utf8.ValidString(msg) {
		t.Fatalf("truncated message must stay valid UTF-8: %q", msg)
	}
	if !strings.Contains(msg, strings.Repeat("é", 120)+"...") {
		t.Fatalf("question should be cut at 120 runes: %q", msg)
	}
	if strings.Contains(msg, strings.Repeat("é", 121)) {
		t.Fatalf("question should not exceed the cut: %q", msg)
	}
}

func TestUserMessageKeepsShortQuestionsIntact(t *testing.T) {
	pe := newStageError(StageQueryExecution, KindTransient, errors.New("boom"))
	msg := pe.userMessage("Show totals")
	if !strings.Contains(msg, `"Show totals"`) {
		t.Fatalf("short questions pass through untouched: %q", msg)
	}
	if strings.Contains(msg, "boom") {
		t.Fatalf("raw error text must never reach the caller: %q", msg)
	}
}
