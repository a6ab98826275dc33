// Package relevance decides whether a conversation's previous query is still
// useful context for a new question.
package relevance

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/vizquery/vizquery/internal/llm"
	"github.com/vizquery/vizquery/internal/structured"
)

// Verdict is the detector's fixed-shape answer.
type Verdict struct {
	IsRelevant bool    `json:"is_relevant"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Detector asks a fast auxiliary model whether prior query context applies.
// On any failure to obtain a parseable, well-typed answer it fails closed:
// callers must never silently proceed with stale, unverified context.
type Detector struct {
	provider llm.Provider
	model    string
	logger   *log.Logger
}

// NewDetector wires the detector to the routed auxiliary model.
func NewDetector(provider llm.Provider, model string, logger *log.Logger) *Detector {
	return &Detector{provider: provider, model: model, logger: logger}
}

var verdictContract = structured.Contract{
	Name: "relevance_verdict",
	Required: []structured.Field{
		{Name: "is_relevant", Type: structured.TypeBool},
		{Name: "confidence", Type: structured.TypeNumber},
		{Name: "reasoning", Type: structured.TypeString},
	},
}

const systemInstruction = `You judge whether a previously generated database query is still relevant context for a new user question.
Respond ONLY with valid JSON in exactly this shape:
{"is_relevant": true|false, "confidence": 0.0-1.0, "reasoning": "one short sentence"}
Do not include any other text or explanation.`

// IsRelevant returns the model's verdict, or a closed (false, 0) verdict when
// the call or its parsing fails.
func (d *Detector) IsRelevant(ctx context.Context, userQuery, currentQuery string) Verdict {
	if strings.TrimSpace(currentQuery) == "" {
		return Verdict{IsRelevant: false, Confidence: 0, Reasoning: "no previous query"}
	}

	prompt := fmt.Sprintf("NEW QUESTION: %q\n\nPREVIOUS QUERY:\n%s", userQuery, currentQuery)
	raw, err := d.provider.Generate(ctx, prompt, d.model, map[string]interface{}{
		"system":      systemInstruction,
		"temperature": 0.0,
	})
	if err != nil {
		d.logger.Printf("relevance check failed, assuming not relevant: %v", err)
		return Verdict{}
	}

	value, diag := structured.Parse(raw, verdictContract)
	if !diag.OK() {
		d.logger.Printf("relevance response unparseable (%s), assuming not relevant", diag)
		return Verdict{}
	}

	isRelevant, _ := value["is_relevant"].(bool)
	confidence, _ := value["confidence"].(float64)
	reasoning, _ := value["reasoning"].(string)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Verdict{IsRelevant: isRelevant, Confidence: confidence, Reasoning: reasoning}
}
