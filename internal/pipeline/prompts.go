package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vizquery/vizquery/internal/engine"
)

const queryGenSystem = `You translate analytics questions into a single SQL query for the schema provided.
Respond ONLY with valid JSON in exactly this shape:
{"query": "SELECT ..."}
Rules:
1. Use only tables and columns that appear in the schema.
2. Prefer aggregates and GROUP BY when the question asks for totals, trends or breakdowns.
3. Never modify data; generate read-only queries.
Do not include any other text or explanation.`

func buildQueryPrompt(schema, question, priorQuery string) string {
	var b strings.Builder
	b.WriteString("SCHEMA:\n")
	b.WriteString(schema)
	b.WriteString("\n\nQUESTION: ")
	b.WriteString(question)
	if priorQuery != "" {
		b.WriteString("\n\nThe previous query in this conversation is relevant context; build on it where appropriate:\n")
		b.WriteString(priorQuery)
	}
	return b.String()
}

// buildBareQueryPrompt is the simplified one-shot re-generation used when the
// first response could not be parsed.
func buildBareQueryPrompt(schema, question string) string {
	return fmt.Sprintf("SCHEMA:\n%s\n\nWrite one SQL query answering: %s\nRespond with JSON only: {\"query\": \"...\"}", schema, question)
}

const chartGenSystem = `You turn a tabular query result into a chart specification.
Respond ONLY with valid JSON in exactly this shape:
{"type": "bar|line|pie|scatter", "title": "...", "categories": ["..."], "series": [{"name": "...", "data": [...]}]}
Pick the chart type that best fits the data. Do not include any other text.`

func buildChartPrompt(question string, result *engine.Result) string {
	sample := result.Rows
	if len(sample) > 50 {
		sample = sample[:50]
	}
	rows, _ := json.Marshal(sample)
	return fmt.Sprintf("QUESTION: %s\n\nCOLUMNS: %s\n\nROWS (sample):\n%s",
		question, strings.Join(result.Columns, ", "), string(rows))
}

func buildInsightPrompt(question string, result *engine.Result, chart *ChartSpec, deep bool) string {
	sample := result.Rows
	if len(sample) > 100 {
		sample = sample[:100]
	}
	rows, _ := json.Marshal(sample)

	var b strings.Builder
	b.WriteString("You are a data analyst. ")
	if deep {
		b.WriteString("Provide a thorough analysis: key findings, notable outliers, trends over the data, and one or two follow-up questions worth asking. ")
	} else {
		b.WriteString("Summarize the key findings in two or three sentences. ")
	}
	b.WriteString("Write plain prose for a business audience; no code, no JSON.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\n", question)
	if chart != nil {
		fmt.Fprintf(&b, "CHART TYPE: %s\n\n", chart.Type)
	}
	fmt.Fprintf(&b, "COLUMNS: %s\nROW COUNT: %d\n\nDATA (sample):\n%s",
		strings.Join(result.Columns, ", "), len(result.Rows), string(rows))
	return b.String()
}
