// Package score computes per-stage confidence, data-quality and trust metrics
// for pipeline responses. All scores are clamped to [0,1].
package score

// Result is the stage outcome the scorer evaluates. Fields carries the stage
// payload keyed by field name; Validated and MatchScore are optional upstream
// signals.
type Result struct {
	Success    bool
	Error      string
	Fields     map[string]interface{}
	Validated  *bool
	MatchScore *float64
}

// Metrics is the per-stage quality breakdown.
type Metrics struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Relevance    float64 `json:"relevance"`
	DataQuality  float64 `json:"data_quality"`
	Overall      float64 `json:"overall"`
}

// stageRequiredFields lists the payload fields each stage is expected to
// produce; field completeness feeds both confidence and quality scoring.
var stageRequiredFields = map[string][]string{
	"routing":           nil,
	"schema_fetch":      {"schema"},
	"query_generation":  {"query"},
	"query_execution":   {"rows", "columns"},
	"chart_generation":  {"chart"},
	"insight_narration": {"insights"},
}

// RequiredFields returns the expected payload fields for a stage.
func RequiredFields(stage string) []string {
	return stageRequiredFields[stage]
}

// Confidence scores a stage outcome. The baseline is 0.5, adjusted by the
// success flag, the stage's historical success rate (0.8 assumed when
// unknown), execution latency, required-field completeness and the presence
// of an error string.
func Confidence(stage string, r Result, execMs int64, historicalRate *float64) float64 {
	c := 0.5

	if r.Success {
		c += 0.2
	} else {
		c -= 0.3
	}

	rate := 0.8
	if historicalRate != nil {
		rate = *historicalRate
	}
	c += 0.2 * rate

	if execMs < 2000 {
		c += 0.1
	} else if execMs > 10000 {
		c -= 0.1
	}

	c += 0.2 * fieldCompleteness(r.Fields, RequiredFields(stage))

	if r.Error != "" {
		c -= 0.2
	}

	return clamp(c)
}

// Quality derives the metric breakdown for a stage result. Accuracy comes
// from the upstream validation flag when available (1.0 validated, 0.5 when
// the flag is present but false, 0.7 default); relevance defaults to 0.8
// unless an upstream match score is supplied.
func Quality(r Result, expectedFields []string, dataQuality float64) Metrics {
	m := Metrics{
		Completeness: fieldCompleteness(r.Fields, expectedFields),
		DataQuality:  clamp(dataQuality),
	}

	switch {
	case r.Validated != nil && *r.Validated:
		m.Accuracy = 1.0
	case r.Validated != nil:
		m.Accuracy = 0.5
	default:
		m.Accuracy = 0.7
	}

	if r.MatchScore != nil {
		m.Relevance = clamp(*r.MatchScore)
	} else {
		m.Relevance = 0.8
	}

	m.Overall = clamp(0.3*m.Completeness + 0.3*m.Accuracy + 0.2*m.Relevance + 0.2*m.DataQuality)
	return m
}

// Trust combines confidence and quality into the headline reliability score.
// User feedback contributes 0.2 weighted when supplied, 0.1 neutral when
// absent; a present error subtracts 0.2.
func Trust(confidence float64, m Metrics, feedback *float64, hasError bool) float64 {
	t := 0.4*confidence + 0.4*m.Overall
	if feedback != nil {
		t += 0.2 * clamp(*feedback)
	} else {
		t += 0.1
	}
	if hasError {
		t -= 0.2
	}
	return clamp(t)
}

// DataQualityReport captures row-level quality findings.
type DataQualityReport struct {
	Score  float64  `json:"quality_score"`
	Issues []string `json:"issues"`
}

// AssessDataQuality inspects a result set for shape problems. Zero rows is a
// hard zero; very small and very large results, inconsistent row shapes and
// columns that are mostly null in a sample of the first 100 rows each shave
// the score.
func AssessDataQuality(rows []map[string]interface{}) DataQualityReport {
	if len(rows) == 0 {
		return DataQualityReport{Score: 0, Issues: []string{"empty_data"}}
	}

	report := DataQualityReport{Score: 1.0}

	if len(rows) < 5 {
		report.Score -= 0.2
		report.Issues = append(report.Issues, "very_few_rows")
	}
	if len(rows) > 10000 {
		report.Score -= 0.1
		report.Issues = append(report.Issues, "very_many_rows")
	}

	sample := rows
	if len(sample) > 100 {
		sample = sample[:100]
	}

	refCols := len(sample[0])
	inconsistent := false
	nullCounts := make(map[string]int)
	for _, row := range sample {
		if len(row) != refCols {
			inconsistent = true
		}
		for col, v := range row {
			if v == nil {
				nullCounts[col]++
			}
		}
	}
	if inconsistent {
		report.Score -= 0.2
		report.Issues = append(report.Issues, "inconsistent_row_shapes")
	}
	for col, nulls := range nullCounts {
		if float64(nulls)/float64(len(sample)) > 0.5 {
			report.Score -= 0.1
			report.Issues = append(report.Issues, "high_null_rate:"+col)
		}
	}

	report.Score = clamp(report.Score)
	return report
}

func fieldCompleteness(fields map[string]interface{}, required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	present := 0
	for _, name := range required {
		if v, ok := fields[name]; ok && v != nil {
			present++
		}
	}
	return float64(present) / float64(len(required))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
