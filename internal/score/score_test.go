package score

import "testing"

func TestConfidenceStaysInBounds(t *testing.T) {
	rates := []*float64{nil, ptr(0.0), ptr(0.5), ptr(1.0)}
	times := []int64{0, 100, 2500, 50000, 1000000}
	for _, success := range []bool{true, false} {
		for _, rate := range rates {
			for _, ms := range times {
				for _, errStr := range []string{"", "backend exploded"} {
					c := Confidence("query_execution", Result{
						Success: success,
						Error:   errStr,
						Fields:  map[string]interface{}{"rows": []int{1}, "columns": []string{"a"}},
					}, ms, rate)
					if c < 0 || c > 1 {
						t.Fatalf("confidence out of bounds: %f (success=%v rate=%v ms=%d err=%q)",
							c, success, rate, ms, errStr)
					}
				}
			}
		}
	}
}

func TestConfidenceOrdersSuccessAboveFailure(t *testing.T) {
	fields := map[string]interface{}{"query": "SELECT 1"}
	good := Confidence("query_generation", Result{Success: true, Fields: fields}, 500, nil)
	bad := Confidence("query_generation", Result{Success: false, Error: "boom"}, 500, nil)
	if good <= bad {
		t.Fatalf("success (%f) should score above failure (%f)", good, bad)
	}
}

func TestConfidencePenalizesSlowStages(t *testing.T) {
	fields := map[string]interface{}{"query": "SELECT 1"}
	fast := Confidence("query_generation", Result{Success: true, Fields: fields}, 100, nil)
	slow := Confidence("query_generation", Result{Success: true, Fields: fields}, 60000, nil)
	if fast <= slow {
		t.Fatalf("fast (%f) should score above slow (%f)", fast, slow)
	}
}

func TestConfidenceUsesHistoricalRate(t *testing.T) {
	fields := map[string]interface{}{"schema": "TABLE t ()"}
	healthy := Confidence("schema_fetch", Result{Success: true, Fields: fields}, 60000, ptr(1.0))
	flaky := Confidence("schema_fetch", Result{Success: true, Fields: fields}, 60000, ptr(0.1))
	if healthy <= flaky {
		t.Fatalf("healthy history (%f) should score above flaky history (%f)", healthy, flaky)
	}
}

func TestQualityWeights(t *testing.T) {
	m := Quality(Result{
		Success:   true,
		Fields:    map[string]interface{}{"query": "q", "rows": 1},
		Validated: ptrBool(true),
	}, []string{"query", "rows"}, 1.0)

	if m.Completeness != 1.0 {
		t.Fatalf("expected full completeness, got %f", m.Completeness)
	}
	if m.Accuracy != 1.0 {
		t.Fatalf("validated result should have accuracy 1.0, got %f", m.Accuracy)
	}
	want := 0.3*1.0 + 0.3*1.0 + 0.2*0.8 + 0.2*1.0
	if diff := m.Overall - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("overall %f, want %f", m.Overall, want)
	}
}

func TestQualityPartialCompleteness(t *testing.T) {
	m := Quality(Result{
		Success: true,
		Fields:  map[string]interface{}{"query": "q"},
	}, []string{"query", "rows"}, 0.5)
	if m.Completeness != 0.5 {
		t.Fatalf("expected 0.5 completeness, got %f", m.Completeness)
	}
}

func TestTrustRange(t *testing.T) {
	for _, conf := range []float64{0, 0.5, 1} {
		for _, overall := range []float64{0, 0.5, 1} {
			for _, fb := range []*float64{nil, ptr(0.0), ptr(1.0)} {
				for _, hasErr := range []bool{true, false} {
					tr := Trust(conf, Metrics{Overall: overall}, fb, hasErr)
					if tr < 0 || tr > 1 {
						t.Fatalf("trust out of bounds: %f", tr)
					}
				}
			}
		}
	}
}

func TestTrustErrorPenalty(t *testing.T) {
	clean := Trust(0.8, Metrics{Overall: 0.8}, nil, false)
	withErr := Trust(0.8, Metrics{Overall: 0.8}, nil, true)
	if clean-withErr < 0.19 || clean-withErr > 0.21 {
		t.Fatalf("error penalty should be 0.2, got %f", clean-withErr)
	}
}

func TestAssessDataQualityEmpty(t *testing.T) {
	report := AssessDataQuality(nil)
	if report.Score != 0 {
		t.Fatalf("empty data must score 0, got %f", report.Score)
	}
	if len(report.Issues) != 1 || report.Issues[0] != "empty_data" {
		t.Fatalf("expected empty_data issue, got %v", report.Issues)
	}
}

func TestAssessDataQualityFewRows(t *testing.T) {
	rows := []map[string]interface{}{
		{"a": 1}, {"a": 2},
	}
	report := AssessDataQuality(rows)
	if !hasIssue(report, "very_few_rows") {
		t.Fatalf("expected very_few_rows, got %v", report.Issues)
	}
	if report.Score >= 1.0 {
		t.Fatalf("few rows should shave the score, got %f", report.Score)
	}
}

func TestAssessDataQualityHighNullColumn(t *testing.T) {
	var rows []map[string]interface{}
	for i := 0; i < 10; i++ {
		row := map[string]interface{}{"a": i, "b": nil}
		if i < 2 {
			row["b"] = i
		}
		rows = append(rows, row)
	}
	report := AssessDataQuality(rows)
	if !hasIssue(report, "high_null_rate:b") {
		t.Fatalf("expected high_null_rate:b, got %v", report.Issues)
	}
}

func TestAssessDataQualityInconsistentShapes(t *testing.T) {
	rows := []map[string]interface{}{
		{"a": 1, "b": 2},
		{"a": 1},
		{"a": 1, "b": 2},
		{"a": 1, "b": 2},
		{"a": 1, "b": 2},
	}
	report := AssessDataQuality(rows)
	if !hasIssue(report, "inconsistent_row_shapes") {
		t.Fatalf("expected inconsistent_row_shapes, got %v", report.Issues)
	}
}

func TestAssessDataQualityCleanData(t *testing.T) {
	var rows []map[string]interface{}
	for i := 0; i < 50; i++ {
		rows = append(rows, map[string]interface{}{"a": i, "b": i * 2})
	}
	report := AssessDataQuality(rows)
	if report.Score != 1.0 || len(report.Issues) != 0 {
		t.Fatalf("clean data should score 1.0 with no issues, got %f %v", report.Score, report.Issues)
	}
}

func hasIssue(r DataQualityReport, issue string) bool {
	for _, i := range r.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

func ptr(f float64) *float64 { return &f }
func ptrBool(b bool) *bool   { return &b }
