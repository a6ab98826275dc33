package pipeline

import (
	"fmt"

	"github.com/vizquery/vizquery/internal/engine"
	"github.com/vizquery/vizquery/internal/structured"
)

var chartContract = structured.Contract{
	Name: "chart_spec",
	Required: []structured.Field{
		{Name: "type", Type: structured.TypeString},
		{Name: "series", Type: structured.TypeArray},
	},
}

// parseChartResponse turns model output into a ChartSpec, or reports why it
// could not.
func parseChartResponse(raw string) (*ChartSpec, error) {
	value, diag := structured.Parse(raw, chartContract)
	if !diag.OK() {
		return nil, fmt.Errorf("chart response invalid: %s", diag)
	}

	spec := &ChartSpec{}
	spec.Type, _ = value["type"].(string)
	spec.Title, _ = value["title"].(string)
	if cats, ok := value["categories"].([]interface{}); ok {
		for _, c := range cats {
			spec.Categories = append(spec.Categories, fmt.Sprint(c))
		}
	}
	rawSeries, _ := value["series"].([]interface{})
	for _, rs := range rawSeries {
		sm, ok := rs.(map[string]interface{})
		if !ok {
			continue
		}
		s := Series{}
		s.Name, _ = sm["name"].(string)
		if data, ok := sm["data"].([]interface{}); ok {
			s.Data = data
		}
		spec.Series = append(spec.Series, s)
	}

	if !spec.Valid() {
		return nil, fmt.Errorf("chart response has no plottable series")
	}
	return spec, nil
}

// fallbackChart builds a deterministic minimal chart from the first two
// result columns: first column labels the categories, second column supplies
// the values. Generation quality degradation, not total failure, is the
// default posture.
func fallbackChart(result *engine.Result) *ChartSpec {
	if result == nil || len(result.Rows) == 0 || len(result.Columns) == 0 {
		return nil
	}

	labelCol := result.Columns[0]
	valueCol := labelCol
	if len(result.Columns) > 1 {
		valueCol = result.Columns[1]
	}

	spec := &ChartSpec{
		Type:  "bar",
		Title: fmt.Sprintf("%s by %s", valueCol, labelCol),
	}
	series := Series{Name: valueCol}
	for _, row := range result.Rows {
		spec.Categories = append(spec.Categories, fmt.Sprint(row[labelCol]))
		series.Data = append(series.Data, row[valueCol])
	}
	spec.Series = []Series{series}
	return spec
}
