package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
)

// MetricSummary is the aggregate of every value reported for one metric.
type MetricSummary struct {
	Metric string  `json:"metric"`
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type aggregateMetrics struct{}

func (s *aggregateMetrics) Name() string        { return AggregateMetrics }
func (s *aggregateMetrics) Description() string { return "aggregate raw measures per metric" }

func (s *aggregateMetrics) Execute(_ context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	report, err := loadReport(sc)
	if err != nil {
		return pipeline.Result{}, err
	}
	measures := report.Get("measures")
	if !measures.IsArray() || len(measures.Array()) == 0 {
		return pipeline.Skipped("report carries no measures"), nil
	}

	byMetric := map[string]*MetricSummary{}
	var bad int
	measures.ForEach(func(_, m gjson.Result) bool {
		name, value := m.Get("metric").String(), m.Get("value")
		if name == "" || !value.Exists() {
			bad++
			return true
		}
		v := value.Float()
		agg, ok := byMetric[name]
		if !ok {
			agg = &MetricSummary{Metric: name, Min: v, Max: v}
			byMetric[name] = agg
		}
		agg.Count++
		agg.Sum += v
		agg.Min = min(agg.Min, v)
		agg.Max = max(agg.Max, v)
		return true
	})
	if len(byMetric) == 0 {
		return pipeline.Failed(fmt.Sprintf("all %d measures are malformed", bad)), nil
	}

	out := make([]*MetricSummary, 0, len(byMetric))
	for _, agg := range byMetric {
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	b, err := json.Marshal(out)
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := sc.Workspace.WriteFile(measuresFile, b); err != nil {
		return pipeline.Result{}, fmt.Errorf("write measures: %w", err)
	}
	msg := fmt.Sprintf("%d metrics aggregated", len(out))
	if bad > 0 {
		msg += fmt.Sprintf(", %d malformed measures ignored", bad)
	}
	return pipeline.OK(msg), nil
}
