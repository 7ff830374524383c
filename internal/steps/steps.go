// Package steps holds the built-in computation steps of the analysis pipeline.
package steps

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/capability"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
)

const (
	ExtractReport       = "extract_report"
	AggregateMetrics    = "aggregate_metrics"
	TrackIssues         = "track_issues"
	EvaluateQualityGate = "evaluate_quality_gate"
	RefreshViews        = "refresh_views"

	// SlotViewRefresher is the capability slot used by refresh_views.
	SlotViewRefresher = "view_refresher"

	reportFile   = "report.json"
	measuresFile = "measures.json"
	issuesFile   = "issues.json"
)

// DefaultOrder 默认步骤顺序
var DefaultOrder = []string{ExtractReport, AggregateMetrics, TrackIssues, EvaluateQualityGate, RefreshViews}

type factory func(b *capability.Bindings) pipeline.Step

var known = map[string]factory{
	ExtractReport:       func(*capability.Bindings) pipeline.Step { return &extractReport{} },
	AggregateMetrics:    func(*capability.Bindings) pipeline.Step { return &aggregateMetrics{} },
	TrackIssues:         func(*capability.Bindings) pipeline.Step { return &trackIssues{} },
	EvaluateQualityGate: func(*capability.Bindings) pipeline.Step { return &evaluateQualityGate{} },
	RefreshViews: func(b *capability.Bindings) pipeline.Step {
		return NewRefreshViews(b.Slot(SlotViewRefresher))
	},
}

// Build creates the step registry in the given order; empty names means DefaultOrder.
func Build(names []string, b *capability.Bindings) (*pipeline.Registry, error) {
	if len(names) == 0 {
		names = DefaultOrder
	}
	list := make([]pipeline.Step, 0, len(names))
	for _, name := range names {
		f, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown pipeline step %q", name)
		}
		list = append(list, f(b))
	}
	return pipeline.NewRegistry(list...)
}
