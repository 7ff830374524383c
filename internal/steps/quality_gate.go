package steps

import (
	"context"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
)

// evaluateQualityGate records the gate status carried by the report. Gate
// conditions are not recomputed.
type evaluateQualityGate struct{}

func (s *evaluateQualityGate) Name() string        { return EvaluateQualityGate }
func (s *evaluateQualityGate) Description() string { return "record the quality gate status" }

func (s *evaluateQualityGate) Execute(_ context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	report, err := loadReport(sc)
	if err != nil {
		return pipeline.Result{}, err
	}
	status := report.Get("qualityGate.status")
	if !status.Exists() || status.String() == "" {
		return pipeline.Skipped("no quality gate"), nil
	}
	return pipeline.OK("quality gate " + status.String()), nil
}
