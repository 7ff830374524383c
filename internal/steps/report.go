package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
)

type extractReport struct{}

func (s *extractReport) Name() string        { return ExtractReport }
func (s *extractReport) Description() string { return "validate the submitted report and stage it in the workspace" }

func (s *extractReport) Execute(_ context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	if strings.TrimSpace(sc.Payload) == "" {
		return pipeline.Failed("empty report"), nil
	}
	if !gjson.Valid(sc.Payload) {
		return pipeline.Failed("report is not valid JSON"), nil
	}
	if err := sc.Workspace.WriteFile(reportFile, []byte(sc.Payload)); err != nil {
		return pipeline.Result{}, fmt.Errorf("stage report: %w", err)
	}
	return pipeline.OK(fmt.Sprintf("staged %d bytes", len(sc.Payload))), nil
}

// loadReport reads the staged report back from the workspace.
func loadReport(sc *pipeline.StepContext) (gjson.Result, error) {
	b, err := sc.Workspace.ReadFile(reportFile)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read staged report: %w", err)
	}
	return gjson.ParseBytes(b), nil
}
