package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
)

const unknownSeverity = "UNKNOWN"

type trackIssues struct{}

func (s *trackIssues) Name() string        { return TrackIssues }
func (s *trackIssues) Description() string { return "count reported issues by severity" }

func (s *trackIssues) Execute(_ context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	report, err := loadReport(sc)
	if err != nil {
		return pipeline.Result{}, err
	}
	issues := report.Get("issues")
	if !issues.Exists() {
		return pipeline.Skipped("report carries no issues"), nil
	}
	if !issues.IsArray() {
		return pipeline.Failed("issues is not a list"), nil
	}

	counts := map[string]int{}
	total := 0
	issues.ForEach(func(_, issue gjson.Result) bool {
		sev := strings.ToUpper(issue.Get("severity").String())
		if sev == "" {
			sev = unknownSeverity
		}
		counts[sev]++
		total++
		return true
	})
	b, err := json.Marshal(map[string]any{"total": total, "by_severity": counts})
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := sc.Workspace.WriteFile(issuesFile, b); err != nil {
		return pipeline.Result{}, fmt.Errorf("write issues: %w", err)
	}
	return pipeline.OK(fmt.Sprintf("%d issues tracked", total)), nil
}
