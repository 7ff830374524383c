package steps

import (
	"context"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/capability"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
)

const msgNotInstalled = "provider not installed"

// refreshViews propagates the analysed unit to dependent aggregate views
// through the view_refresher capability.
type refreshViews struct {
	slot capability.Slot
}

func NewRefreshViews(slot capability.Slot) pipeline.Step {
	return &refreshViews{slot: slot}
}

func (s *refreshViews) Name() string        { return RefreshViews }
func (s *refreshViews) Description() string { return "refresh aggregate views depending on the unit" }

func (s *refreshViews) Execute(ctx context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	p, ok := s.slot.Lookup()
	if !ok {
		return pipeline.Skipped(msgNotInstalled), nil
	}
	if err := p.Process(ctx, sc.UnitRef); err != nil {
		logging.Warn(ctx, "view refresh failed", zap.String("unit_ref", sc.UnitRef), zap.Error(err))
		return pipeline.Failed(err.Error()), nil
	}
	return pipeline.OK("views refreshed"), nil
}
