package graph

import (
	"context"

	"turncore/internal/domain"
)

// buildStageManageStage implements stage 12: compare the post-Evolve
// relationship vector against the declared stage profiles and apply the
// resulting STAY/GROWTH/DECAY/JUMP transition. GROWTH and DECAY move one
// step; a JUMP moves further only when Detection's implied_stage agrees (P3
// is enforced inside stage.Manager.Evaluate itself).
func buildStageManageStage(deps *Deps) stageFunc {
	return withCancelCheck(StageManage, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		if deps.StageManager == nil {
			return state, nil
		}
		transition := deps.StageManager.Evaluate(state.CurrentStage, state.RelationshipState, state.Detection.ImpliedStage)
		state.CurrentStage = transition.Target
		return state, nil
	})
}
