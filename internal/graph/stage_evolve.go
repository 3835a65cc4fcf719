package graph

import (
	"context"

	"turncore/internal/domain"
)

// buildEvolveStage implements stage 11. evolve.Engine.Run already absorbs
// its own analyzer failures (neutral deltas), so this stage never fails the
// turn; it only has to apply the result back onto state.
func buildEvolveStage(deps *Deps) stageFunc {
	return withCancelCheck(StageEvolve, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		result := deps.Evolver.Run(ctx, state)
		state.RelationshipState = result.RelationshipState
		state.UserBasicInfo = result.UserBasicInfo
		state.UserInferredProfile = result.UserInferredProfile
		state.ReplyPlan.AttemptedTaskIDs = result.AttemptedTaskIDs
		state.ReplyPlan.CompletedTaskIDs = result.CompletedTaskIDs
		return state, nil
	})
}
