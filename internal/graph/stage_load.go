package graph

import (
	"context"
	"fmt"
	"time"

	"turncore/internal/domain"
)

// buildLoadStage implements stage 1: single-row lookups for the identity,
// perception, physics and memory layers keyed by (bot_id, external_id),
// preserving the caller-supplied control fields (turn_id, user_input, ...).
func buildLoadStage(deps *Deps) stageFunc {
	return withCancelCheck(StageLoad, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		result, err := deps.Store.Load(ctx, state.BotID, state.ExternalID)
		if err != nil {
			return state, fmt.Errorf("load stage: %w", err)
		}
		loaded := result.State
		loaded.TurnID = state.TurnID
		loaded.ParentTurnID = state.ParentTurnID
		loaded.ClientTurnID = state.ClientTurnID
		loaded.UserInput = state.UserInput
		loaded.TurnIndex = result.TurnIndex
		if loaded.StartedAt.IsZero() {
			loaded.StartedAt = time.Now().UTC()
		}
		*state = *loaded
		return state, nil
	})
}
