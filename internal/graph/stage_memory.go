package graph

import (
	"context"

	"turncore/internal/domain"
)

// buildMemoryRetrieveStage implements stage 6: embed the current input and
// pull back the closest derived notes. package memory.Retriever is already
// best-effort (never fails the turn), so no fallback wrapper is needed.
func buildMemoryRetrieveStage(deps *Deps) stageFunc {
	return withCancelCheck(StageMemoryRetrieve, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		if deps.Retriever == nil {
			return state, nil
		}
		state.RetrievedMemories = deps.Retriever.Retrieve(ctx, state)
		return state, nil
	})
}
