package graph

import (
	"context"

	"turncore/internal/domain"
	"turncore/internal/segment"
)

// buildSearchStage implements stage 8: the tree-search rollout engine,
// bounded by the requirements this turn's TaskPlan stage derived.
func buildSearchStage(deps *Deps) stageFunc {
	body := func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		req := domain.Requirements{
			MaxMessages:   deps.MaxMessages,
			MinFirstLen:   deps.MinFirstLen,
			WordBudget:    state.WordBudget,
			TaskBudgetMax: state.TaskBudgetMax,
		}
		plan, err := deps.SearchEngine.Run(ctx, state, req)
		if err != nil {
			return state, err
		}
		state.ReplyPlan = plan
		return state, nil
	}
	return withCancelCheck(StageSearch, withFallback(StageSearch, body, func(state *domain.TurnState, err error) {
		state.ReplyPlan = domain.ReplyPlan{Messages: []domain.SegmentDraft{{Content: segment.ApologyFallback, Action: domain.ActionIdle}}}
	}))
}
