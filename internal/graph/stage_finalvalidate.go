package graph

import (
	"context"
	"strings"

	"turncore/internal/domain"
	"turncore/internal/segment"
)

// buildFinalValidateStage implements stage 10: clamp/merge the candidate
// bubbles against this turn's requirements (P5/P6/P7) and derive the flat
// final_response used by persistence and any non-segmented consumer.
func buildFinalValidateStage(deps *Deps) stageFunc {
	return withCancelCheck(StageFinalValidate, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		req := domain.Requirements{
			MaxMessages:   deps.MaxMessages,
			MinFirstLen:   deps.MinFirstLen,
			WordBudget:    state.WordBudget,
			TaskBudgetMax: state.TaskBudgetMax,
		}
		state.FinalSegments = segment.Validate(state.FinalSegments, req)
		state.FinalResponse = concatSegments(state.FinalSegments)
		return state, nil
	})
}

func concatSegments(segs []domain.SegmentDraft) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Content
	}
	return strings.Join(parts, "")
}
