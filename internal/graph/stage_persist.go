package graph

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/store"
)

// buildPersistStage implements stage 13, MemoryManage + Persist: it derives
// this turn's conversation summary and any derived notes worth embedding
// for later retrieval, then commits everything in one transaction. A
// PersistError never gets a documented default (spec §7): it propagates so
// the caller can retry or surface a 5xx, it is never absorbed onto state.
func buildPersistStage(deps *Deps) stageFunc {
	return withCancelCheck(StagePersist, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		state.ConversationSummary = nextConversationSummary(state)

		notes := derivedNotes(state)
		in := store.PersistInput{
			TurnIndex:    state.TurnIndex,
			Topic:        state.Detection.Brief,
			Entities:     map[string]string{},
			ShortContext: state.ConversationSummary,
			Notes:        notes,
		}

		if deps.Store == nil {
			return state, nil
		}

		if err := deps.Store.Persist(ctx, state, in, func() bool { return deps.superseded(state.TurnID) }); err != nil {
			return state, err
		}

		for i, note := range notes {
			if deps.Retriever == nil {
				break
			}
			if err := deps.Retriever.Remember(ctx, uuid.NewString(), state.BotID, state.UserID, note.Content, note.Importance); err != nil {
				deps.logger().Warn("derived note embedding failed, note stays unsearchable", zap.Int("index", i), zap.Error(err))
			}
		}

		return state, nil
	})
}

// nextConversationSummary folds this turn onto the running summary. A
// dedicated summarizer role is not in the stage table (spec §4.1 assigns
// MemoryManage no LLM role of its own), so this stays a deterministic
// tail-window rollup rather than another Invoker call.
func nextConversationSummary(state *domain.TurnState) string {
	const maxLen = 1200
	turn := state.UserInput + " -> " + state.FinalResponse
	summary := state.ConversationSummary
	if summary == "" {
		return truncateTail(turn, maxLen)
	}
	return truncateTail(summary+"\n"+turn, maxLen)
}

func truncateTail(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[len(r)-maxLen:])
}

// derivedNotes extracts the durable facts this turn is worth remembering,
// grounded on state the stages above already computed rather than issuing
// a fresh extraction call.
func derivedNotes(state *domain.TurnState) []store.DerivedNote {
	var notes []store.DerivedNote
	if state.InnerMonologue != "" {
		notes = append(notes, store.DerivedNote{
			NoteType:   "monologue",
			Content:    state.InnerMonologue,
			Importance: 0.3,
		})
	}
	if state.Detection.Brief != "" {
		notes = append(notes, store.DerivedNote{
			NoteType:   "turn_summary",
			Content:    state.Detection.Brief,
			Importance: 0.5,
		})
	}
	for key, value := range state.UserInferredProfile {
		notes = append(notes, store.DerivedNote{
			NoteType:   "inferred_profile",
			Content:    key + ": " + value,
			Importance: 0.6,
		})
	}
	return notes
}
