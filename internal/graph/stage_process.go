package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/llm"
	"turncore/internal/segment"
)

var processorSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "segments": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "content": {"type": "string"},
          "delay_seconds": {"type": "number", "minimum": 0},
          "action": {"type": "string", "enum": ["typing", "idle"]}
        },
        "required": ["content"]
      }
    }
  },
  "required": ["segments"]
}`)

type processorSegment struct {
	Content      string  `json:"content"`
	DelaySeconds float64 `json:"delay_seconds,omitempty"`
	Action       string  `json:"action,omitempty"`
}

type processorVerdict struct {
	Segments []processorSegment `json:"segments"`
}

// buildProcessStage implements stage 9, resolving Open Question O3: a
// reply_plan that already has ≥2 structured messages with delays skips the
// LLM processor entirely (the search engine already produced a paced
// bubble sequence); anything else is offered to the `processor` role first,
// falling back to the deterministic rule-split path on any Invoker error.
func buildProcessStage(deps *Deps) stageFunc {
	return withCancelCheck(StageProcess, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		traits := segmentTraits(state)

		if hasDelayedMultiMessage(state.ReplyPlan) {
			state.FinalSegments = segment.Process(state.ReplyPlan, traits)
		} else {
			segments, err := invokeProcessor(ctx, deps, state)
			if err != nil {
				deps.logger().Warn("processor role failed, falling back to rule-split", zap.Error(err))
				state.RecordError(domain.ErrStageFallback, string(StageProcess), err.Error())
				segments = segment.Process(state.ReplyPlan, traits)
			}
			state.FinalSegments = segments
		}

		applyMacroDelay(deps, state)
		return state, nil
	})
}

func hasDelayedMultiMessage(plan domain.ReplyPlan) bool {
	if len(plan.Messages) < 2 {
		return false
	}
	for _, m := range plan.Messages {
		if m.DelaySeconds > 0 {
			return true
		}
	}
	return false
}

func invokeProcessor(ctx context.Context, deps *Deps, state *domain.TurnState) ([]domain.SegmentDraft, error) {
	out, err := deps.Invoker.Invoke(ctx, llm.RoleProcessor, processorPrompt(state), processorSchema)
	if err != nil {
		return nil, fmt.Errorf("processor stage: %w", err)
	}
	best, err := llm.ParseBestEffort(out)
	if err != nil {
		return nil, fmt.Errorf("processor stage: %w", err)
	}
	var v processorVerdict
	if err := json.Unmarshal(best, &v); err != nil {
		return nil, fmt.Errorf("processor stage: decode verdict: %w", err)
	}
	if len(v.Segments) == 0 {
		return nil, fmt.Errorf("processor stage: empty segments")
	}
	out2 := make([]domain.SegmentDraft, len(v.Segments))
	for i, s := range v.Segments {
		action := s.Action
		if action == "" {
			if s.DelaySeconds > 0 {
				action = domain.ActionTyping
			} else {
				action = domain.ActionIdle
			}
		}
		out2[i] = domain.SegmentDraft{Content: s.Content, DelaySeconds: s.DelaySeconds, Action: action}
	}
	return out2, nil
}

func processorPrompt(state *domain.TurnState) llm.Prompt {
	var sb strings.Builder
	for i, m := range state.ReplyPlan.Messages {
		if i > 0 {
			sb.WriteString(" / ")
		}
		sb.WriteString(m.Content)
	}
	return llm.Prompt{
		System: "Split this chosen reply into natural chat bubbles with a typing delay (seconds) per bubble after the first, matching how a person texting would pace the messages.",
		User:   sb.String(),
	}
}

func segmentTraits(state *domain.TurnState) segment.Traits {
	return segment.Traits{
		Extraversion: unsign(state.BotBigFive.Extraversion),
		Closeness:    state.RelationshipState.Closeness,
		Arousal:      unsign(state.MoodState.Arousal),
		Busyness:     state.MoodState.Busyness,
	}
}

func unsign(v float64) float64 {
	return (v + 1) / 2
}

// applyMacroDelay is the separate decision of spec §4.3: with probability
// P_macro(stage, busyness), or unconditionally once busyness exceeds 0.85,
// this turn collapses into a single macro-delay record instead of the
// normal per-segment pacing Process just computed. The session controller
// (not this stage) is responsible for honoring IsMacroDelay/
// MacroDelaySeconds instead of FinalSegments' own delays when emitting.
func applyMacroDelay(deps *Deps, state *domain.TurnState) {
	draw := deps.macroDraw()
	if !segment.ShouldMacroDelay(state.CurrentStage, state.MoodState.Busyness, draw) {
		state.IsMacroDelay = false
		state.MacroDelaySeconds = 0
		return
	}
	state.IsMacroDelay = true
	state.MacroDelaySeconds = segment.MacroDelaySeconds(draw)
}
