package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"turncore/internal/domain"
	"turncore/internal/llm"
)

var monologueSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "inner_monologue": {"type": "string"},
    "selected_profile_keys": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["inner_monologue"]
}`)

type monologueVerdict struct {
	InnerMonologue      string   `json:"inner_monologue"`
	SelectedProfileKeys []string `json:"selected_profile_keys,omitempty"`
}

// buildMonologueStage implements stage 5: a main-role private reflection
// that also selects which persona attributes/lore keys are relevant to the
// reply about to be planned.
func buildMonologueStage(deps *Deps) stageFunc {
	body := func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		out, err := deps.Invoker.Invoke(ctx, llm.RoleMain, monologuePrompt(state), monologueSchema)
		if err != nil {
			return state, fmt.Errorf("monologue stage: %w", err)
		}
		best, err := llm.ParseBestEffort(out)
		if err != nil {
			return state, fmt.Errorf("monologue stage: %w", err)
		}
		var v monologueVerdict
		if err := json.Unmarshal(best, &v); err != nil {
			return state, fmt.Errorf("monologue stage: decode verdict: %w", err)
		}
		state.InnerMonologue = v.InnerMonologue
		state.SelectedProfileKeys = v.SelectedProfileKeys
		return state, nil
	}
	return withCancelCheck(StageMonologue, withFallback(StageMonologue, body, func(state *domain.TurnState, err error) {
		state.InnerMonologue = ""
		state.SelectedProfileKeys = nil
	}))
}

func monologuePrompt(state *domain.TurnState) llm.Prompt {
	var sb strings.Builder
	sb.WriteString("detection_brief: ")
	sb.WriteString(state.Detection.Brief)
	sb.WriteString("\nuser_emotion: ")
	sb.WriteString(state.Detection.UserEmotion.Emotion)
	sb.WriteString("\nbot_name: ")
	sb.WriteString(state.BotBasicInfo.Name)
	sb.WriteString("\nuser_input: ")
	sb.WriteString(state.UserInput)
	return llm.Prompt{
		System: "Write one short private inner-monologue sentence in character reacting to this turn, then list which persona attribute/lore/collection keys (from bot_persona) are worth drawing on for the reply.",
		User:   sb.String(),
	}
}
