package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"turncore/internal/domain"
	"turncore/internal/llm"
)

var securitySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "needs_security_response": {"type": "boolean"},
    "reasons": {"type": "array", "items": {"type": "string"}},
    "response": {"type": "string"}
  },
  "required": ["needs_security_response"]
}`)

type securityVerdict struct {
	NeedsSecurityResponse bool     `json:"needs_security_response"`
	Reasons               []string `json:"reasons,omitempty"`
	Response              string   `json:"response,omitempty"`
}

// buildSecurityStage implements stage 2: a fast-role safety screen over the
// current user input and recent chat buffer.
func buildSecurityStage(deps *Deps) stageFunc {
	body := func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		out, err := deps.Invoker.Invoke(ctx, llm.RoleFast, securityPrompt(state), securitySchema)
		if err != nil {
			return state, fmt.Errorf("security stage: %w", err)
		}
		best, err := llm.ParseBestEffort(out)
		if err != nil {
			return state, fmt.Errorf("security stage: %w", err)
		}
		var v securityVerdict
		if err := json.Unmarshal(best, &v); err != nil {
			return state, fmt.Errorf("security stage: decode verdict: %w", err)
		}
		state.SecurityFlags = domain.SecurityFlags{NeedsSecurityResponse: v.NeedsSecurityResponse, Reasons: v.Reasons}
		state.SecurityResponse = v.Response
		return state, nil
	}
	return withCancelCheck(StageSecurity, withFallback(StageSecurity, body, func(state *domain.TurnState, err error) {
		state.SecurityFlags = domain.SecurityFlags{}
	}))
}

func securityPrompt(state *domain.TurnState) llm.Prompt {
	var sb strings.Builder
	for _, msg := range tail(state.ChatBuffer, 6) {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("user: ")
	sb.WriteString(state.UserInput)
	return llm.Prompt{
		System: "Screen this message for content requiring a safety response (self-harm, abuse disclosure, illegal activity). If needs_security_response is true, also draft a brief, caring response in the field \"response\".",
		User:   sb.String(),
	}
}

func tail(msgs []domain.ChatMessage, n int) []domain.ChatMessage {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// buildSecurityReplyStage implements stage 3: the conditional terminal
// branch that bypasses Detection..FinalValidate entirely.
func buildSecurityReplyStage(deps *Deps) stageFunc {
	return withCancelCheck(StageSecurityReply, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		response := state.SecurityResponse
		if strings.TrimSpace(response) == "" {
			response = "我在这里陪着你，先别急，我们可以慢慢聊。"
		}
		state.FinalResponse = response
		state.FinalSegments = []domain.SegmentDraft{{Content: response, Action: domain.ActionIdle}}
		return state, nil
	})
}

// securityBranch routes to SecurityReply when Security flagged the turn,
// otherwise to Detection. This is the graph's one conditional edge (spec
// §4.1, "Conditional routing").
func securityBranch(ctx context.Context, state *domain.TurnState) (string, error) {
	if state.SecurityFlags.NeedsSecurityResponse {
		return string(StageSecurityReply), nil
	}
	return string(StageDetection), nil
}
