// Package evolve implements the relationship-delta engine and user-profile
// merge step that runs after a turn's reply is chosen (spec §4.5).
//
// Update is a two-layer process, mirroring the teacher's style of keeping an
// LLM-facing "analyzer" strictly separate from the math that applies it: the
// `fast` role proposes a signed -3..+3 delta per relationship dimension plus
// any profile updates it noticed, and a pure function damps and clamps those
// deltas before they ever touch domain.RelationshipState.
package evolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/llm"
)

// MarkAttemptedOnFallback resolves Open Question O1: when the chosen
// reply_plan names no attempted task ids, the tasks put forward to the
// search stage (tasks_for_lats) are recorded as attempted rather than
// silently dropped. This applies whether or not the analyzer call succeeded.
const MarkAttemptedOnFallback = true

type Engine struct {
	invoker llm.Invoker
	logger  *zap.Logger
}

func NewEngine(invoker llm.Invoker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{invoker: invoker, logger: logger}
}

// Result is everything the Evolve stage writes back onto TurnState.
type Result struct {
	RelationshipState   domain.RelationshipState
	UserBasicInfo       domain.UserBasicInfo
	UserInferredProfile domain.UserInferredProfile
	AttemptedTaskIDs    []string
	CompletedTaskIDs    []string
}

// Run analyzes the turn, damps and clamps the resulting deltas onto a copy
// of state.RelationshipState, merges profile updates, and settles task ids,
// returning all of it in Result; state.RelationshipState is not modified.
func (e *Engine) Run(ctx context.Context, state *domain.TurnState) Result {
	a, err := e.analyze(ctx, state)
	if err != nil {
		e.logger.Warn("relationship analyzer call failed, assuming neutral deltas", zap.Error(err))
		state.RecordError(domain.ErrStageFallback, "Evolve", err.Error())
		a = neutralAnalysis()
	}

	convLen := len(state.ChatBuffer)
	greetingGate := isLowInfoGreeting(state.UserInput) && convLen <= 2

	delta := e.update(state.RelationshipState, a.Deltas, greetingGate)
	newRel := state.RelationshipState.ApplyDelta(delta)

	basic := mergeBasicInfo(state.UserBasicInfo, a.BasicInfoUpdates)
	inferred := mergeInferredProfile(state.UserInferredProfile, a.NewInferredEntries)

	attempted := state.ReplyPlan.AttemptedTaskIDs
	if len(attempted) == 0 && MarkAttemptedOnFallback {
		attempted = append([]string(nil), state.TasksForLATS...)
	}

	return Result{
		RelationshipState:   newRel,
		UserBasicInfo:       basic,
		UserInferredProfile: inferred,
		AttemptedTaskIDs:    attempted,
		CompletedTaskIDs:    state.ReplyPlan.CompletedTaskIDs,
	}
}

func (e *Engine) analyze(ctx context.Context, state *domain.TurnState) (analysis, error) {
	prompt := analyzerPrompt(state)
	out, err := e.invoker.Invoke(ctx, llm.RoleFast, prompt, analyzerSchema)
	if err != nil {
		return analysis{}, err
	}
	best, err := llm.ParseBestEffort(out)
	if err != nil {
		return analysis{}, err
	}
	var a analysis
	if err := json.Unmarshal(best, &a); err != nil {
		return analysis{}, fmt.Errorf("decode relationship analysis: %w", err)
	}
	return a, nil
}

// update damps the analyzer's raw deltas against the current score per
// dimension, applying the greeting gate's damping before ApplyDelta's
// DeltaMax clamp gets the final say.
func (e *Engine) update(rel domain.RelationshipState, raw rawDeltas, greetingGate bool) domain.RelationshipDelta {
	return domain.RelationshipDelta{
		Closeness: dampedDim(rel.Closeness, raw.Closeness, "closeness", greetingGate),
		Trust:     dampedDim(rel.Trust, raw.Trust, "trust", greetingGate),
		Liking:    dampedDim(rel.Liking, raw.Liking, "liking", greetingGate),
		Respect:   dampedDim(rel.Respect, raw.Respect, "respect", greetingGate),
		Warmth:    dampedDim(rel.Warmth, raw.Warmth, "warmth", greetingGate),
		Power:     dampedDim(rel.Power, raw.Power, "power", greetingGate),
	}
}

// dampedDim resolves a single dimension's analyzer output into the damped
// delta ApplyDelta will receive, applying the low-info-greeting gate before
// the diminishing-returns/betrayal-penalty curve.
func dampedDim(current, rawValue float64, name string, greetingGate bool) float64 {
	delta := normalizeDelta(rawValue)

	if greetingGate {
		switch name {
		case "liking", "warmth", "respect":
			if delta > 0 {
				delta *= 0.35
			}
		case "closeness", "trust":
			if delta == 0 {
				delta = 0.02
			}
		}
	}

	if delta == 0 {
		return 0
	}

	change := calculateDampedDelta(current, delta)
	if greetingGate && (name == "liking" || name == "warmth" || name == "respect") && change > 0.06 {
		change = 0.06
	}
	return change
}

// mergeBasicInfo fills in missing declared-by-user facts only; it never
// overwrites an existing value (spec §4.5, UserBasicInfo invariant).
func mergeBasicInfo(existing domain.UserBasicInfo, updates map[string]string) domain.UserBasicInfo {
	out := domain.UserBasicInfo{}
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range updates {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if cur, ok := out[k]; ok && strings.TrimSpace(cur) != "" {
			continue
		}
		out[k] = v
	}
	return out
}

// mergeInferredProfile is append-only: new keys are added, existing keys are
// refreshed, nothing is ever deleted here.
func mergeInferredProfile(existing domain.UserInferredProfile, updates map[string]string) domain.UserInferredProfile {
	out := domain.UserInferredProfile{}
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range updates {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func analyzerPrompt(state *domain.TurnState) llm.Prompt {
	var sb strings.Builder
	sb.WriteString("current_stage=")
	sb.WriteString(state.CurrentStage.String())
	sb.WriteString("\nconversation_summary: ")
	sb.WriteString(state.ConversationSummary)
	sb.WriteString("\nuser_input: ")
	sb.WriteString(state.UserInput)
	sb.WriteString("\nfinal_response: ")
	sb.WriteString(state.FinalResponse)
	return llm.Prompt{
		System: "Analyze this exchange for relationship-dimension signals (closeness, trust, liking, respect, warmth, power), each as an integer -3..+3, plus any new user profile facts you noticed. Do not change the score yourself, only report deltas.",
		User:   sb.String(),
	}
}
