package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/llm"
	"turncore/internal/rules"
)

func (e *Engine) generateRootPlan(ctx context.Context, state *domain.TurnState, req domain.Requirements) (domain.ReplyPlan, error) {
	prompt := planPrompt(state, req, nil)
	out, err := e.invoker.Invoke(ctx, llm.RoleMain, prompt, planSchema)
	if err != nil {
		return domain.ReplyPlan{}, err
	}
	return decodePlan(out)
}

// expandVariants asks `main` for K variant plans of the given parent leaf.
func (e *Engine) expandVariants(ctx context.Context, state *domain.TurnState, req domain.Requirements, parent domain.ReplyPlan, k int) ([]domain.ReplyPlan, error) {
	if k <= 0 {
		k = 1
	}
	out := make([]domain.ReplyPlan, 0, k)
	for i := 0; i < k; i++ {
		prompt := planPrompt(state, req, &parent)
		raw, err := e.invoker.Invoke(ctx, llm.RoleMain, prompt, planSchema)
		if err != nil {
			continue
		}
		plan, err := decodePlan(raw)
		if err != nil {
			continue
		}
		out = append(out, plan)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no variants survived generation")
	}
	return out, nil
}

func (e *Engine) filterHardGate(plans []domain.ReplyPlan, req domain.Requirements) []domain.ReplyPlan {
	out := make([]domain.ReplyPlan, 0, len(plans))
	for _, p := range plans {
		if rules.HardGate(p, req).Passed {
			out = append(out, p)
		}
	}
	return out
}

// filterBatchGate runs the judge-role boolean check over all survivors in
// one batched call (spec §4.2 step 4, "batch LLM gate"). Gate rejection is
// monotone: a rejected candidate is never handed to the soft scorer (L4).
func (e *Engine) filterBatchGate(ctx context.Context, state *domain.TurnState, plans []domain.ReplyPlan) []domain.ReplyPlan {
	if len(plans) == 0 {
		return nil
	}
	prompt := batchGatePrompt(state, plans)
	out, err := e.invoker.Invoke(ctx, llm.RoleJudge, prompt, batchGateSchema)
	if err != nil {
		e.logger.Warn("batch LLM gate call failed, discarding batch", zap.Error(err))
		return nil
	}

	var decoded struct {
		Verdicts []BatchVerdict `json:"verdicts"`
	}
	best, perr := llm.ParseBestEffort(out)
	if perr != nil {
		return nil
	}
	if err := json.Unmarshal(best, &decoded); err != nil {
		return nil
	}

	survivors := make([]domain.ReplyPlan, 0, len(plans))
	for i, p := range plans {
		if i < len(decoded.Verdicts) && decoded.Verdicts[i].Passed() {
			survivors = append(survivors, p)
		}
	}
	return survivors
}

// scoreTopN scores up to n survivors with the soft scorer under the
// judge-call concurrency cap.
func (e *Engine) scoreTopN(ctx context.Context, state *domain.TurnState, plans []domain.ReplyPlan, n int) []scoredPlan {
	if n <= 0 {
		n = 1
	}
	if n > len(plans) {
		n = len(plans)
	}
	out := make([]scoredPlan, 0, n)
	for _, p := range plans[:n] {
		out = append(out, scoredPlan{plan: p, score: e.scoreSoft(ctx, state, p)})
	}
	return out
}

func (e *Engine) scoreSoft(ctx context.Context, state *domain.TurnState, plan domain.ReplyPlan) SoftScore {
	if err := e.judgeSem.Acquire(ctx, 1); err != nil {
		return SoftScore{}
	}
	defer e.judgeSem.Release(1)

	prompt := softScorePrompt(state, plan)
	out, err := e.invoker.Invoke(ctx, llm.RoleJudge, prompt, softScoreSchema)
	if err != nil {
		e.logger.Warn("soft scorer call failed", zap.Error(err))
		return SoftScore{}
	}
	best, perr := llm.ParseBestEffort(out)
	if perr != nil {
		return SoftScore{}
	}
	var s SoftScore
	if err := json.Unmarshal(best, &s); err != nil {
		return SoftScore{}
	}
	var probe map[string]json.RawMessage
	_ = json.Unmarshal(best, &probe)
	_, hasAssistant := probe["assistantiness"]
	_, hasImmersion := probe["immersion_break"]
	_, hasOverall := probe["overall_score"]
	s.breakdownComplete = hasAssistant && hasImmersion && hasOverall
	return s.ClampOverallScore()
}

func decodePlan(raw json.RawMessage) (domain.ReplyPlan, error) {
	best, err := llm.ParseBestEffort(raw)
	if err != nil {
		return domain.ReplyPlan{}, err
	}
	var plan domain.ReplyPlan
	if err := json.Unmarshal(best, &plan); err != nil {
		return domain.ReplyPlan{}, err
	}
	if len(plan.Messages) == 0 {
		return domain.ReplyPlan{}, fmt.Errorf("plan has no messages")
	}
	return plan, nil
}

func planPrompt(state *domain.TurnState, req domain.Requirements, parent *domain.ReplyPlan) llm.Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("word_budget=%d task_budget_max=%d max_messages=%d min_first_len=%d\n",
		req.WordBudget, req.TaskBudgetMax, req.MaxMessages, req.MinFirstLen))
	sb.WriteString("user_input: ")
	sb.WriteString(state.UserInput)
	if parent != nil {
		sb.WriteString("\nproduce a distinct variant of this plan: ")
		if b, err := json.Marshal(parent); err == nil {
			sb.Write(b)
		}
	}
	return llm.Prompt{
		System: "You are drafting a candidate reply plan as structured JSON matching the provided schema.",
		User:   sb.String(),
	}
}

func batchGatePrompt(state *domain.TurnState, plans []domain.ReplyPlan) llm.Prompt {
	b, _ := json.Marshal(plans)
	return llm.Prompt{
		System: "For each candidate plan, return assistantiness_ok/identity_ok/immersion_ok booleans in the same order.",
		User:   string(b),
	}
}

func softScorePrompt(state *domain.TurnState, plan domain.ReplyPlan) llm.Prompt {
	b, _ := json.Marshal(plan)
	return llm.Prompt{
		System: "Score this candidate reply plan against the character's persona and current relationship stage.",
		User:   string(b),
	}
}
