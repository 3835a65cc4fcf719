package search

import (
	"context"
	"encoding/json"
	"testing"

	"turncore/internal/domain"
	"turncore/internal/llm"
)

// scriptedInvoker returns one fixed response per role, looping over a list
// so a single test can script multiple sequential calls of the same role.
type scriptedInvoker struct {
	byRole map[llm.Role][]json.RawMessage
	calls  map[llm.Role]int
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{byRole: map[llm.Role][]json.RawMessage{}, calls: map[llm.Role]int{}}
}

func (s *scriptedInvoker) on(role llm.Role, responses ...json.RawMessage) *scriptedInvoker {
	s.byRole[role] = responses
	return s
}

func (s *scriptedInvoker) Invoke(ctx context.Context, role llm.Role, prompt llm.Prompt, schema json.RawMessage) (json.RawMessage, error) {
	seq := s.byRole[role]
	i := s.calls[role]
	s.calls[role]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	if i < 0 {
		i = 0
	}
	return seq[i], nil
}

func TestRunHappyPathReturnsRootPlanOnStrongScore(t *testing.T) {
	root := json.RawMessage(`{"messages":[{"content":"你好呀～","action":"idle"}]}`)
	gate := json.RawMessage(`{"verdicts":[{"assistantiness_ok":true,"identity_ok":true,"immersion_ok":true}]}`)
	score := json.RawMessage(`{"assistantiness":0.1,"immersion_break":0.05,"persona_consistency":0.8,"relationship_fit":0.8,"mode_behavior_fit":0.8,"overall_score":0.9}`)

	invoker := newScriptedInvoker().on(llm.RoleMain, root).on(llm.RoleJudge, score, gate)

	cfg := DefaultConfig()
	engine := NewEngine(invoker, cfg, nil)

	state := &domain.TurnState{UserInput: "你好", CurrentStage: domain.StageInitiating}
	req := domain.Requirements{MaxMessages: 3, MinFirstLen: 2, WordBudget: 30, TaskBudgetMax: 2}

	plan, err := engine.Run(context.Background(), state, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Messages) != 1 || plan.Messages[0].Content != "你好呀～" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestRunFallsBackToDegeneratePlanOnUnparseableRoot(t *testing.T) {
	invoker := newScriptedInvoker().
		on(llm.RoleMain, json.RawMessage(`"抱歉，我走神了"`)).
		on(llm.RoleJudge, json.RawMessage(`{"assistantiness":0,"immersion_break":0,"overall_score":0}`))

	engine := NewEngine(invoker, DefaultConfig(), nil)
	state := &domain.TurnState{UserInput: "在吗", CurrentStage: domain.StageInitiating}
	req := domain.Requirements{MaxMessages: 3, MinFirstLen: 2, WordBudget: 30}

	plan, err := engine.Run(context.Background(), state, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Messages) != 1 {
		t.Fatalf("expected single-message degenerate plan, got %+v", plan)
	}
	if len(state.Errors) == 0 || state.Errors[0].Kind != domain.ErrSearchDegenerate {
		t.Fatalf("expected SearchDegenerate to be recorded")
	}
}

func TestSoftScoreClampRule(t *testing.T) {
	s := SoftScore{Assistantiness: 0.7, OverallScore: 0.9}.ClampOverallScore()
	if s.OverallScore >= 0.3 {
		t.Fatalf("expected overall_score clamped below 0.3, got %v", s.OverallScore)
	}
}

// TestRunInInitiatingPerformsAtLeastOneRolloutBeforeReturning is spec §8
// scenario 4: initiating's min_rollouts_before_early_exit is 1, so even a
// fully-populated root score of 0.90 must not short-circuit the loop
// before at least one rollout's worth of expansion/gate/score calls runs.
func TestRunInInitiatingPerformsAtLeastOneRolloutBeforeReturning(t *testing.T) {
	root := json.RawMessage(`{"messages":[{"content":"你好呀～","action":"idle"}]}`)
	variant := json.RawMessage(`{"messages":[{"content":"你好呀，今天怎么样？","action":"idle"}]}`)
	gate := json.RawMessage(`{"verdicts":[{"assistantiness_ok":true,"identity_ok":true,"immersion_ok":true}]}`)
	score := json.RawMessage(`{"assistantiness":0.1,"immersion_break":0.05,"persona_consistency":0.9,"relationship_fit":0.9,"mode_behavior_fit":0.9,"overall_score":0.9}`)

	invoker := newScriptedInvoker().on(llm.RoleMain, root, variant).on(llm.RoleJudge, score, gate, score)

	cfg := DefaultConfig()
	engine := NewEngine(invoker, cfg, nil)

	state := &domain.TurnState{UserInput: "你好", CurrentStage: domain.StageInitiating}
	req := domain.Requirements{MaxMessages: 3, MinFirstLen: 2, WordBudget: 30, TaskBudgetMax: 2}

	_, err := engine.Run(context.Background(), state, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoker.calls[llm.RoleMain] < 2 {
		t.Fatalf("expected root generation plus at least one rollout's expansion, got %d RoleMain calls", invoker.calls[llm.RoleMain])
	}
	if invoker.calls[llm.RoleJudge] < 2 {
		t.Fatalf("expected the root's soft score plus at least one more judge call, got %d RoleJudge calls", invoker.calls[llm.RoleJudge])
	}
}
