package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"turncore/internal/domain"
	"turncore/internal/evolve"
	"turncore/internal/llm"
	"turncore/internal/stage"
)

// fakeInvoker lets each test script a canned JSON reply (or failure) per
// role without a real backend, mirroring the teacher's own pattern of
// faking the provider boundary in orchestrator tests. The mutex matters
// here: the search engine's prefetch goroutine calls Invoke concurrently
// with the main rollout path.
type fakeInvoker struct {
	replies map[llm.Role]json.RawMessage
	errs    map[llm.Role]error

	mu    sync.Mutex
	calls []llm.Role
}

func (f *fakeInvoker) Invoke(_ context.Context, role llm.Role, _ llm.Prompt, _ json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, role)
	f.mu.Unlock()
	if err, ok := f.errs[role]; ok {
		return nil, err
	}
	if out, ok := f.replies[role]; ok {
		return out, nil
	}
	return json.RawMessage(`{}`), nil
}

func TestSecurityBranchRoutesOnNeedsResponse(t *testing.T) {
	flagged := &domain.TurnState{SecurityFlags: domain.SecurityFlags{NeedsSecurityResponse: true}}
	clean := &domain.TurnState{}

	got, err := securityBranch(context.Background(), flagged)
	if err != nil || got != string(StageSecurityReply) {
		t.Fatalf("expected SecurityReply route, got %q err=%v", got, err)
	}

	got, err = securityBranch(context.Background(), clean)
	if err != nil || got != string(StageDetection) {
		t.Fatalf("expected Detection route, got %q err=%v", got, err)
	}
}

func TestSecurityReplyStageUsesDraftedResponseOrFallback(t *testing.T) {
	stageFn := buildSecurityReplyStage(&Deps{})

	withDraft := &domain.TurnState{SecurityResponse: "stay with me"}
	out, err := stageFn(context.Background(), withDraft)
	if err != nil || out.FinalResponse != "stay with me" {
		t.Fatalf("expected drafted response carried through, got %q err=%v", out.FinalResponse, err)
	}

	blank := &domain.TurnState{}
	out, err = stageFn(context.Background(), blank)
	if err != nil || out.FinalResponse == "" {
		t.Fatalf("expected a non-empty fallback response, err=%v", err)
	}
	if len(out.FinalSegments) != 1 || out.FinalSegments[0].Action != domain.ActionIdle {
		t.Fatalf("expected one idle final segment, got %+v", out.FinalSegments)
	}
}

func TestDetectionStageFallsBackOnInvokerTimeout(t *testing.T) {
	fi := &fakeInvoker{errs: map[llm.Role]error{llm.RoleMain: llm.ErrTimeout}}
	deps := &Deps{Invoker: fi}
	state := &domain.TurnState{UserInput: "hello", CurrentStage: domain.StageExperimenting}

	out, err := buildDetectionStage(deps)(context.Background(), state)
	if err != nil {
		t.Fatalf("detection stage fallback must not propagate: %v", err)
	}
	if out.Detection.ImpliedStage != domain.StageExperimenting {
		t.Fatalf("expected implied_stage fallback to current stage, got %v", out.Detection.ImpliedStage)
	}
	if len(out.Errors) != 1 || out.Errors[0].Kind != domain.ErrStageFallback {
		t.Fatalf("expected one recorded stage_fallback error, got %+v", out.Errors)
	}
}

func TestDetectionStageAdvancesMoodOnSuccess(t *testing.T) {
	verdict := `{"brief":"wants to talk","implied_stage":"experimenting","user_emotion":"joy","user_emotion_confidence":0.8}`
	fi := &fakeInvoker{replies: map[llm.Role]json.RawMessage{llm.RoleMain: json.RawMessage(verdict)}}
	deps := &Deps{Invoker: fi, Mood: nil}
	state := &domain.TurnState{UserInput: "good news!", CurrentStage: domain.StageInitiating}

	out, err := buildDetectionStage(deps)(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Detection.Brief != "wants to talk" {
		t.Fatalf("expected detection brief carried through, got %q", out.Detection.Brief)
	}
	// Deps.Mood is nil here; applyMoodUpdate must be a no-op, not a panic.
}

func TestTaskPlanStageClampsBudgetsOnSuccess(t *testing.T) {
	verdict := `{"word_budget":999,"task_budget_max":9}`
	fi := &fakeInvoker{replies: map[llm.Role]json.RawMessage{llm.RoleFast: json.RawMessage(verdict)}}
	deps := &Deps{Invoker: fi}
	state := &domain.TurnState{}

	out, err := buildTaskPlanStage(deps)(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.WordBudget != 60 || out.TaskBudgetMax != 2 {
		t.Fatalf("expected clamp to (60, 2), got (%d, %d)", out.WordBudget, out.TaskBudgetMax)
	}
}

func TestTaskPlanStageFallbackDerivesBudgetFromImmediateTasks(t *testing.T) {
	fi := &fakeInvoker{errs: map[llm.Role]error{llm.RoleFast: errors.New("timeout")}}
	deps := &Deps{Invoker: fi}
	state := &domain.TurnState{Detection: domain.DetectionResult{ImmediateTask: []string{"a", "b", "c"}}}

	out, err := buildTaskPlanStage(deps)(context.Background(), state)
	if err != nil {
		t.Fatalf("task plan fallback must not propagate: %v", err)
	}
	if out.WordBudget != 40 {
		t.Fatalf("expected fallback word budget 40, got %d", out.WordBudget)
	}
	if out.TaskBudgetMax != 2 {
		t.Fatalf("expected task budget clamped to 2, got %d", out.TaskBudgetMax)
	}
}

func TestFinalValidateStageConcatenatesSegments(t *testing.T) {
	deps := &Deps{MaxMessages: 4, MinFirstLen: 1}
	state := &domain.TurnState{
		FinalSegments: []domain.SegmentDraft{
			{Content: "hi", Action: domain.ActionIdle},
			{Content: " there", Action: domain.ActionIdle},
		},
	}
	out, err := buildFinalValidateStage(deps)(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.FinalResponse != "hi there" {
		t.Fatalf("expected concatenated response, got %q", out.FinalResponse)
	}
}

func TestEvolveStageAppliesEngineResult(t *testing.T) {
	fi := &fakeInvoker{replies: map[llm.Role]json.RawMessage{
		llm.RoleFast: json.RawMessage(`{"thought_process":"ok","deltas":{"closeness":1}}`),
	}}
	deps := &Deps{Evolver: evolve.NewEngine(fi, nil)}
	state := &domain.TurnState{RelationshipState: domain.RelationshipState{Closeness: 0.1}}

	out, err := buildEvolveStage(deps)(context.Background(), state)
	if err != nil {
		t.Fatalf("evolve stage must never fail the turn: %v", err)
	}
	if out.RelationshipState.Closeness <= 0.1 {
		t.Fatalf("expected closeness to move up from the positive delta, got %v", out.RelationshipState.Closeness)
	}
}

func TestStageManageStageIsNilSafe(t *testing.T) {
	deps := &Deps{}
	state := &domain.TurnState{CurrentStage: domain.StageInitiating}
	out, err := buildStageManageStage(deps)(context.Background(), state)
	if err != nil || out.CurrentStage != domain.StageInitiating {
		t.Fatalf("expected untouched stage with nil manager, got %v err=%v", out.CurrentStage, err)
	}
}

func TestStageManageStageAppliesTransition(t *testing.T) {
	deps := &Deps{StageManager: stage.NewManager(stage.DefaultTable())}
	state := &domain.TurnState{
		CurrentStage:      domain.StageInitiating,
		RelationshipState: domain.RelationshipState{Closeness: 0.95, Trust: 0.95, Liking: 0.95, Respect: 0.95, Warmth: 0.95, Power: 0.95},
	}
	out, err := buildStageManageStage(deps)(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.CurrentStage == domain.StageInitiating {
		t.Fatalf("expected a forward transition off the floor stage given high relationship scores")
	}
}

func TestWithCancelCheckReturnsErrCanceledAndNotifiesObserver(t *testing.T) {
	var seen []StageName
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ctx = WithStageObserver(ctx, func(name StageName) { seen = append(seen, name) })

	fn := withCancelCheck(StageSearch, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		t.Fatal("stage body must not run once canceled")
		return state, nil
	})
	_, err := fn(ctx, &domain.TurnState{})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if len(seen) != 1 || seen[0] != StageSearch {
		t.Fatalf("expected the observer notified once with StageSearch, got %v", seen)
	}
}

func TestWithFallbackAbsorbsNonCancelErrorsOnly(t *testing.T) {
	applied := false
	failing := withFallback(StageMonologue, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		return state, errors.New("invoker blew up")
	}, func(state *domain.TurnState, err error) { applied = true })

	out, err := failing(context.Background(), &domain.TurnState{})
	if err != nil {
		t.Fatalf("expected the error absorbed, got %v", err)
	}
	if !applied {
		t.Fatalf("expected the documented default to be applied")
	}
	if len(out.Errors) != 1 || out.Errors[0].Kind != domain.ErrStageFallback {
		t.Fatalf("expected one recorded stage_fallback error, got %+v", out.Errors)
	}

	canceling := withFallback(StageMonologue, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		return state, ErrCanceled
	}, func(state *domain.TurnState, err error) { t.Fatal("default must not apply on cancellation") })
	_, err = canceling(context.Background(), &domain.TurnState{})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled to propagate untouched, got %v", err)
	}

	// An Invoker (internal/llm.RetryingInvoker) that observed a canceled
	// turn wraps context.Canceled rather than returning graph.ErrCanceled
	// directly; withFallback must still treat it as a cancellation, not a
	// stage failure worth a fallback.
	invokerCanceled := withFallback(StageMonologue, func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		return state, fmt.Errorf("%w: boom", context.Canceled)
	}, func(state *domain.TurnState, err error) { t.Fatal("default must not apply on invoker-reported cancellation") })
	_, err = invokerCanceled(context.Background(), &domain.TurnState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled to propagate untouched, got %v", err)
	}
}

func TestStageOrdinalMatchesSpecTable(t *testing.T) {
	cases := map[StageName]int{
		StageLoad:    1,
		StageSecurity: 2,
		StageProcess: 9,
		StageFinalValidate: 10,
		StagePersist: 13,
	}
	for name, want := range cases {
		if got := StageOrdinal(name); got != want {
			t.Fatalf("StageOrdinal(%s) = %d, want %d", name, got, want)
		}
	}
}
