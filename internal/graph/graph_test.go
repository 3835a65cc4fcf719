package graph

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/evolve"
	"turncore/internal/llm"
	"turncore/internal/search"
	"turncore/internal/store"
)

// fakeTurnStore is the in-memory double turnStore exists to make possible:
// no real Postgres pool needed to drive a full turn through the compiled
// graph.
type fakeTurnStore struct {
	loadState *domain.TurnState
	turnIndex int64
	persisted []*domain.TurnState
}

func (f *fakeTurnStore) Load(_ context.Context, botID, externalID string) (*store.LoadResult, error) {
	cp := *f.loadState
	cp.BotID = botID
	cp.ExternalID = externalID
	return &store.LoadResult{State: &cp, TurnIndex: f.turnIndex}, nil
}

func (f *fakeTurnStore) Persist(_ context.Context, state *domain.TurnState, _ store.PersistInput, _ store.IsSuperseded) error {
	f.persisted = append(f.persisted, state)
	return nil
}

// TestBuildCompilesAndRunsOneFullTurnEndToEnd drives an actual compiled
// compose.Graph runnable (not an individual stage function) through every
// stage except SecurityReply, the spec §8 scenario-1 happy path: one root plan, one
// clean soft score, no security flag, no macro delay.
func TestBuildCompilesAndRunsOneFullTurnEndToEnd(t *testing.T) {
	mainReply := json.RawMessage(`{
		"brief": "wants to chat",
		"implied_stage": "intensifying",
		"user_emotion": "joy",
		"user_emotion_confidence": 0.7,
		"inner_monologue": "feels closer today",
		"selected_profile_keys": ["warmth"],
		"messages": [
			{"content": "嗯，今天过得还好吗？", "delay_seconds": 0},
			{"content": "我在这里陪着你。", "delay_seconds": 2}
		]
	}`)
	fastReply := json.RawMessage(`{
		"needs_security_response": false,
		"word_budget": 40,
		"task_budget_max": 1,
		"deltas": {"closeness": 1, "trust": 0, "liking": 1, "respect": 0, "warmth": 1, "power": 0}
	}`)
	judgeReply := json.RawMessage(`{
		"assistantiness": 0.1,
		"immersion_break": 0.05,
		"persona_consistency": 0.9,
		"relationship_fit": 0.9,
		"mode_behavior_fit": 0.9,
		"overall_score": 0.9
	}`)
	fi := &fakeInvoker{replies: map[llm.Role]json.RawMessage{
		llm.RoleMain:  mainReply,
		llm.RoleFast:  fastReply,
		llm.RoleJudge: judgeReply,
	}}

	fts := &fakeTurnStore{loadState: &domain.TurnState{CurrentStage: domain.StageIntensifying}}

	deps := &Deps{
		Invoker:      fi,
		SearchEngine: search.NewEngine(fi, search.DefaultConfig(), zap.NewNop()),
		Evolver:      evolve.NewEngine(fi, zap.NewNop()),
		Store:        fts,
		MaxMessages:  4,
		MinFirstLen:  1,
		Logger:       zap.NewNop(),
	}

	ctx := context.Background()
	g, err := Build(ctx, deps)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	initial := &domain.TurnState{
		TurnID:     "turn-1",
		BotID:      "bot-1",
		ExternalID: "user-1",
		UserInput:  "嗯",
	}
	final, err := g.Run(ctx, initial)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final.FinalResponse == "" {
		t.Fatalf("expected a non-empty final response")
	}
	if len(final.FinalSegments) == 0 {
		t.Fatalf("expected at least one final segment")
	}
	if final.FinalSegments[0].DelaySeconds != 0 {
		t.Fatalf("P6: expected final_segments[0].delay_seconds == 0, got %v", final.FinalSegments[0].DelaySeconds)
	}
	if final.IsMacroDelay {
		t.Fatalf("did not expect a macro delay for this canned run")
	}
	if len(fts.persisted) != 1 {
		t.Fatalf("expected exactly one Persist call, got %d", len(fts.persisted))
	}
	if final.RelationshipState.Closeness <= 0 {
		t.Fatalf("expected evolve's positive closeness delta to register, got %v", final.RelationshipState.Closeness)
	}
	if final.Detection.Brief == "" {
		t.Fatalf("P8: Detection should have run on a non-flagged turn")
	}
}

// TestBuildSecurityBranchSkipsDownstreamStages covers P8 against the
// compiled graph: once Security flags the turn, SecurityReply short-
// circuits straight to Evolve, so Detection/Monologue/TaskPlan/Search never
// run and leave their outputs at zero value.
func TestBuildSecurityBranchSkipsDownstreamStages(t *testing.T) {
	securityFlaggedReply := json.RawMessage(`{
		"needs_security_response": true,
		"reasons": ["self_harm_disclosure"],
		"response": "我在这里陪着你，先别急。"
	}`)
	evolverReply := json.RawMessage(`{"deltas": {"closeness": 0, "trust": 0, "liking": 0, "respect": 0, "warmth": 0, "power": 0}}`)

	fi := &fakeInvoker{replies: map[llm.Role]json.RawMessage{
		llm.RoleFast: securityFlaggedReply,
	}}
	// Security and Evolve both call RoleFast; the evolver needs its own
	// reply once Security's reply is consumed, so script Evolve via a
	// second invoker scoped to the engine instead of overloading one role
	// reply for two different schemas.
	evolverInvoker := &fakeInvoker{replies: map[llm.Role]json.RawMessage{llm.RoleFast: evolverReply}}

	fts := &fakeTurnStore{loadState: &domain.TurnState{CurrentStage: domain.StageInitiating}}
	deps := &Deps{
		Invoker:      fi,
		SearchEngine: search.NewEngine(fi, search.DefaultConfig(), zap.NewNop()),
		Evolver:      evolve.NewEngine(evolverInvoker, zap.NewNop()),
		Store:        fts,
		MaxMessages:  4,
		MinFirstLen:  1,
		Logger:       zap.NewNop(),
	}

	ctx := context.Background()
	g, err := Build(ctx, deps)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	initial := &domain.TurnState{TurnID: "turn-1", BotID: "bot-1", ExternalID: "user-1", UserInput: "我想伤害自己"}
	final, err := g.Run(ctx, initial)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final.FinalResponse != "我在这里陪着你，先别急。" {
		t.Fatalf("expected the drafted security response carried through, got %q", final.FinalResponse)
	}
	if final.Detection.Brief != "" || final.InnerMonologue != "" || final.WordBudget != 0 || len(final.ReplyPlan.Messages) != 0 {
		t.Fatalf("P8: expected Detection/Monologue/TaskPlan/Search to be skipped, got Detection=%+v Monologue=%q WordBudget=%d ReplyPlan=%+v",
			final.Detection, final.InnerMonologue, final.WordBudget, final.ReplyPlan)
	}
	if len(fts.persisted) != 1 {
		t.Fatalf("expected exactly one Persist call, got %d", len(fts.persisted))
	}
}
