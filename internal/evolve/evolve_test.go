package evolve

import (
	"context"
	"encoding/json"
	"testing"

	"turncore/internal/domain"
	"turncore/internal/llm"
)

type fakeInvoker struct {
	out json.RawMessage
	err error
}

func (f *fakeInvoker) Invoke(ctx context.Context, role llm.Role, prompt llm.Prompt, schema json.RawMessage) (json.RawMessage, error) {
	return f.out, f.err
}

func TestRunAppliesDampedDeltaWithinRelationshipDeltaMax(t *testing.T) {
	invoker := &fakeInvoker{out: json.RawMessage(`{"deltas":{"closeness":3,"trust":2,"liking":1,"respect":0,"warmth":1,"power":0}}`)}
	engine := NewEngine(invoker, nil)

	state := &domain.TurnState{
		UserInput:         "今天加班到很晚，有点累",
		RelationshipState: domain.RelationshipState{Closeness: 0.3, Trust: 0.3, Liking: 0.3, Respect: 0.3, Warmth: 0.3, Power: 0.5},
		ChatBuffer:        make([]domain.ChatMessage, 10),
	}

	res := engine.Run(context.Background(), state)
	if res.RelationshipState.Closeness <= 0.3 {
		t.Fatalf("expected closeness to rise, got %v", res.RelationshipState.Closeness)
	}
	if res.RelationshipState.Closeness > 0.3+domain.DeltaMax {
		t.Fatalf("expected closeness delta capped at DeltaMax, got %v", res.RelationshipState.Closeness)
	}
}

func TestRunFallsBackToNeutralOnAnalyzerFailure(t *testing.T) {
	invoker := &fakeInvoker{err: llm.ErrTimeout}
	engine := NewEngine(invoker, nil)

	state := &domain.TurnState{
		RelationshipState: domain.RelationshipState{Closeness: 0.5, Trust: 0.5, Liking: 0.5, Respect: 0.5, Warmth: 0.5, Power: 0.5},
		TasksForLATS:      []string{"task-1"},
	}

	res := engine.Run(context.Background(), state)
	if res.RelationshipState != state.RelationshipState {
		t.Fatalf("expected neutral deltas to leave relationship state unchanged, got %+v", res.RelationshipState)
	}
	if len(state.Errors) == 0 || state.Errors[0].Kind != domain.ErrStageFallback {
		t.Fatalf("expected StageFallback to be recorded")
	}
	if len(res.AttemptedTaskIDs) != 1 || res.AttemptedTaskIDs[0] != "task-1" {
		t.Fatalf("expected MarkAttemptedOnFallback to carry tasks_for_lats through, got %+v", res.AttemptedTaskIDs)
	}
}

func TestRunMergesProfileWithoutOverwritingExisting(t *testing.T) {
	invoker := &fakeInvoker{out: json.RawMessage(`{"deltas":{"closeness":0,"trust":0,"liking":0,"respect":0,"warmth":0,"power":0},"basic_info_updates":{"name":"新名字","occupation":"工程师"}}`)}
	engine := NewEngine(invoker, nil)

	state := &domain.TurnState{
		UserBasicInfo:      domain.UserBasicInfo{"name": "小李"},
		RelationshipState:  domain.RelationshipState{},
	}

	res := engine.Run(context.Background(), state)
	if res.UserBasicInfo["name"] != "小李" {
		t.Fatalf("expected existing name preserved, got %q", res.UserBasicInfo["name"])
	}
	if res.UserBasicInfo["occupation"] != "工程师" {
		t.Fatalf("expected new occupation filled in, got %q", res.UserBasicInfo["occupation"])
	}
}
