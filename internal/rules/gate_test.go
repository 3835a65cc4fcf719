package rules

import (
	"testing"

	"turncore/internal/domain"
)

func baseReq() domain.Requirements {
	return domain.Requirements{MaxMessages: 3, MinFirstLen: 2, WordBudget: 30, TaskBudgetMax: 2}
}

func TestHardGateRejectsEmptyPlan(t *testing.T) {
	if res := HardGate(domain.ReplyPlan{}, baseReq()); res.Passed {
		t.Fatalf("expected rejection of empty plan")
	}
}

func TestHardGateRejectsTooManyMessages(t *testing.T) {
	plan := domain.ReplyPlan{Messages: []domain.SegmentDraft{
		{Content: "a"}, {Content: "b"}, {Content: "c"}, {Content: "d"},
	}}
	if res := HardGate(plan, baseReq()); res.Passed {
		t.Fatalf("expected rejection for exceeding max_messages")
	}
}

func TestHardGateRejectsForbiddenPhrasing(t *testing.T) {
	plan := domain.ReplyPlan{Messages: []domain.SegmentDraft{{Content: "As an AI language model, I can help."}}}
	if res := HardGate(plan, baseReq()); res.Passed {
		t.Fatalf("expected rejection for forbidden phrasing")
	}
}

func TestHardGateAcceptsValidPlan(t *testing.T) {
	plan := domain.ReplyPlan{Messages: []domain.SegmentDraft{{Content: "嗯，今天还不错！"}}}
	if res := HardGate(plan, baseReq()); !res.Passed {
		t.Fatalf("expected acceptance, got reason=%s", res.Reason)
	}
}
