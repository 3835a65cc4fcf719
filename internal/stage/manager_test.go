package stage

import (
	"testing"

	"turncore/internal/domain"
)

func TestEvaluateStaysWhenVectorMatchesCurrentProfile(t *testing.T) {
	m := NewManager(DefaultTable())
	rel := domain.RelationshipState{Closeness: 0.1, Trust: 0.1, Liking: 0.1, Respect: 0.1, Warmth: 0.1, Power: 0.5}
	tr := m.Evaluate(domain.StageInitiating, rel, domain.StageInitiating)
	if tr.Kind != domain.TransitionStay || tr.Target != domain.StageInitiating {
		t.Fatalf("expected STAY at initiating, got %+v", tr)
	}
}

func TestEvaluateGrowsOneStepForward(t *testing.T) {
	m := NewManager(DefaultTable())
	rel := domain.RelationshipState{Closeness: 0.3, Trust: 0.3, Liking: 0.4, Respect: 0.4, Warmth: 0.4, Power: 0.5}
	tr := m.Evaluate(domain.StageInitiating, rel, domain.StageExperimenting)
	if tr.Kind != domain.TransitionGrowth || tr.Target != domain.StageExperimenting {
		t.Fatalf("expected GROWTH to experimenting, got %+v", tr)
	}
}

func TestEvaluateJumpRequiresImpliedStageMatch(t *testing.T) {
	m := NewManager(DefaultTable())
	rel := domain.RelationshipState{Closeness: 0.8, Trust: 0.8, Liking: 0.85, Respect: 0.85, Warmth: 0.85, Power: 0.5}

	// Evidence points all the way to Bonding, but Detection's implied_stage
	// disagrees: the jump must be downgraded to a single-step GROWTH (P3).
	tr := m.Evaluate(domain.StageInitiating, rel, domain.StageExperimenting)
	if tr.Kind != domain.TransitionGrowth || tr.Target != domain.StageExperimenting {
		t.Fatalf("expected downgraded GROWTH without implied-stage agreement, got %+v", tr)
	}

	trJump := m.Evaluate(domain.StageInitiating, rel, domain.StageBonding)
	if trJump.Kind != domain.TransitionJump || trJump.Target != domain.StageBonding {
		t.Fatalf("expected JUMP to bonding when implied_stage agrees, got %+v", trJump)
	}
}

func TestEvaluateDecaysOneStepBackwardEvenOnBigDrop(t *testing.T) {
	m := NewManager(DefaultTable())
	rel := domain.RelationshipState{Closeness: 0.1, Trust: 0.1, Liking: 0.1, Respect: 0.1, Warmth: 0.1, Power: 0.5}
	tr := m.Evaluate(domain.StageBonding, rel, domain.StageInitiating)
	if tr.Kind != domain.TransitionDecay || tr.Target != domain.StageIntegrating {
		t.Fatalf("expected DECAY back one step from bonding, got %+v", tr)
	}
}
