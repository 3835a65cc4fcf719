package search

import "turncore/internal/domain"

// BatchVerdict is one candidate's batch-LLM-gate result (spec §4.2 step 4).
type BatchVerdict struct {
	AssistantinessOK bool `json:"assistantiness_ok"`
	IdentityOK       bool `json:"identity_ok"`
	ImmersionOK      bool `json:"immersion_ok"`
}

func (v BatchVerdict) Passed() bool {
	return v.AssistantinessOK && v.IdentityOK && v.ImmersionOK
}

// SoftScore is the judge role's structured breakdown (spec §4.2 step 4).
type SoftScore struct {
	Assistantiness     float64 `json:"assistantiness"`
	ImmersionBreak     float64 `json:"immersion_break"`
	PersonaConsistency float64 `json:"persona_consistency"`
	RelationshipFit    float64 `json:"relationship_fit"`
	ModeBehaviorFit    float64 `json:"mode_behavior_fit"`
	OverallScore       float64 `json:"overall_score"`

	breakdownComplete bool
}

// ClampOverallScore enforces the hard rule of spec §4.2/L5: whenever
// assistantiness > 0.5 or immersion_break > 0.2, overall_score must read
// < 0.3 for every downstream consumer (tree propagation, early exit).
func (s SoftScore) ClampOverallScore() SoftScore {
	if s.Assistantiness > 0.5 || s.ImmersionBreak > 0.2 {
		if s.OverallScore >= 0.3 {
			s.OverallScore = 0.29
		}
	}
	return s
}

// StageDefault is one row of the stage-class R/K defaults table (spec §4.2).
type StageDefault struct {
	Rollouts                   int
	ExpandK                    int
	MinRolloutsBeforeEarlyExit int
}

func DefaultStageTable() map[domain.StageClass]StageDefault {
	return map[domain.StageClass]StageDefault{
		domain.StageClassEarly: {Rollouts: 4, ExpandK: 2, MinRolloutsBeforeEarlyExit: 1},
		domain.StageClassMid:   {Rollouts: 2, ExpandK: 1, MinRolloutsBeforeEarlyExit: 0},
		domain.StageClassLate:  {Rollouts: 3, ExpandK: 1, MinRolloutsBeforeEarlyExit: 0},
	}
}

// EarlyExitConfig is the strict early-exit gate of spec §4.2.
type EarlyExitConfig struct {
	RootScoreMin        float64
	PlanAlignmentMin    float64
	AssistantinessMax   float64
	ModeFitMin          float64
}

func DefaultEarlyExit() EarlyExitConfig {
	return EarlyExitConfig{
		RootScoreMin:      0.82,
		PlanAlignmentMin:  0.6,
		AssistantinessMax: 0.3,
		ModeFitMin:        0.6,
	}
}

// satisfiedBy requires every breakdown field to be present; a missing field
// counts as failure, preventing spurious early-exit from malformed output.
func (c EarlyExitConfig) satisfiedBy(s SoftScore) bool {
	if !s.breakdownComplete {
		return false
	}
	return s.OverallScore >= c.RootScoreMin &&
		s.RelationshipFit >= c.PlanAlignmentMin &&
		s.Assistantiness <= c.AssistantinessMax &&
		s.ModeBehaviorFit >= c.ModeFitMin
}

// Config bundles the whole engine's tunables, loaded from config/lats.yaml.
type Config struct {
	StageTable          map[domain.StageClass]StageDefault
	EarlyExit           EarlyExitConfig
	SoftTopN            int
	SoftMaxConcurrency  int
	FinalScoreThreshold float64
}

func DefaultConfig() Config {
	return Config{
		StageTable:          DefaultStageTable(),
		EarlyExit:           DefaultEarlyExit(),
		SoftTopN:            1,
		SoftMaxConcurrency:  1,
		FinalScoreThreshold: 0.5,
	}
}
