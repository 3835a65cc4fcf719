package config

import (
	"turncore/internal/domain"
	"turncore/internal/search"
)

// LATSConfig is the YAML shape of config/lats.yaml (spec table at §6,
// "lats.* override keys"), unmarshaled by koanf's yaml tag.
type LATSConfig struct {
	StageTable map[string]struct {
		Rollouts                   int `yaml:"rollouts"`
		ExpandK                    int `yaml:"expand_k"`
		MinRolloutsBeforeEarlyExit int `yaml:"min_rollouts_before_early_exit"`
	} `yaml:"stage_table"`
	EarlyExit struct {
		RootScoreMin      float64 `yaml:"root_score_min"`
		PlanAlignmentMin  float64 `yaml:"plan_alignment_min"`
		AssistantinessMax float64 `yaml:"assistantiness_max"`
		ModeFitMin        float64 `yaml:"mode_fit_min"`
	} `yaml:"early_exit"`
	Soft struct {
		TopN           int `yaml:"top_n"`
		MaxConcurrency int `yaml:"max_concurrency"`
	} `yaml:"soft"`
	FinalScoreThreshold float64 `yaml:"final_score_threshold"`
}

var stageClassByName = map[string]domain.StageClass{
	"early": domain.StageClassEarly,
	"mid":   domain.StageClassMid,
	"late":  domain.StageClassLate,
}

// ToSearchConfig converts the YAML shape into search.Config, overriding
// search.DefaultConfig()'s values wherever the YAML sets something.
func (c LATSConfig) ToSearchConfig() search.Config {
	cfg := search.DefaultConfig()

	for name, entry := range c.StageTable {
		class, ok := stageClassByName[name]
		if !ok {
			continue
		}
		cfg.StageTable[class] = search.StageDefault{
			Rollouts:                   entry.Rollouts,
			ExpandK:                    entry.ExpandK,
			MinRolloutsBeforeEarlyExit: entry.MinRolloutsBeforeEarlyExit,
		}
	}

	if c.EarlyExit.RootScoreMin > 0 {
		cfg.EarlyExit.RootScoreMin = c.EarlyExit.RootScoreMin
	}
	if c.EarlyExit.PlanAlignmentMin > 0 {
		cfg.EarlyExit.PlanAlignmentMin = c.EarlyExit.PlanAlignmentMin
	}
	if c.EarlyExit.AssistantinessMax > 0 {
		cfg.EarlyExit.AssistantinessMax = c.EarlyExit.AssistantinessMax
	}
	if c.EarlyExit.ModeFitMin > 0 {
		cfg.EarlyExit.ModeFitMin = c.EarlyExit.ModeFitMin
	}
	if c.Soft.TopN > 0 {
		cfg.SoftTopN = c.Soft.TopN
	}
	if c.Soft.MaxConcurrency > 0 {
		cfg.SoftMaxConcurrency = c.Soft.MaxConcurrency
	}
	if c.FinalScoreThreshold > 0 {
		cfg.FinalScoreThreshold = c.FinalScoreThreshold
	}
	return cfg
}
