package config

import (
	"testing"

	"turncore/internal/domain"
)

func TestStageProfileLoaderReadsAllTenStages(t *testing.T) {
	loader := NewStageProfileLoader("../../config/stage_profiles.yaml", nil)
	if err := loader.reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table := loader.Table()
	if len(table) != 10 {
		t.Fatalf("expected 10 stage profiles, got %d", len(table))
	}
	if _, ok := table[domain.StageBonding]; !ok {
		t.Fatalf("expected bonding profile to be present")
	}
}

func TestLoadLATSConfigAppliesOverrides(t *testing.T) {
	cfg, err := LoadLATSConfig("../../config/lats.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SoftMaxConcurrency != 1 {
		t.Fatalf("expected soft.max_concurrency 1, got %d", cfg.SoftMaxConcurrency)
	}
	early := cfg.StageTable[domain.StageClassEarly]
	if early.Rollouts != 4 || early.ExpandK != 2 || early.MinRolloutsBeforeEarlyExit != 1 {
		t.Fatalf("unexpected early stage defaults: %+v", early)
	}
}
