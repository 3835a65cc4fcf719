package domain

import "testing"

func TestRelationshipStateClampRange(t *testing.T) {
	r := RelationshipState{Closeness: 1.4, Trust: -0.2, Liking: 0.5, Respect: 2, Warmth: -1, Power: 0.3}.Clamp()
	for name, v := range map[string]float64{
		"closeness": r.Closeness, "trust": r.Trust, "liking": r.Liking,
		"respect": r.Respect, "warmth": r.Warmth, "power": r.Power,
	} {
		if v < 0 || v > 1 {
			t.Fatalf("%s out of range: %v", name, v)
		}
	}
}

func TestApplyDeltaCapsAtDeltaMax(t *testing.T) {
	base := RelationshipState{Closeness: 0.5, Trust: 0.5, Liking: 0.5, Respect: 0.5, Warmth: 0.5, Power: 0.5}
	got := base.ApplyDelta(RelationshipDelta{Closeness: 10, Trust: -10})
	if got.Closeness-base.Closeness > DeltaMax+1e-9 {
		t.Fatalf("closeness delta exceeded DeltaMax: %v", got.Closeness-base.Closeness)
	}
	if base.Trust-got.Trust > DeltaMax+1e-9 {
		t.Fatalf("trust delta exceeded DeltaMax: %v", base.Trust-got.Trust)
	}
}

func TestApplyDeltaClampsFinalRange(t *testing.T) {
	base := RelationshipState{Closeness: 0.95}
	got := base.ApplyDelta(RelationshipDelta{Closeness: 0.30})
	if got.Closeness > 1 {
		t.Fatalf("closeness exceeded 1: %v", got.Closeness)
	}
}
