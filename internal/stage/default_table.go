package stage

import "turncore/internal/domain"

// DefaultTable is a sane built-in fallback used when no
// config/stage_profiles.yaml is present (e.g. in tests); production
// deployments load their table from YAML via internal/config.
func DefaultTable() Table {
	band := func(min, max float64) Range { return Range{Min: min, Max: max} }
	return Table{
		domain.StageInitiating: {
			Stage: domain.StageInitiating,
			Closeness: band(0.0, 0.25), Trust: band(0.0, 0.25), Liking: band(0.0, 0.35),
			Respect: band(0.0, 0.35), Warmth: band(0.0, 0.35), Power: band(0.3, 0.7),
		},
		domain.StageExperimenting: {
			Stage: domain.StageExperimenting,
			Closeness: band(0.2, 0.4), Trust: band(0.2, 0.4), Liking: band(0.3, 0.5),
			Respect: band(0.3, 0.5), Warmth: band(0.3, 0.5), Power: band(0.3, 0.7),
		},
		domain.StageIntensifying: {
			Stage: domain.StageIntensifying,
			Closeness: band(0.35, 0.6), Trust: band(0.35, 0.6), Liking: band(0.45, 0.7),
			Respect: band(0.45, 0.7), Warmth: band(0.45, 0.7), Power: band(0.25, 0.75),
		},
		domain.StageIntegrating: {
			Stage: domain.StageIntegrating,
			Closeness: band(0.55, 0.75), Trust: band(0.55, 0.75), Liking: band(0.6, 0.85),
			Respect: band(0.6, 0.85), Warmth: band(0.6, 0.85), Power: band(0.25, 0.75),
		},
		domain.StageBonding: {
			Stage: domain.StageBonding,
			Closeness: band(0.7, 0.9), Trust: band(0.7, 0.9), Liking: band(0.75, 0.95),
			Respect: band(0.75, 0.95), Warmth: band(0.75, 0.95), Power: band(0.2, 0.8),
		},
		domain.StageDifferentiating: {
			Stage: domain.StageDifferentiating,
			Closeness: band(0.5, 0.8), Trust: band(0.5, 0.8), Liking: band(0.45, 0.75),
			Respect: band(0.45, 0.8), Warmth: band(0.4, 0.7), Power: band(0.15, 0.85),
		},
		domain.StageCircumscribing: {
			Stage: domain.StageCircumscribing,
			Closeness: band(0.3, 0.55), Trust: band(0.3, 0.55), Liking: band(0.25, 0.5),
			Respect: band(0.3, 0.55), Warmth: band(0.2, 0.5), Power: band(0.1, 0.9),
		},
		domain.StageStagnating: {
			Stage: domain.StageStagnating,
			Closeness: band(0.2, 0.45), Trust: band(0.2, 0.45), Liking: band(0.15, 0.4),
			Respect: band(0.2, 0.45), Warmth: band(0.1, 0.4), Power: band(0.1, 0.9),
		},
		domain.StageAvoiding: {
			Stage: domain.StageAvoiding,
			Closeness: band(0.05, 0.3), Trust: band(0.05, 0.3), Liking: band(0.0, 0.25),
			Respect: band(0.05, 0.3), Warmth: band(0.0, 0.25), Power: band(0.0, 1.0),
		},
		domain.StageTerminating: {
			Stage: domain.StageTerminating,
			Closeness: band(0.0, 0.15), Trust: band(0.0, 0.15), Liking: band(0.0, 0.15),
			Respect: band(0.0, 0.2), Warmth: band(0.0, 0.15), Power: band(0.0, 1.0),
		},
	}
}
