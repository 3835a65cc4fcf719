package stage

import "turncore/internal/domain"

type Manager struct {
	table Table
}

func NewManager(table Table) *Manager {
	return &Manager{table: table}
}

// Evaluate implements spec §4.6: the first stage, in declared ordinal order,
// whose profile matches the post-Evolve relationship vector is the proposed
// target. A JUMP (forward by more than one step) is only honored when it
// matches Detection's implied_stage (P3); otherwise it is downgraded to a
// single-step GROWTH, since the evidence still supports forward movement
// even if not all the way to the profile match.
func (m *Manager) Evaluate(current domain.RelationshipStage, rel domain.RelationshipState, impliedStage domain.RelationshipStage) Transition {
	matched, ok := m.matchProfile(rel)
	if !ok {
		matched = m.nearestProfile(rel)
	}

	diff := int(matched) - int(current)
	switch {
	case diff == 0:
		return Transition{Kind: domain.TransitionStay, Target: current}
	case diff == 1:
		return Transition{Kind: domain.TransitionGrowth, Target: matched}
	case diff > 1:
		if impliedStage == matched {
			return Transition{Kind: domain.TransitionJump, Target: matched}
		}
		return Transition{Kind: domain.TransitionGrowth, Target: current + 1}
	case diff == -1:
		return Transition{Kind: domain.TransitionDecay, Target: matched}
	default: // diff < -1: decay moves back only one step at a time
		return Transition{Kind: domain.TransitionDecay, Target: current - 1}
	}
}

// matchProfile walks the ten stages in declared ordinal order and returns
// the first whose profile contains every dimension of rel.
func (m *Manager) matchProfile(rel domain.RelationshipState) (domain.RelationshipStage, bool) {
	for s := domain.StageInitiating; s <= domain.StageTerminating; s++ {
		if p, ok := m.table[s]; ok && p.matches(rel) {
			return s, true
		}
	}
	return domain.StageInitiating, false
}

// nearestProfile falls back to the profile with the smallest squared
// distance to rel when no profile's ranges contain it outright (gaps
// between adjacent profiles, or a vector outside every band).
func (m *Manager) nearestProfile(rel domain.RelationshipState) domain.RelationshipStage {
	best := domain.StageInitiating
	bestDist := -1.0
	for s := domain.StageInitiating; s <= domain.StageTerminating; s++ {
		p, ok := m.table[s]
		if !ok {
			continue
		}
		d := p.distance(rel)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = s
		}
	}
	return best
}
