// Package mood computes the bot-shared MoodState (pleasure/arousal/dominance
// plus busyness) update for one turn. The PAD shock-and-recovery math is
// carried over from a persona-simulation engine in the retrieved pack: user
// emotion intensity drives a bounded shock impulse, which then relaxes back
// toward a personality-shaped baseline with an exponential recovery gain.
// Persona drift, extreme-memory locking and execution-probability gating
// from that engine are dropped: TurnState has no slot for them, and the
// spec's mood_state is only ever the four public floats plus the busyness
// knob the Segment Processor reads.
package mood

import (
	"math"
	"strings"
	"time"

	"turncore/internal/domain"
)

// Config tunes the decay/impulse rates. Defaults are carried over from the
// source engine's tuned constants where the underlying mechanic survived
// the trim to four public floats.
type Config struct {
	IdleAfterSeconds      float64
	BusyDecayTauSeconds   float64
	BusyRecoverySeconds   float64
	ImpactBase            float64
	MaxImpactNorm         float64
	ShockTheta            float64
	ShockTauBaseSeconds   float64
	RecoveryBaseRate      float64
}

func DefaultConfig() Config {
	return Config{
		IdleAfterSeconds:    18,
		BusyDecayTauSeconds: 240,
		BusyRecoverySeconds: 2,
		ImpactBase:          0.55,
		MaxImpactNorm:       0.42,
		ShockTheta:          0.08,
		ShockTauBaseSeconds: 120,
		RecoveryBaseRate:    0.18,
	}
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.IdleAfterSeconds <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Input bundles what one turn (or one idle decay tick) contributes.
type Input struct {
	Now          time.Time
	UserEmotion  domain.EmotionSignal
	HasUserInput bool
}

// Update advances prev by the elapsed time since its LastUpdatedAt, folding
// in the shock of in.UserEmotion, and returns the new, already-clamped
// MoodState.
func (e *Engine) Update(base domain.BigFive, prev domain.MoodState, in Input) domain.MoodState {
	now := in.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	lastUpdated := parseTimeOr(now, prev.LastUpdatedAt)
	if lastUpdated.After(now) {
		lastUpdated = now
	}
	dt := now.Sub(lastUpdated).Seconds()
	dt = clamp(dt, 0, 7200)

	lastInteraction := parseTimeOr(lastUpdated, prev.LastInteractionAt)
	hasUserInput := in.HasUserInput
	if !hasUserInput {
		label := strings.ToLower(strings.TrimSpace(in.UserEmotion.Emotion))
		padAbs := math.Abs(in.UserEmotion.P) + math.Abs(in.UserEmotion.A) + math.Abs(in.UserEmotion.D)
		if in.UserEmotion.Intensity > 0.01 || (label != "" && label != "neutral") || padAbs > 0.08 {
			hasUserInput = true
		}
	}
	if hasUserInput {
		lastInteraction = now
	}
	idleSeconds := clamp(now.Sub(lastInteraction).Seconds(), 0, math.MaxFloat64)

	updated := prev

	// Busyness decays toward idle baseline the longer the bot goes
	// unattended, and recovers quickly once the user engages again.
	if idleSeconds >= e.cfg.IdleAfterSeconds {
		tauUp := math.Max(30, e.cfg.BusyDecayTauSeconds*(1-0.4*base.Conscientiousness))
		updated.Busyness = 1 - (1-updated.Busyness)*math.Exp(-dt/tauUp)
	}
	if hasUserInput {
		tauDown := math.Max(20, e.cfg.BusyDecayTauSeconds*0.4)
		updated.Busyness = updated.Busyness * math.Exp(-e.cfg.BusyRecoverySeconds/tauDown)
	}
	updated.Busyness = clamp01(updated.Busyness)

	// Shock impulse from the user's emotion, scaled by extraversion and
	// neuroticism, capped at MaxImpactNorm, then relaxed toward a
	// personality baseline with an exponential recovery gain.
	targetP := clamp(0.20*base.Extraversion-0.15*base.Neuroticism, -1, 1)
	targetA := clamp(0.15*base.Extraversion-0.10*base.Agreeableness, -1, 1)
	targetD := clamp(0.30*base.Extraversion, -1, 1)

	intensity := clamp01(in.UserEmotion.Intensity)
	k := e.cfg.ImpactBase * (0.6 + 0.4*base.Agreeableness)
	deltaP := intensity * k * in.UserEmotion.P
	deltaA := intensity * k * in.UserEmotion.A
	deltaD := intensity * k * in.UserEmotion.D
	dNorm := math.Sqrt((deltaP*deltaP + deltaA*deltaA + deltaD*deltaD) / 3)
	if dNorm > e.cfg.MaxImpactNorm && dNorm > 0 {
		scale := e.cfg.MaxImpactNorm / dNorm
		deltaP *= scale
		deltaA *= scale
		deltaD *= scale
		dNorm = e.cfg.MaxImpactNorm
	}

	tauS := math.Max(12, e.cfg.ShockTauBaseSeconds*(1+0.5*base.Neuroticism))
	updated.ShockLoad = clamp01(updated.ShockLoad*math.Exp(-dt/tauS) + math.Max(0, dNorm-e.cfg.ShockTheta))

	lambda := e.cfg.RecoveryBaseRate * (0.5 + 0.5*(1-base.Neuroticism)) / (1 + 1.5*updated.ShockLoad)
	recoveryGain := 1 - math.Exp(-lambda*dt)
	updated.Pleasure = clampSigned(updated.Pleasure + deltaP + recoveryGain*(targetP-updated.Pleasure))
	updated.Arousal = clampSigned(updated.Arousal + deltaA + recoveryGain*(targetA-updated.Arousal))
	updated.Dominance = clampSigned(updated.Dominance + deltaD + recoveryGain*(targetD-updated.Dominance))

	updated.LastInteractionAt = lastInteraction.Format(time.RFC3339Nano)
	updated.LastUpdatedAt = now.Format(time.RFC3339Nano)
	return updated.Clamp()
}

func parseTimeOr(fallback time.Time, raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fallback
	}
	return t.UTC()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
func clamp01(v float64) float64    { return clamp(v, 0, 1) }
func clampSigned(v float64) float64 { return clamp(v, -1, 1) }

// BigFiveFromMBTI bootstraps a bot_big_five vector from a 4-letter MBTI
// code, for operators who only have a persona's MBTI label on hand. No
// stage of the turn graph calls it; the Load stage uses bot_big_five as
// stored.
func BigFiveFromMBTI(raw string) (domain.BigFive, bool) {
	mbti := strings.ToUpper(strings.TrimSpace(raw))
	if len(mbti) != 4 {
		return domain.BigFive{}, false
	}
	chars := []byte(mbti)
	if !oneOf(chars[0], "EI") || !oneOf(chars[1], "SN") || !oneOf(chars[2], "TF") || !oneOf(chars[3], "JP") {
		return domain.BigFive{}, false
	}

	v := domain.BigFive{}
	apply := func(extraversion, openness, agreeableness, conscientiousness float64, positive bool) {
		sign := 1.0
		if !positive {
			sign = -1.0
		}
		v.Extraversion = clampSigned(v.Extraversion + sign*extraversion)
		v.Openness = clampSigned(v.Openness + sign*openness)
		v.Agreeableness = clampSigned(v.Agreeableness + sign*agreeableness)
		v.Conscientiousness = clampSigned(v.Conscientiousness + sign*conscientiousness)
	}
	apply(0.55, 0.05, 0.05, 0.00, chars[0] == 'E')
	apply(0.00, 0.45, 0.00, -0.10, chars[1] == 'N')
	apply(-0.10, 0.00, 0.45, -0.05, chars[2] == 'F')
	apply(0.00, -0.10, 0.05, 0.45, chars[3] == 'J')
	return v.Clamp(), true
}

func oneOf(b byte, set string) bool {
	return strings.ContainsRune(set, rune(b))
}
