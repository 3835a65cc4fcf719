// Package domain holds the TurnState value and every type threaded through
// the graph, search engine and session controller. Nothing in this package
// talks to a database or an LLM; it is pure data plus the clamping
// invariants that every write path must go through.
package domain

import "time"

// RelationshipStage is one of the ten ordinal positions along the
// relationship trajectory. Ordinal order is significant: StageManager and
// the search engine's stage-class table both depend on it.
type RelationshipStage int

const (
	StageInitiating RelationshipStage = iota
	StageExperimenting
	StageIntensifying
	StageIntegrating
	StageBonding
	StageDifferentiating
	StageCircumscribing
	StageStagnating
	StageAvoiding
	StageTerminating
)

var relationshipStageNames = [...]string{
	"initiating", "experimenting", "intensifying", "integrating", "bonding",
	"differentiating", "circumscribing", "stagnating", "avoiding", "terminating",
}

func (s RelationshipStage) String() string {
	if s < 0 || int(s) >= len(relationshipStageNames) {
		return "unknown"
	}
	return relationshipStageNames[s]
}

// StageClass buckets the ten stages into the three tuning classes used by
// the search engine's R/K defaults table (spec 4.2).
type StageClass int

const (
	StageClassEarly StageClass = iota // initiating, experimenting
	StageClassMid                     // intensifying, integrating
	StageClassLate                    // differentiating .. terminating
)

func (s RelationshipStage) Class() StageClass {
	switch s {
	case StageInitiating, StageExperimenting:
		return StageClassEarly
	case StageIntensifying, StageIntegrating:
		return StageClassMid
	default:
		return StageClassLate
	}
}

// ParseRelationshipStage resolves a stage by its lowercase name, defaulting
// to StageInitiating for unknown input.
func ParseRelationshipStage(name string) (RelationshipStage, bool) {
	for i, n := range relationshipStageNames {
		if n == name {
			return RelationshipStage(i), true
		}
	}
	return StageInitiating, false
}

// StageTransitionKind is the outcome of one StageManage evaluation.
type StageTransitionKind string

const (
	TransitionStay   StageTransitionKind = "STAY"
	TransitionGrowth StageTransitionKind = "GROWTH"
	TransitionDecay  StageTransitionKind = "DECAY"
	TransitionJump   StageTransitionKind = "JUMP"
)

// BigFive is the bot's immutable personality vector, five floats in [-1,1].
type BigFive struct {
	Openness          float64 `json:"openness"`
	Conscientiousness float64 `json:"conscientiousness"`
	Extraversion      float64 `json:"extraversion"`
	Agreeableness     float64 `json:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism"`
}

func (b BigFive) Clamp() BigFive {
	return BigFive{
		Openness:          clampSigned(b.Openness),
		Conscientiousness: clampSigned(b.Conscientiousness),
		Extraversion:      clampSigned(b.Extraversion),
		Agreeableness:     clampSigned(b.Agreeableness),
		Neuroticism:       clampSigned(b.Neuroticism),
	}
}

// BotBasicInfo is immutable per-turn declared data about the bot.
type BotBasicInfo struct {
	Name          string `json:"name"`
	Age           int    `json:"age,omitempty"`
	Occupation    string `json:"occupation,omitempty"`
	SpeakingStyle string `json:"speaking_style,omitempty"`
}

// BotPersona groups the bot's free-form lore/attributes.
type BotPersona struct {
	Attributes  map[string]string   `json:"attributes,omitempty"`
	Collections map[string][]string `json:"collections,omitempty"`
	Lore        map[string]string   `json:"lore,omitempty"`
}

// UserBasicInfo is declared-by-user facts, fill-in-missing only (Evolver §4.5).
type UserBasicInfo map[string]string

// UserInferredProfile is an append-only mapping of inferred-trait name to value.
type UserInferredProfile map[string]string

// RelationshipState is the six-dimension physics layer, one per
// (bot_id, user_id) pair. Every field is clamped to [0,1] on every write
// (invariant P1) and every delta is capped to ±DeltaMax absolute (P2).
type RelationshipState struct {
	Closeness float64 `json:"closeness"`
	Trust     float64 `json:"trust"`
	Liking    float64 `json:"liking"`
	Respect   float64 `json:"respect"`
	Warmth    float64 `json:"warmth"`
	Power     float64 `json:"power"`
}

// DeltaMax is the per-turn absolute cap on any one relationship dimension
// (spec 3, invariant "relationship_state components may change by at most
// a per-turn delta cap Δ_max ≈ 0.30 absolute").
const DeltaMax = 0.30

// RelationshipDelta is a proposed change to every dimension, produced by the
// Evolver before clamping.
type RelationshipDelta struct {
	Closeness float64
	Trust     float64
	Liking    float64
	Respect   float64
	Warmth    float64
	Power     float64
}

func (r RelationshipState) Clamp() RelationshipState {
	return RelationshipState{
		Closeness: clamp01(r.Closeness),
		Trust:     clamp01(r.Trust),
		Liking:    clamp01(r.Liking),
		Respect:   clamp01(r.Respect),
		Warmth:    clamp01(r.Warmth),
		Power:     clamp01(r.Power),
	}
}

// ApplyDelta clamps each component of delta to ±DeltaMax and then clamps the
// resulting dimension to [0,1]. This is the single write path every caller
// (Evolver, tests) must use; no other code is allowed to assign
// RelationshipState fields directly.
func (r RelationshipState) ApplyDelta(d RelationshipDelta) RelationshipState {
	return RelationshipState{
		Closeness: clamp01(r.Closeness + clampDelta(d.Closeness)),
		Trust:     clamp01(r.Trust + clampDelta(d.Trust)),
		Liking:    clamp01(r.Liking + clampDelta(d.Liking)),
		Respect:   clamp01(r.Respect + clampDelta(d.Respect)),
		Warmth:    clamp01(r.Warmth + clampDelta(d.Warmth)),
		Power:     clamp01(r.Power + clampDelta(d.Power)),
	}
}

func clampDelta(d float64) float64 {
	return clamp(d, -DeltaMax, DeltaMax)
}

// MoodState is the four-float PAD-plus-busyness layer, shared across every
// user of one bot. ShockLoad and Boredom are engine-internal continuity
// state carried between turns so the PAD recovery math in package mood can
// decay realistically; they are not part of the spec's four public floats
// but ride along in the same JSON column.
type MoodState struct {
	Pleasure  float64 `json:"pleasure"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
	Busyness  float64 `json:"busyness"`

	ShockLoad         float64 `json:"shock_load,omitempty"`
	Boredom           float64 `json:"boredom,omitempty"`
	LastInteractionAt string  `json:"last_interaction_at,omitempty"`
	LastUpdatedAt     string  `json:"last_updated_at,omitempty"`
}

func (m MoodState) Clamp() MoodState {
	m.Pleasure = clampSigned(m.Pleasure)
	m.Arousal = clampSigned(m.Arousal)
	m.Dominance = clampSigned(m.Dominance)
	m.Busyness = clamp01(m.Busyness)
	m.ShockLoad = clamp01(m.ShockLoad)
	m.Boredom = clamp01(m.Boredom)
	return m
}

// ChatMessage is one entry of the append-only chat_buffer.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatBufferLimit is the tail-window kept before persistence.
const ChatBufferLimit = 100

// RetrievedMemory is one MemoryRetriever hit.
type RetrievedMemory struct {
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// EmotionSignal is a lightweight PAD+label reading of one piece of text,
// produced by the heuristic scorer in package rules and consumed by
// Detection and the mood engine.
type EmotionSignal struct {
	Emotion    string  `json:"emotion"`
	P          float64 `json:"p"`
	A          float64 `json:"a"`
	D          float64 `json:"d"`
	Intensity  float64 `json:"intensity"`
	Confidence float64 `json:"confidence"`
}

// DetectionResult is the output of the Detection stage.
type DetectionResult struct {
	Scores        map[string]float64 `json:"scores"`
	Brief         string             `json:"brief"`
	ImpliedStage  RelationshipStage  `json:"implied_stage"`
	UserEmotion   EmotionSignal      `json:"user_emotion"`
	ImmediateTask []string           `json:"immediate_tasks,omitempty"`
	UrgentTasks   []string           `json:"urgent_tasks,omitempty"`
}

// SegmentDraft is one reply bubble, shared by ReplyPlan.Messages and
// final_segments.
type SegmentDraft struct {
	Content      string  `json:"content"`
	DelaySeconds float64 `json:"delay_seconds"`
	Action       string  `json:"action"` // "typing" | "idle"
}

const (
	ActionTyping = "typing"
	ActionIdle   = "idle"
)

// ReplyPlan is the chosen output of Search.
type ReplyPlan struct {
	Messages         []SegmentDraft `json:"messages"`
	AttemptedTaskIDs []string       `json:"attempted_task_ids,omitempty"`
	CompletedTaskIDs []string       `json:"completed_task_ids,omitempty"`
}

// SecurityFlags is the output of the Security stage.
type SecurityFlags struct {
	NeedsSecurityResponse bool     `json:"needs_security_response"`
	Reasons               []string `json:"reasons,omitempty"`
}

// Requirements bundles the constraints Search and the Segment Processor
// must satisfy, derived from TaskPlan's output.
type Requirements struct {
	MaxMessages   int
	MinFirstLen   int
	WordBudget    int
	TaskBudgetMax int
}

// ErrKind is the error taxonomy of spec §7.
type ErrKind string

const (
	ErrInvokerTimeout    ErrKind = "invoker_timeout"
	ErrInvokerParse      ErrKind = "invoker_parse_error"
	ErrStageFallback     ErrKind = "stage_fallback"
	ErrSearchDegenerate  ErrKind = "search_degenerate"
	ErrValidationFail    ErrKind = "validation_fail"
	ErrPersist           ErrKind = "persist_error"
	ErrSuperseded        ErrKind = "superseded"
	ErrFatal             ErrKind = "fatal"
)

// TurnError is one absorbed error, recorded on TurnState.Errors and
// persisted into the ai message's metadata column for debugging.
type TurnError struct {
	Kind    ErrKind   `json:"kind"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (e TurnError) Error() string {
	return string(e.Kind) + " at " + e.Stage + ": " + e.Message
}

// TurnState is the single value threaded through every graph stage.
type TurnState struct {
	// Control
	TurnID       string
	ParentTurnID string
	BotID        string
	UserID       string
	ExternalID   string
	TurnIndex    int64
	ClientTurnID string

	// Identity
	BotBasicInfo BotBasicInfo
	BotBigFive   BigFive
	BotPersona   BotPersona

	// Perception
	UserBasicInfo        UserBasicInfo
	UserInferredProfile  UserInferredProfile

	// Physics
	RelationshipState RelationshipState
	MoodState         MoodState
	CurrentStage      RelationshipStage

	// Memory
	ChatBuffer          []ChatMessage
	ConversationSummary string
	RetrievedMemories   []RetrievedMemory

	// Turn IO
	UserInput          string
	Detection          DetectionResult
	InnerMonologue     string
	SelectedProfileKeys []string
	WordBudget         int
	TaskBudgetMax      int
	TasksForLATS       []string
	ReplyPlan          ReplyPlan
	FinalSegments      []SegmentDraft
	FinalResponse      string
	SecurityFlags      SecurityFlags
	SecurityResponse   string
	IsMacroDelay       bool
	MacroDelaySeconds  float64

	// Bookkeeping
	Errors    []TurnError
	StartedAt time.Time
}

// RecordError appends an absorbed error; it never aborts the turn by itself.
func (t *TurnState) RecordError(kind ErrKind, stage, message string) {
	t.Errors = append(t.Errors, TurnError{Kind: kind, Stage: stage, Message: message, At: time.Now().UTC()})
}

// AppendChatMessage enforces append-only + tail-window truncation (invariant
// "chat_buffer is append-only within a turn and truncated to the
// tail-window before persistence").
func (t *TurnState) AppendChatMessage(msg ChatMessage) {
	t.ChatBuffer = append(t.ChatBuffer, msg)
	if len(t.ChatBuffer) > ChatBufferLimit {
		t.ChatBuffer = t.ChatBuffer[len(t.ChatBuffer)-ChatBufferLimit:]
	}
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
