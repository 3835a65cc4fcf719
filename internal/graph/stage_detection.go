package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"turncore/internal/domain"
	"turncore/internal/llm"
	"turncore/internal/mood"
	"turncore/internal/rules"
)

var detectionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "scores": {"type": "object", "additionalProperties": {"type": "number"}},
    "brief": {"type": "string"},
    "implied_stage": {"type": "string"},
    "user_emotion": {"type": "string"},
    "user_emotion_confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "immediate_tasks": {"type": "array", "items": {"type": "string"}},
    "urgent_tasks": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["brief", "implied_stage"]
}`)

type detectionVerdict struct {
	Scores                map[string]float64 `json:"scores,omitempty"`
	Brief                 string              `json:"brief"`
	ImpliedStage          string              `json:"implied_stage"`
	UserEmotion           string              `json:"user_emotion,omitempty"`
	UserEmotionConfidence float64             `json:"user_emotion_confidence,omitempty"`
	ImmediateTasks        []string            `json:"immediate_tasks,omitempty"`
	UrgentTasks           []string            `json:"urgent_tasks,omitempty"`
}

// buildDetectionStage implements stage 4: a main-role read of the current
// exchange into relationship-relevant scores, an implied stage, and the
// user's emotional reading.
func buildDetectionStage(deps *Deps) stageFunc {
	body := func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		out, err := deps.Invoker.Invoke(ctx, llm.RoleMain, detectionPrompt(state), detectionSchema)
		if err != nil {
			return state, fmt.Errorf("detection stage: %w", err)
		}
		best, err := llm.ParseBestEffort(out)
		if err != nil {
			return state, fmt.Errorf("detection stage: %w", err)
		}
		var v detectionVerdict
		if err := json.Unmarshal(best, &v); err != nil {
			return state, fmt.Errorf("detection stage: decode verdict: %w", err)
		}
		implied, _ := domain.ParseRelationshipStage(strings.ToLower(strings.TrimSpace(v.ImpliedStage)))
		emotion := rules.AnalyzeEmotion(state.UserInput)
		if v.UserEmotion != "" {
			emotion = rules.ConvertEmotion(v.UserEmotion, v.UserEmotionConfidence)
		}
		state.Detection = domain.DetectionResult{
			Scores:        v.Scores,
			Brief:         v.Brief,
			ImpliedStage:  implied,
			UserEmotion:   emotion,
			ImmediateTask: v.ImmediateTasks,
			UrgentTasks:   v.UrgentTasks,
		}
		state.MoodState = applyMoodUpdate(deps, state)
		return state, nil
	}
	return withCancelCheck(StageDetection, withFallback(StageDetection, body, func(state *domain.TurnState, err error) {
		state.Detection = domain.DetectionResult{
			Scores:       map[string]float64{},
			Brief:        "",
			ImpliedStage: state.CurrentStage,
			UserEmotion:  rules.AnalyzeEmotion(state.UserInput),
		}
	}))
}

// applyMoodUpdate folds the just-detected user emotion into the bot's
// shared PAD-plus-busyness state (spec's mood_state), nil-safe since a test
// Deps may not wire a mood.Engine.
func applyMoodUpdate(deps *Deps, state *domain.TurnState) domain.MoodState {
	if deps.Mood == nil {
		return state.MoodState
	}
	return deps.Mood.Update(state.BotBigFive, state.MoodState, mood.Input{
		Now:          time.Now().UTC(),
		UserEmotion:  state.Detection.UserEmotion,
		HasUserInput: true,
	})
}

func detectionPrompt(state *domain.TurnState) llm.Prompt {
	var sb strings.Builder
	for _, msg := range tail(state.ChatBuffer, 10) {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("user: ")
	sb.WriteString(state.UserInput)
	return llm.Prompt{
		System: "Read the exchange and report: free-form relationship-relevant scores, a one-line brief, the relationship stage this exchange implies (one of initiating, experimenting, intensifying, integrating, bonding, differentiating, circumscribing, stagnating, avoiding, terminating), the user's emotion label and confidence, and any immediate or urgent tasks the user raised.",
		User:   sb.String(),
	}
}
