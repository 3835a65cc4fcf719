package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"turncore/internal/domain"
	"turncore/internal/llm"
)

var taskPlanSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "word_budget": {"type": "integer", "minimum": 0, "maximum": 60},
    "task_budget_max": {"type": "integer", "minimum": 0, "maximum": 2},
    "tasks_for_lats": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["word_budget", "task_budget_max"]
}`)

type taskPlanVerdict struct {
	WordBudget    int      `json:"word_budget"`
	TaskBudgetMax int      `json:"task_budget_max"`
	TasksForLATS  []string `json:"tasks_for_lats,omitempty"`
}

// buildTaskPlanStage implements stage 7: derive this turn's reply budget
// and the candidate task ids Search may attempt (spec P4's
// 0≤word_budget≤60, 0≤task_budget_max≤2 bounds are enforced here).
func buildTaskPlanStage(deps *Deps) stageFunc {
	body := func(ctx context.Context, state *domain.TurnState) (*domain.TurnState, error) {
		out, err := deps.Invoker.Invoke(ctx, llm.RoleFast, taskPlanPrompt(state), taskPlanSchema)
		if err != nil {
			return state, fmt.Errorf("task plan stage: %w", err)
		}
		best, err := llm.ParseBestEffort(out)
		if err != nil {
			return state, fmt.Errorf("task plan stage: %w", err)
		}
		var v taskPlanVerdict
		if err := json.Unmarshal(best, &v); err != nil {
			return state, fmt.Errorf("task plan stage: decode verdict: %w", err)
		}
		state.WordBudget = clampInt(v.WordBudget, 0, 60)
		state.TaskBudgetMax = clampInt(v.TaskBudgetMax, 0, 2)
		state.TasksForLATS = v.TasksForLATS
		return state, nil
	}
	return withCancelCheck(StageTaskPlan, withFallback(StageTaskPlan, body, func(state *domain.TurnState, err error) {
		state.WordBudget = 40
		state.TaskBudgetMax = clampInt(len(state.Detection.ImmediateTask), 0, 2)
		state.TasksForLATS = append([]string(nil), state.Detection.ImmediateTask...)
	}))
}

func taskPlanPrompt(state *domain.TurnState) llm.Prompt {
	var sb strings.Builder
	sb.WriteString("current_stage: ")
	sb.WriteString(state.CurrentStage.String())
	sb.WriteString("\ndetection_brief: ")
	sb.WriteString(state.Detection.Brief)
	sb.WriteString("\nimmediate_tasks: ")
	sb.WriteString(strings.Join(state.Detection.ImmediateTask, "; "))
	return llm.Prompt{
		System: "Decide the reply's word budget (0-60 words) and how many of the user's pending tasks (0-2) the reply should attempt this turn, and list those task descriptions as tasks_for_lats.",
		User:   sb.String(),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
