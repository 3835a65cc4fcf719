package search

import "encoding/json"

// Schemas handed to the Invoker alongside each structured-output call. They
// are the contract the `main`/`judge` roles are expected to honor; parsing
// falls back to llm.ParseBestEffort when a model wraps the JSON in prose.

var planSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "content": {"type": "string"},
          "delay_seconds": {"type": "number"},
          "action": {"type": "string", "enum": ["typing", "idle"]}
        },
        "required": ["content"]
      }
    },
    "attempted_task_ids": {"type": "array", "items": {"type": "string"}},
    "completed_task_ids": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["messages"]
}`)

var batchGateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "verdicts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "assistantiness_ok": {"type": "boolean"},
          "identity_ok": {"type": "boolean"},
          "immersion_ok": {"type": "boolean"}
        },
        "required": ["assistantiness_ok", "identity_ok", "immersion_ok"]
      }
    }
  },
  "required": ["verdicts"]
}`)

var softScoreSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "assistantiness": {"type": "number"},
    "immersion_break": {"type": "number"},
    "persona_consistency": {"type": "number"},
    "relationship_fit": {"type": "number"},
    "mode_behavior_fit": {"type": "number"},
    "overall_score": {"type": "number"}
  },
  "required": ["assistantiness", "immersion_break", "overall_score"]
}`)
