package domain

import (
	"testing"
	"time"
)

func TestAppendChatMessageTruncatesTailWindow(t *testing.T) {
	var ts TurnState
	for i := 0; i < ChatBufferLimit+10; i++ {
		ts.AppendChatMessage(ChatMessage{Role: "user", Content: "x", CreatedAt: time.Now()})
	}
	if len(ts.ChatBuffer) != ChatBufferLimit {
		t.Fatalf("expected chat buffer truncated to %d, got %d", ChatBufferLimit, len(ts.ChatBuffer))
	}
}

func TestRecordErrorIsAbsorbedNotFatal(t *testing.T) {
	var ts TurnState
	ts.RecordError(ErrInvokerTimeout, "Detection", "deadline exceeded")
	if len(ts.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %d", len(ts.Errors))
	}
	if ts.Errors[0].Kind != ErrInvokerTimeout {
		t.Fatalf("unexpected kind: %s", ts.Errors[0].Kind)
	}
}

func TestMoodStateClampRanges(t *testing.T) {
	m := MoodState{Pleasure: 2, Arousal: -2, Dominance: 5, Busyness: 3}.Clamp()
	if m.Pleasure != 1 || m.Arousal != -1 || m.Dominance != 1 || m.Busyness != 1 {
		t.Fatalf("unexpected clamp result: %+v", m)
	}
}
