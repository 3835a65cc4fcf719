package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"turncore/internal/domain"
)

// recordingEmitter captures the order and index each segment was delivered
// in, so tests can check L3 (spec §8) directly against Controller.emit
// rather than inferring it from a full Submit round trip.
type recordingEmitter struct {
	mu       sync.Mutex
	contents []string
	indices  []int
}

func (r *recordingEmitter) Emit(_ context.Context, _ Key, _ string, index int, seg domain.SegmentDraft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contents = append(r.contents, seg.Content)
	r.indices = append(r.indices, index)
	return nil
}

// TestEmitPreservesSegmentOrder checks L3: the ordered sequence of emitted
// segments equals final_segments in order, index for index.
func TestEmitPreservesSegmentOrder(t *testing.T) {
	rec := &recordingEmitter{}
	c := NewController(newFakeGraph(), rec, zap.NewNop())

	segments := []domain.SegmentDraft{
		{Content: "嗯。", DelaySeconds: 0, Action: domain.ActionIdle},
		{Content: "今天有点累。", DelaySeconds: 0.01, Action: domain.ActionTyping},
		{Content: "你还好吗？", DelaySeconds: 0.01, Action: domain.ActionTyping},
	}

	c.emit(context.Background(), Key{BotID: "b1", ExternalID: "u1"}, "turn-1", segments)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.contents) != len(segments) {
		t.Fatalf("expected %d emitted segments, got %d", len(segments), len(rec.contents))
	}
	for i, seg := range segments {
		if rec.contents[i] != seg.Content || rec.indices[i] != i {
			t.Fatalf("segment %d out of order: got content=%q index=%d", i, rec.contents[i], rec.indices[i])
		}
	}
}

// TestEmitStopsOnCanceledContext confirms emit abandons remaining segments
// once the turn's own context is done, instead of delivering the rest late.
func TestEmitStopsOnCanceledContext(t *testing.T) {
	rec := &recordingEmitter{}
	c := NewController(newFakeGraph(), rec, zap.NewNop())

	segments := []domain.SegmentDraft{
		{Content: "first", DelaySeconds: 0},
		{Content: "second", DelaySeconds: 10},
		{Content: "third", DelaySeconds: 10},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.emit(ctx, Key{BotID: "b1", ExternalID: "u1"}, "turn-1", segments)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit never returned after cancellation")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.contents) != 1 || rec.contents[0] != "first" {
		t.Fatalf("expected only the zero-delay first segment emitted before cancellation, got %v", rec.contents)
	}
}
