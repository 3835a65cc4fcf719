package memory

import (
	"context"
	"testing"

	"turncore/internal/domain"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

type fakeStore struct {
	notes    []Note
	searchErr error
	upserted  []Note
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, botID, userID string, topK uint64) ([]Note, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.notes, nil
}

func (f *fakeStore) Upsert(ctx context.Context, note Note) error {
	f.upserted = append(f.upserted, note)
	return nil
}

func TestRetrieveReturnsMappedMemories(t *testing.T) {
	store := &fakeStore{notes: []Note{{Content: "用户喜欢猫", Importance: 0.7}}}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	r := NewRetriever(store, embedder, 5, nil)

	state := &domain.TurnState{UserInput: "我家猫怎么样了", BotID: "bot-1", UserID: "user-1"}
	out := r.Retrieve(context.Background(), state)
	if len(out) != 1 || out[0].Content != "用户喜欢猫" {
		t.Fatalf("unexpected memories: %+v", out)
	}
}

func TestRetrieveReturnsEmptyOnEmbedFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: context.DeadlineExceeded}
	r := NewRetriever(&fakeStore{}, embedder, 5, nil)
	state := &domain.TurnState{UserInput: "你好"}
	out := r.Retrieve(context.Background(), state)
	if out != nil {
		t.Fatalf("expected nil memories on embed failure, got %+v", out)
	}
}

func TestRetrieveSkipsEmptyUserInput(t *testing.T) {
	r := NewRetriever(&fakeStore{}, &fakeEmbedder{}, 5, nil)
	out := r.Retrieve(context.Background(), &domain.TurnState{})
	if out != nil {
		t.Fatalf("expected nil for empty input, got %+v", out)
	}
}

func TestRememberUpsertsEmbeddedNote(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{vector: []float32{0.5}}
	r := NewRetriever(store, embedder, 5, nil)

	if err := r.Remember(context.Background(), "note-1", "bot-1", "user-1", "今天聊了工作", 0.4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.upserted) != 1 || store.upserted[0].Content != "今天聊了工作" {
		t.Fatalf("unexpected upserted notes: %+v", store.upserted)
	}
}
