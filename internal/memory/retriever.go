package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"turncore/internal/domain"
)

// noteStore is the subset of *Store the Retriever needs, narrowed to an
// interface so tests can substitute an in-memory double.
type noteStore interface {
	Search(ctx context.Context, vector []float32, botID, userID string, topK uint64) ([]Note, error)
	Upsert(ctx context.Context, note Note) error
}

// Retriever implements the MemoryRetrieve stage: embed the current turn's
// user input and pull back the top-K closest derived notes for this
// (bot_id, user_id) pair.
type Retriever struct {
	store    noteStore
	embedder Embedder
	topK     uint64
	logger   *zap.Logger
}

func NewRetriever(store noteStore, embedder Embedder, topK int, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, embedder: embedder, topK: uint64(topK), logger: logger}
}

// Retrieve never fails the turn: an embedding or search error is logged and
// an empty slice is returned, since retrieved_memories is an optional
// enrichment, not a required input (spec §4's MemoryRetrieve is best-effort).
func (r *Retriever) Retrieve(ctx context.Context, state *domain.TurnState) []domain.RetrievedMemory {
	if state.UserInput == "" {
		return nil
	}
	vector, err := r.embedder.Embed(ctx, state.UserInput)
	if err != nil {
		r.logger.Warn("memory embed failed", zap.Error(err))
		return nil
	}
	notes, err := r.store.Search(ctx, vector, state.BotID, state.UserID, r.topK)
	if err != nil {
		r.logger.Warn("memory search failed", zap.Error(err))
		return nil
	}
	out := make([]domain.RetrievedMemory, 0, len(notes))
	for _, n := range notes {
		out = append(out, domain.RetrievedMemory{Content: n.Content, Importance: n.Importance})
	}
	return out
}

// Remember embeds and upserts one derived note, called after Persist writes
// the committed turn's conversation_summary (spec §4.8).
func (r *Retriever) Remember(ctx context.Context, id, botID, userID, content string, importance float64) error {
	vector, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed note: %w", err)
	}
	return r.store.Upsert(ctx, Note{ID: id, BotID: botID, UserID: userID, Content: content, Importance: importance, Vector: vector})
}
