package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"turncore/internal/domain"
)

// DerivedNote is one note the Evolver/StageManage stages want committed
// alongside this turn's transcript row, matched to package memory's Note
// but carrying the columns unique to the derived_notes table.
type DerivedNote struct {
	NoteType   string
	Content    string
	Importance float64
}

// PersistInput bundles everything one Persist call writes, beyond what
// already lives on domain.TurnState: the turn_index assigned at Load, the
// transcript's topic, entities and short context, and any notes derived
// this turn.
type PersistInput struct {
	TurnIndex     int64
	Topic         string
	Entities      map[string]string
	ShortContext  string
	Notes         []DerivedNote
}

// IsSuperseded is checked immediately before commit. Persist must write
// nothing for a turn the dispatcher has already superseded (invariant L1),
// so the caller passes a closure reading its own cancellation state rather
// than Persist racing a context cancellation against its own commit.
type IsSuperseded func() bool

// Persist writes everything spec §6 assigns to a successful turn inside one
// transaction: relationship_state, current_stage, mood_state (under a
// row-level lock), conversation_summary, the user+ai messages rows, one
// transcripts row, any derived_notes rows, and clears urgent_tasks.
func (s *Store) Persist(ctx context.Context, state *domain.TurnState, in PersistInput, superseded IsSuperseded) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin persist tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row-level lock on the bot's mood_state row for the duration of this
	// transaction, matching spec §6's "row-level lock on mood_state during
	// Persist" so two turns for the same bot never interleave mood writes.
	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM bots WHERE id = $1 FOR UPDATE`, state.BotID).Scan(&locked); err != nil {
		return fmt.Errorf("lock bot row: %w", err)
	}

	moodRaw, err := json.Marshal(state.MoodState)
	if err != nil {
		return fmt.Errorf("marshal mood_state: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE bots SET mood_state = $1, updated_at = NOW() WHERE id = $2`, moodRaw, state.BotID); err != nil {
		return fmt.Errorf("update mood_state: %w", err)
	}

	dimensionsRaw, err := json.Marshal(state.RelationshipState)
	if err != nil {
		return fmt.Errorf("marshal dimensions: %w", err)
	}
	inferredRaw, err := json.Marshal(state.UserInferredProfile)
	if err != nil {
		return fmt.Errorf("marshal inferred_profile: %w", err)
	}
	basicInfoRaw, err := json.Marshal(state.UserBasicInfo)
	if err != nil {
		return fmt.Errorf("marshal user basic_info: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE users
		SET dimensions = $1, current_stage = $2, inferred_profile = $3,
		    basic_info = $4, conversation_summary = $5, urgent_tasks = '[]'::jsonb,
		    updated_at = NOW()
		WHERE id = $6`,
		dimensionsRaw, state.CurrentStage.String(), inferredRaw,
		basicInfoRaw, state.ConversationSummary, state.UserID); err != nil {
		return fmt.Errorf("update user row: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (user_id, role, content, metadata)
		VALUES ($1, 'user', $2, '{}'::jsonb)`, state.UserID, state.UserInput); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}

	metadataRaw, err := marshalErrors(state.Errors)
	if err != nil {
		return fmt.Errorf("marshal turn errors: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (user_id, role, content, metadata)
		VALUES ($1, 'ai', $2, $3)`, state.UserID, state.FinalResponse, metadataRaw); err != nil {
		return fmt.Errorf("insert ai message: %w", err)
	}

	entitiesRaw, err := json.Marshal(in.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	var transcriptID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO transcripts (user_id, turn_index, user_text, bot_text, entities, topic, importance, short_context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		state.UserID, in.TurnIndex, state.UserInput, state.FinalResponse,
		entitiesRaw, in.Topic, transcriptImportance(state), in.ShortContext).
		Scan(&transcriptID)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	for _, note := range in.Notes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO derived_notes (user_id, transcript_id, note_type, content, importance)
			VALUES ($1, $2, $3, $4, $5)`,
			state.UserID, transcriptID, note.NoteType, note.Content, note.Importance); err != nil {
			return fmt.Errorf("insert derived note: %w", err)
		}
	}

	// The supersession check happens as the last step before commit: any
	// cancellation the dispatcher observed up to this instant must still
	// block the write (invariant L1, no ghost writes from a superseded turn).
	if superseded != nil && superseded() {
		return domain.TurnError{Kind: domain.ErrSuperseded, Stage: "Persist", Message: "turn superseded before commit", At: time.Now().UTC()}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit persist tx: %w", err)
	}
	return nil
}

func transcriptImportance(state *domain.TurnState) float64 {
	if len(state.RetrievedMemories) == 0 {
		return 0
	}
	var max float64
	for _, m := range state.RetrievedMemories {
		if m.Importance > max {
			max = m.Importance
		}
	}
	return max
}

func marshalErrors(errs []domain.TurnError) ([]byte, error) {
	if len(errs) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(struct {
		Errors []domain.TurnError `json:"errors"`
	}{Errors: errs})
}
