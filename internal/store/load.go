package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"turncore/internal/domain"
)

// LoadResult is a freshly assembled TurnState plus the turn_index the
// Persist call for this turn must write to transcripts.
type LoadResult struct {
	State     *domain.TurnState
	TurnIndex int64
}

// Load performs the single-row lookups spec §6 describes for the Load
// stage: one bots row, one users row keyed by (bot_id, external_id), and
// the tail window of the messages table for chat_buffer.
func (s *Store) Load(ctx context.Context, botID, externalID string) (*LoadResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin load tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		botName       string
		basicInfoRaw  []byte
		bigFiveRaw    []byte
		personaRaw    []byte
		moodStateRaw  []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT name, basic_info, big_five, persona, mood_state
		FROM bots WHERE id = $1`, botID).
		Scan(&botName, &basicInfoRaw, &bigFiveRaw, &personaRaw, &moodStateRaw)
	if err != nil {
		return nil, fmt.Errorf("load bot %s: %w", botID, err)
	}

	userID := uuid.NewString()
	if err := s.EnsureUser(ctx, tx, botID, externalID, userID); err != nil {
		return nil, err
	}

	var (
		userBasicInfoRaw []byte
		currentStageName string
		dimensionsRaw    []byte
		inferredRaw      []byte
		conversationSummary string
	)
	err = tx.QueryRow(ctx, `
		SELECT id, basic_info, current_stage, dimensions, inferred_profile, conversation_summary
		FROM users WHERE bot_id = $1 AND external_id = $2`, botID, externalID).
		Scan(&userID, &userBasicInfoRaw, &currentStageName, &dimensionsRaw, &inferredRaw, &conversationSummary)
	if err != nil {
		return nil, fmt.Errorf("load user (%s,%s): %w", botID, externalID, err)
	}

	var turnIndex int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(turn_index), -1) + 1 FROM transcripts WHERE user_id = $1`, userID).
		Scan(&turnIndex)
	if err != nil {
		return nil, fmt.Errorf("compute next turn index: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT role, content, created_at FROM messages
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, domain.ChatBufferLimit)
	if err != nil {
		return nil, fmt.Errorf("load chat buffer: %w", err)
	}
	var reversed []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		reversed = append(reversed, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat buffer: %w", err)
	}
	chatBuffer := make([]domain.ChatMessage, len(reversed))
	for i, msg := range reversed {
		chatBuffer[len(reversed)-1-i] = msg
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit load tx: %w", err)
	}

	state := &domain.TurnState{
		BotID:               botID,
		UserID:              userID,
		ExternalID:          externalID,
		CurrentStage:        parseStageOrInitiating(currentStageName),
		ConversationSummary: conversationSummary,
		ChatBuffer:          chatBuffer,
		StartedAt:           time.Now().UTC(),
	}
	if err := unmarshalIfPresent(basicInfoRaw, &state.BotBasicInfo); err != nil {
		return nil, fmt.Errorf("decode bot basic_info: %w", err)
	}
	state.BotBasicInfo.Name = botName
	if err := unmarshalIfPresent(bigFiveRaw, &state.BotBigFive); err != nil {
		return nil, fmt.Errorf("decode bot big_five: %w", err)
	}
	if err := unmarshalIfPresent(personaRaw, &state.BotPersona); err != nil {
		return nil, fmt.Errorf("decode bot persona: %w", err)
	}
	if err := unmarshalIfPresent(moodStateRaw, &state.MoodState); err != nil {
		return nil, fmt.Errorf("decode mood_state: %w", err)
	}
	if err := unmarshalIfPresent(userBasicInfoRaw, &state.UserBasicInfo); err != nil {
		return nil, fmt.Errorf("decode user basic_info: %w", err)
	}
	if err := unmarshalIfPresent(dimensionsRaw, &state.RelationshipState); err != nil {
		return nil, fmt.Errorf("decode dimensions: %w", err)
	}
	if err := unmarshalIfPresent(inferredRaw, &state.UserInferredProfile); err != nil {
		return nil, fmt.Errorf("decode inferred_profile: %w", err)
	}
	state.RelationshipState = state.RelationshipState.Clamp()
	state.MoodState = state.MoodState.Clamp()

	return &LoadResult{State: state, TurnIndex: turnIndex}, nil
}

func parseStageOrInitiating(name string) domain.RelationshipStage {
	stage, _ := domain.ParseRelationshipStage(name)
	return stage
}

func unmarshalIfPresent(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
