// Package memory implements the MemoryRetrieve stage (spec §4's memory
// module): embedding incoming turns, storing them in Qdrant, and pulling
// back the top-K most relevant past memories for the current turn.
package memory

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

const collectionMemories = "derived_notes"

// Store wraps the Qdrant client for the single memories collection this
// system needs, generalized from the teacher pack's multi-collection vector
// store to one collection filtered by bot_id/user_id per query.
type Store struct {
	client *qdrant.Client
}

type Config struct {
	Host   string
	Port   int
	UseTLS bool
}

func DefaultConfig() Config {
	return Config{Host: "localhost", Port: 6334}
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: cfg.Host, Port: cfg.Port, UseTLS: cfg.UseTLS})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the memories collection if it doesn't exist yet.
func (s *Store) EnsureCollection(ctx context.Context, dimension uint64) error {
	exists, err := s.client.CollectionExists(ctx, collectionMemories)
	if err != nil {
		return fmt.Errorf("check memories collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionMemories,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create memories collection: %w", err)
	}
	return nil
}

// Note is one derived_notes row worth of content, pointed at by a vector.
type Note struct {
	ID         string
	BotID      string
	UserID     string
	Content    string
	Importance float64
	Vector     []float32
}

// Upsert writes (or overwrites) one memory point.
func (s *Store) Upsert(ctx context.Context, note Note) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(note.ID),
		Vectors: qdrant.NewVectors(note.Vector...),
		Payload: map[string]*qdrant.Value{
			"bot_id":     qdrant.NewValueString(note.BotID),
			"user_id":    qdrant.NewValueString(note.UserID),
			"content":    qdrant.NewValueString(note.Content),
			"importance": qdrant.NewValueDouble(note.Importance),
		},
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionMemories,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("upsert memory point: %w", err)
	}
	return nil
}

// Search returns the topK memories closest to vector, scoped to one
// (bot_id, user_id) pair.
func (s *Store) Search(ctx context.Context, vector []float32, botID, userID string, topK uint64) ([]Note, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			matchKeyword("bot_id", botID),
			matchKeyword("user_id", userID),
		},
	}
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionMemories,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	})
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	notes := make([]Note, 0, len(results))
	for _, r := range results {
		payload := r.Payload
		notes = append(notes, Note{
			ID:         r.Id.GetUuid(),
			BotID:      stringField(payload, "bot_id"),
			UserID:     stringField(payload, "user_id"),
			Content:    stringField(payload, "content"),
			Importance: doubleField(payload, "importance"),
		})
	}
	return notes, nil
}

func matchKeyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func doubleField(payload map[string]*qdrant.Value, key string) float64 {
	if v, ok := payload[key]; ok {
		return v.GetDoubleValue()
	}
	return 0
}
