// Package store implements the persistence layer (spec §6): the five-table
// schema (bots, users, messages, transcripts, derived_notes) behind
// pgx/v5 and pgxpool, adapted from the teacher's internal/db.Store.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgxpool.Pool, mirroring the teacher's db.Store wrapper.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate runs every idempotent DDL statement in order. Safe to call on
// every startup, same as the teacher's db.Store.Migrate.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

// EnsureBot inserts a bot row if it doesn't exist yet, leaving an existing
// row untouched. Bot rows are seeded out-of-band (operator tooling), not
// created implicitly by a turn.
func (s *Store) EnsureBot(ctx context.Context, botID, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bots (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, botID, name)
	if err != nil {
		return fmt.Errorf("ensure bot: %w", err)
	}
	return nil
}

// EnsureUser inserts a user row with the caller-supplied userID, keyed by
// (bot_id, external_id), if none exists yet; an existing row is left as is.
// It returns only an error, following the teacher's fetch-or-create pattern
// for first-contact rows.
func (s *Store) EnsureUser(ctx context.Context, tx pgx.Tx, botID, externalID, userID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, bot_id, external_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (bot_id, external_id) DO NOTHING`, userID, botID, externalID)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}
