package store

// migrations is run in order at startup, idempotent via IF NOT EXISTS, the
// same pattern the teacher's db.Store.Migrate uses for its own five tables.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		basic_info JSONB NOT NULL DEFAULT '{}'::jsonb,
		big_five JSONB NOT NULL DEFAULT '{}'::jsonb,
		persona JSONB NOT NULL DEFAULT '{}'::jsonb,
		mood_state JSONB NOT NULL DEFAULT '{}'::jsonb,
		urgent_tasks JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		basic_info JSONB NOT NULL DEFAULT '{}'::jsonb,
		current_stage TEXT NOT NULL DEFAULT 'initiating',
		dimensions JSONB NOT NULL DEFAULT '{}'::jsonb,
		inferred_profile JSONB NOT NULL DEFAULT '{}'::jsonb,
		assets JSONB NOT NULL DEFAULT '{}'::jsonb,
		spt_info JSONB NOT NULL DEFAULT '{}'::jsonb,
		conversation_summary TEXT NOT NULL DEFAULT '',
		urgent_tasks JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (bot_id, external_id)
	);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('user', 'ai', 'system')),
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(user_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		turn_index BIGINT NOT NULL,
		user_text TEXT NOT NULL,
		bot_text TEXT NOT NULL,
		entities JSONB NOT NULL DEFAULT '{}'::jsonb,
		topic TEXT NOT NULL DEFAULT '',
		importance DOUBLE PRECISION NOT NULL DEFAULT 0,
		short_context TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_user_turn ON transcripts(user_id, turn_index);`,
	`CREATE TABLE IF NOT EXISTS derived_notes (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		transcript_id BIGINT NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
		note_type TEXT NOT NULL,
		content TEXT NOT NULL,
		importance DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_derived_notes_user_created ON derived_notes(user_id, created_at);`,
}
