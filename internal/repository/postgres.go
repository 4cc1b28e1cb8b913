package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store on database/sql with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT '',
			user_name TEXT NOT NULL UNIQUE,
			avatar TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS rooms (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			room_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS room_members (
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			nick_name TEXT,
			position INTEGER NOT NULL,
			PRIMARY KEY (room_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members(user_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id UUID NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			image TEXT NOT NULL DEFAULT '',
			reply_to UUID,
			is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'sent',
			read_at TIMESTAMPTZ,
			life_time INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_ephemeral
		ON messages(created_at)
		WHERE life_time IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			reaction_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS message_receipts (
			message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			status TEXT NOT NULL,
			read_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS relationships (
			id UUID PRIMARY KEY,
			from_id UUID NOT NULL,
			to_id UUID NOT NULL,
			relationship_type TEXT NOT NULL,
			room_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (from_id, to_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			sender_id UUID NOT NULL,
			notification_type TEXT NOT NULL,
			room_id UUID NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS notification_receivers (
			notification_id UUID NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (notification_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_notification_receivers_user ON notification_receivers(user_id, read)`,

		`CREATE TABLE IF NOT EXISTS active_sessions (
			session_id TEXT PRIMARY KEY,
			user_id UUID NOT NULL,
			node_id TEXT NOT NULL,
			connected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_active_sessions_user ON active_sessions(user_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// uuidArray binds ids as a text[] parameter; queries cast it with ::uuid[].
func uuidArray(ids []uuid.UUID) pq.StringArray {
	arr := make(pq.StringArray, len(ids))
	for i, id := range ids {
		arr[i] = id.String()
	}
	return arr
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
