package presence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresRegistry keeps sessions in the active_sessions table.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) Register(ctx context.Context, s Session) error {
	query := `
		INSERT INTO active_sessions (session_id, user_id, node_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE
		SET user_id = $2, node_id = $3, connected_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.NodeID)
	if err != nil {
		return fmt.Errorf("failed to add session: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Unregister(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) SessionsFor(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, user_id, node_id, connected_at
		FROM active_sessions
		WHERE user_id = $1
		ORDER BY session_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.NodeID, &s.ConnectedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// PurgeNode drops every session recorded for nodeID, used at startup to clear
// sessions left behind by a crashed process.
func (r *PostgresRegistry) PurgeNode(ctx context.Context, nodeID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE node_id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("failed to purge node sessions: %w", err)
	}
	return nil
}
