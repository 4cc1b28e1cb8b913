package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"roomchat/internal/domain"

	"github.com/google/uuid"
)

func (s *PostgresStore) GetRelationship(ctx context.Context, from, to uuid.UUID) (*domain.Relationship, error) {
	var (
		rel     domain.Relationship
		relType string
		roomID  uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, from_id, to_id, relationship_type, room_id, created_at, updated_at
		FROM relationships
		WHERE from_id = $1 AND to_id = $2
	`, from, to).Scan(&rel.ID, &rel.From, &rel.To, &relType, &roomID, &rel.CreatedAt, &rel.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship: %w", err)
	}
	rel.RelationshipType = domain.RelationshipType(relType)
	if roomID.Valid {
		id := roomID.UUID
		rel.RoomID = &id
	}
	return &rel, nil
}

// Block is a conditional upsert: an existing block row is left untouched and
// reported as ErrAlreadyBlocked, so concurrent blocks leave one record.
func (s *PostgresStore) Block(ctx context.Context, from, to uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, to_id, relationship_type)
		VALUES ($1, $2, $3, 'block')
		ON CONFLICT (from_id, to_id) DO UPDATE
		SET relationship_type = 'block', updated_at = NOW()
		WHERE relationships.relationship_type <> 'block'
	`, uuid.New(), from, to)
	if err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}
	if n == 0 {
		return domain.ErrAlreadyBlocked
	}
	return nil
}

func (s *PostgresStore) Unblock(ctx context.Context, from, to uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		relType string
		roomID  uuid.NullUUID
	)
	err = tx.QueryRowContext(ctx, `
		SELECT relationship_type, room_id
		FROM relationships
		WHERE from_id = $1 AND to_id = $2
		FOR UPDATE
	`, from, to).Scan(&relType, &roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotBlocked
	}
	if err != nil {
		return fmt.Errorf("failed to load relationship: %w", err)
	}
	if domain.RelationshipType(relType) != domain.RelationshipBlock {
		return domain.ErrNotBlocked
	}

	if roomID.Valid {
		_, err = tx.ExecContext(ctx, `
			UPDATE relationships SET relationship_type = 'friend', updated_at = NOW()
			WHERE from_id = $1 AND to_id = $2
		`, from, to)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM relationships WHERE from_id = $1 AND to_id = $2`, from, to)
	}
	if err != nil {
		return fmt.Errorf("failed to unblock user: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) LinkRoom(ctx context.Context, from, to, roomID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, to_id, relationship_type, room_id)
		VALUES ($1, $2, $3, 'friend', $4)
		ON CONFLICT (from_id, to_id) DO UPDATE
		SET room_id = EXCLUDED.room_id, updated_at = NOW()
	`, uuid.New(), from, to, roomID)
	if err != nil {
		return fmt.Errorf("failed to link relationship room: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var blocked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM relationships
			WHERE relationship_type = 'block'
			AND ((from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1))
		)
	`, a, b).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}
	return blocked, nil
}

func (s *PostgresStore) BlockedBy(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, `
		SELECT to_id FROM relationships WHERE from_id = $1 AND relationship_type = 'block'
	`, userID)
}

func (s *PostgresStore) BlockersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, `
		SELECT from_id FROM relationships WHERE to_id = $1 AND relationship_type = 'block'
	`, userID)
}

func (s *PostgresStore) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relationships: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
