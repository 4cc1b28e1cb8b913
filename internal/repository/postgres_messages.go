package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/domain"

	"github.com/google/uuid"
)

const messageColumns = `id, room_id, sender_id, text, image, reply_to, is_pinned, status, read_at, life_time, created_at, updated_at`

const notExpired = `(life_time IS NULL OR created_at + make_interval(secs => life_time) > $2)`

// statusRank mirrors domain.MessageStatus.Rank for SQL guards.
const statusRank = `CASE %s WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 WHEN 'seen' THEN 2 ELSE -1 END`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m        domain.Message
		replyTo  uuid.NullUUID
		status   string
		readAt   sql.NullTime
		lifeTime sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.Image, &replyTo, &m.IsPinned,
		&status, &readAt, &lifeTime, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = domain.MessageStatus(status)
	if replyTo.Valid {
		id := replyTo.UUID
		m.ReplyTo = &id
	}
	if readAt.Valid {
		at := readAt.Time
		m.ReadAt = &at
	}
	if lifeTime.Valid {
		lt := int(lifeTime.Int64)
		m.LifeTime = &lt
	}
	m.Reactions = []domain.Reaction{}
	return &m, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, room_id, sender_id, text, image, reply_to, is_pinned, status, life_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	var lifeTime sql.NullInt64
	if msg.LifeTime != nil {
		lifeTime = sql.NullInt64{Int64: int64(*msg.LifeTime), Valid: true}
	}
	var replyTo uuid.NullUUID
	if msg.ReplyTo != nil {
		replyTo = uuid.NullUUID{UUID: *msg.ReplyTo, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query, msg.ID, msg.RoomID, msg.SenderID, msg.Text, msg.Image,
		replyTo, msg.IsPinned, string(msg.Status), lifeTime, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s: %w", msg.ID, domain.ErrConflict)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if err := s.attachReactions(ctx, []*domain.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, roomID uuid.UUID, now time.Time) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE room_id = $1 AND ` + notExpired + `
		ORDER BY created_at ASC, id ASC`
	msgs, err := s.queryMessages(ctx, query, roomID, now)
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *PostgresStore) LastMessage(ctx context.Context, roomID uuid.UUID, now time.Time) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE room_id = $1 AND ` + notExpired + `
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, roomID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("last message of room %s: %w", roomID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) attachReactions(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Message, len(msgs))
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, reaction_type
		FROM message_reactions
		WHERE message_id = ANY($1::uuid[])
		ORDER BY created_at ASC
	`, uuidArray(ids))
	if err != nil {
		return fmt.Errorf("failed to fetch reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID uuid.UUID
			r         domain.Reaction
			kind      string
		)
		if err := rows.Scan(&messageID, &r.UserID, &kind); err != nil {
			return err
		}
		r.ReactionType = domain.ReactionType(kind)
		if m := byID[messageID]; m != nil {
			m.Reactions = append(m.Reactions, r)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) UpsertReaction(ctx context.Context, messageID uuid.UUID, reaction domain.Reaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE messages SET updated_at = NOW() WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("failed to touch message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, reaction_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET reaction_type = EXCLUDED.reaction_type
	`, messageID, reaction.UserID, string(reaction.ReactionType))
	if err != nil {
		return fmt.Errorf("failed to upsert reaction: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, messageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2
	`, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove reaction: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) SetPinned(ctx context.Context, messageID uuid.UUID, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_pinned = $2, updated_at = NOW() WHERE id = $1
	`, messageID, pinned)
	if err != nil {
		return fmt.Errorf("failed to pin message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return nil
}

func seenAt(status domain.MessageStatus, at time.Time) sql.NullTime {
	if status == domain.StatusSeen {
		return sql.NullTime{Time: at, Valid: true}
	}
	return sql.NullTime{}
}

func (s *PostgresStore) AdvanceStatus(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus, at time.Time) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("status %q: %w", status, domain.ErrInvalidPayload)
	}
	query := `
		UPDATE messages
		SET status = $2, updated_at = $3, read_at = COALESCE($4, read_at)
		WHERE id = $1 AND ` + fmt.Sprintf(statusRank, "status") + ` < $5
	`
	res, err := s.db.ExecContext(ctx, query, messageID, string(status), at, seenAt(status, at), status.Rank())
	if err != nil {
		return false, fmt.Errorf("failed to advance message status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to advance message status: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetMessage(ctx, messageID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) AdvanceReceipt(ctx context.Context, messageID, userID uuid.UUID, status domain.MessageStatus, at time.Time) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, messageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	if !domain.StatusSent.Advances(status) {
		return false, nil
	}

	query := `
		INSERT INTO message_receipts (message_id, user_id, status, read_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET status = EXCLUDED.status,
			read_at = COALESCE(EXCLUDED.read_at, message_receipts.read_at),
			updated_at = EXCLUDED.updated_at
		WHERE ` + fmt.Sprintf(statusRank, "message_receipts.status") + ` < $6
	`
	res, err := s.db.ExecContext(ctx, query, messageID, userID, string(status), seenAt(status, at), at, status.Rank())
	if err != nil {
		return false, fmt.Errorf("failed to advance receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to advance receipt: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Receipts(ctx context.Context, messageID uuid.UUID) ([]domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, status, read_at, updated_at
		FROM message_receipts
		WHERE message_id = $1
		ORDER BY user_id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipts: %w", err)
	}
	defer rows.Close()

	var receipts []domain.Receipt
	for rows.Next() {
		var (
			rc     domain.Receipt
			status string
			readAt sql.NullTime
		)
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &status, &readAt, &rc.UpdatedAt); err != nil {
			return nil, err
		}
		rc.Status = domain.MessageStatus(status)
		if readAt.Valid {
			at := readAt.Time
			rc.ReadAt = &at
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

func (s *PostgresStore) ExpiredMessages(ctx context.Context, now time.Time, limit int) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE life_time IS NOT NULL AND created_at + make_interval(secs => life_time) <= $1
		ORDER BY created_at ASC
		LIMIT $2`
	// LIMIT NULL is unbounded
	var bound sql.NullInt64
	if limit > 0 {
		bound = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	return s.queryMessages(ctx, query, now, bound)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	return n > 0, nil
}
