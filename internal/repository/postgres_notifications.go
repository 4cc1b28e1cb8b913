package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"roomchat/internal/domain"

	"github.com/google/uuid"
)

func (s *PostgresStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payload []byte
	if len(n.Payload) > 0 {
		payload = n.Payload
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications (id, sender_id, notification_type, room_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.SenderID, string(n.NotificationType), n.RoomID, n.EventType, payload, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	for _, r := range n.Receivers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notification_receivers (notification_id, user_id, read)
			VALUES ($1, $2, $3)
		`, n.ID, r.UserID, r.Read)
		if err != nil {
			return fmt.Errorf("failed to insert notification receiver: %w", err)
		}
	}

	return tx.Commit()
}

const notificationColumns = `n.id, n.sender_id, n.notification_type, n.room_id, n.event_type, n.payload, n.created_at`

func (s *PostgresStore) NotificationsFor(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications n
		JOIN notification_receivers nr ON nr.notification_id = n.id
		WHERE nr.user_id = $1 AND ($2 = FALSE OR nr.read = FALSE)
		ORDER BY n.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	defer rows.Close()

	var list []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachReceivers(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *PostgresStore) LatestNotification(ctx context.Context, senderID, receiverID uuid.UUID, notificationType domain.NotificationType) (*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications n
		JOIN notification_receivers nr ON nr.notification_id = n.id
		WHERE n.sender_id = $1 AND nr.user_id = $2 AND n.notification_type = $3
		ORDER BY n.created_at DESC
		LIMIT 1
	`
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, senderID, receiverID, string(notificationType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest notification: %w", err)
	}
	if err := s.attachReceivers(ctx, []*domain.Notification{n}); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_receivers SET read = TRUE
		WHERE notification_id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n       domain.Notification
		kind    string
		payload []byte
	)
	if err := row.Scan(&n.ID, &n.SenderID, &kind, &n.RoomID, &n.EventType, &payload, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.NotificationType = domain.NotificationType(kind)
	if len(payload) > 0 {
		n.Payload = json.RawMessage(payload)
	}
	return &n, nil
}

func (s *PostgresStore) attachReceivers(ctx context.Context, list []*domain.Notification) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Notification, len(list))
	ids := make([]uuid.UUID, 0, len(list))
	for _, n := range list {
		byID[n.ID] = n
		ids = append(ids, n.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT notification_id, user_id, read
		FROM notification_receivers
		WHERE notification_id = ANY($1::uuid[])
		ORDER BY notification_id, user_id
	`, uuidArray(ids))
	if err != nil {
		return fmt.Errorf("failed to fetch notification receivers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			notificationID uuid.UUID
			r              domain.NotificationReceiver
		)
		if err := rows.Scan(&notificationID, &r.UserID, &r.Read); err != nil {
			return err
		}
		if n := byID[notificationID]; n != nil {
			n.Receivers = append(n.Receivers, r)
		}
	}
	return rows.Err()
}
