package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"roomchat/internal/domain"

	"github.com/google/uuid"
)

func (s *PostgresStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, full_name, user_name, avatar)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name, user_name = EXCLUDED.user_name, avatar = EXCLUDED.avatar
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query, user.ID, user.FullName, user.UserName, user.Avatar).Scan(&user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user name %q taken: %w", user.UserName, domain.ErrConflict)
		}
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, user_name, avatar, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.FullName, &u.UserName, &u.Avatar, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) UsersByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryUsers(ctx, `
		SELECT id, full_name, user_name, avatar, created_at
		FROM users
		WHERE id = ANY($1::uuid[])
		ORDER BY user_name, id
	`, uuidArray(ids))
}

func (s *PostgresStore) ListUsers(ctx context.Context, exclude []uuid.UUID) ([]domain.User, error) {
	return s.queryUsers(ctx, `
		SELECT id, full_name, user_name, avatar, created_at
		FROM users
		WHERE NOT (id = ANY($1::uuid[]))
		ORDER BY user_name, id
	`, uuidArray(exclude))
}

func (s *PostgresStore) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.UserName, &u.Avatar, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, room_type, created_at)
		VALUES ($1, $2, $3, $4)
	`, room.ID, room.Name, string(room.RoomType), room.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("room %s: %w", room.ID, domain.ErrConflict)
		}
		return fmt.Errorf("failed to insert room: %w", err)
	}

	for i, m := range room.Members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO room_members (room_id, user_id, nick_name, position)
			VALUES ($1, $2, $3, $4)
		`, room.ID, m.UserID, m.NickName, i)
		if err != nil {
			return fmt.Errorf("failed to insert room member: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	var (
		r        domain.Room
		roomType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, room_type, created_at FROM rooms WHERE id = $1
	`, id).Scan(&r.ID, &r.Name, &roomType, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	r.RoomType = domain.RoomType(roomType)

	members, err := s.membersOf(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	r.Members = members[id]
	return &r, nil
}

func (s *PostgresStore) RoomsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.room_type, r.created_at
		FROM rooms r
		JOIN room_members rm ON rm.room_id = r.id
		WHERE rm.user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rooms: %w", err)
	}
	defer rows.Close()

	var (
		rooms []*domain.Room
		ids   []uuid.UUID
	)
	for rows.Next() {
		var (
			r        domain.Room
			roomType string
		)
		if err := rows.Scan(&r.ID, &r.Name, &roomType, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.RoomType = domain.RoomType(roomType)
		rooms = append(rooms, &r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, nil
	}

	members, err := s.membersOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		r.Members = members[r.ID]
	}
	return rooms, nil
}

func (s *PostgresStore) membersOf(ctx context.Context, roomIDs []uuid.UUID) (map[uuid.UUID][]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id, nick_name
		FROM room_members
		WHERE room_id = ANY($1::uuid[])
		ORDER BY room_id, position
	`, uuidArray(roomIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room members: %w", err)
	}
	defer rows.Close()

	members := make(map[uuid.UUID][]domain.Member, len(roomIDs))
	for rows.Next() {
		var (
			roomID uuid.UUID
			m      domain.Member
			nick   sql.NullString
		)
		if err := rows.Scan(&roomID, &m.UserID, &nick); err != nil {
			return nil, err
		}
		if nick.Valid {
			m.NickName = &nick.String
		}
		members[roomID] = append(members[roomID], m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) FindDirectRoom(ctx context.Context, a, b uuid.UUID) (*domain.Room, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id
		FROM rooms r
		JOIN room_members ma ON ma.room_id = r.id AND ma.user_id = $1
		JOIN room_members mb ON mb.room_id = r.id AND mb.user_id = $2
		WHERE r.room_type = 'direct'
		LIMIT 1
	`, a, b).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("direct room: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find direct room: %w", err)
	}
	return s.GetRoom(ctx, id)
}

func (s *PostgresStore) SetNickname(ctx context.Context, roomID, userID uuid.UUID, nickName *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE room_members SET nick_name = $3 WHERE room_id = $1 AND user_id = $2
	`, roomID, userID, nickName)
	if err != nil {
		return fmt.Errorf("failed to set nickname: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set nickname: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("member %s of room %s: %w", userID, roomID, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteRoomCascade(ctx context.Context, roomID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock room: %w", err)
	}

	steps := []struct {
		name  string
		query string
	}{
		{"reactions", `DELETE FROM message_reactions WHERE message_id IN (SELECT id FROM messages WHERE room_id = $1)`},
		{"receipts", `DELETE FROM message_receipts WHERE message_id IN (SELECT id FROM messages WHERE room_id = $1)`},
		{"messages", `DELETE FROM messages WHERE room_id = $1`},
		{"relationships", `DELETE FROM relationships WHERE room_id = $1 AND relationship_type <> 'block'`},
		{"relationships", `UPDATE relationships SET room_id = NULL, updated_at = NOW() WHERE room_id = $1`},
		{"members", `DELETE FROM room_members WHERE room_id = $1`},
		{"room", `DELETE FROM rooms WHERE id = $1`},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, roomID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", step.name, err)
		}
	}

	return tx.Commit()
}
