package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userSessionsPrefix = "presence:user:"
	sessionPrefix      = "presence:session:"
)

// RedisRegistry shares presence across nodes. Each session is a JSON value
// keyed by session id, indexed by a per-user set.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisRegistry returns a registry whose session keys expire after ttl
// unless refreshed by Register. A zero ttl keeps keys until Unregister.
func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func (r *RedisRegistry) Register(ctx context.Context, s Session) error {
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = time.Now()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionPrefix+s.ID, data, r.ttl)
		pipe.SAdd(ctx, userSessionsPrefix+s.UserID.String(), s.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, sessionID string) error {
	data, err := r.rdb.Get(ctx, sessionPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		r.rdb.Del(ctx, sessionPrefix+sessionID)
		return nil
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionPrefix+sessionID)
		pipe.SRem(ctx, userSessionsPrefix+s.UserID.String(), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) SessionsFor(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	setKey := userSessionsPrefix + userID.String()
	ids, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, sessionPrefix+id).Result()
		if err == redis.Nil {
			// expired, drop the stale index entry
			r.rdb.SRem(ctx, setKey, id)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		var s Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}
