package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one journaled event. Payload stays raw; readers decode what they
// need by Type.
type Record struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	RoomID    uuid.UUID       `json:"room_id"`
	RoomType  string          `json:"room_type"`
	ActorID   uuid.UUID       `json:"actor_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func Decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal journal record: %w", err)
	}
	if rec.ID == uuid.Nil || rec.Type == "" {
		return Record{}, fmt.Errorf("journal record missing id or type")
	}
	return rec, nil
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	RoomID uuid.UUID
	Types  []string
}

func (f Filter) Match(rec Record) bool {
	if f.RoomID != uuid.Nil && rec.RoomID != f.RoomID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == rec.Type {
			return true
		}
	}
	return false
}
