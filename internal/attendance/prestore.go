package attendance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// PreCapture is a facial capture taken while the room had no open session.
// It waits in a room-keyed buffer until a session opens there.
type PreCapture struct {
	StudentID string    `json:"student_id"`
	TotemID   string    `json:"totem_id"`
	TakenAt   time.Time `json:"taken_at"`
}

// PreStore buffers pre-captures per room.
type PreStore interface {
	Add(ctx context.Context, roomID string, pc PreCapture) error
	Drain(ctx context.Context, roomID string) ([]PreCapture, error)
}

// RedisPreStore keeps pre-captures in a redis list per room with a TTL so
// stale captures from rooms that never open a session expire on their own.
type RedisPreStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPreStore creates a buffer with the given key prefix.
func NewRedisPreStore(client *redis.Client, prefix string, ttl time.Duration) *RedisPreStore {
	if prefix == "" {
		prefix = "presenca:pre"
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisPreStore{client: client, prefix: prefix, ttl: ttl}
}

var _ PreStore = (*RedisPreStore)(nil)

func (p *RedisPreStore) key(roomID string) string { return p.prefix + ":" + roomID }

// Add appends a capture to the room buffer.
func (p *RedisPreStore) Add(ctx context.Context, roomID string, pc PreCapture) error {
	body, err := json.Marshal(pc)
	if err != nil {
		return err
	}
	key := p.key(roomID)
	if err := p.client.RPush(ctx, key, body).Err(); err != nil {
		return err
	}
	return p.client.Expire(ctx, key, p.ttl).Err()
}

// Drain returns and clears the room buffer in capture order.
func (p *RedisPreStore) Drain(ctx context.Context, roomID string) ([]PreCapture, error) {
	key := p.key(roomID)
	items, err := p.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if err := p.client.Del(ctx, key).Err(); err != nil {
		return nil, err
	}
	out := make([]PreCapture, 0, len(items))
	for _, item := range items {
		var pc PreCapture
		if err := json.Unmarshal([]byte(item), &pc); err != nil {
			continue
		}
		out = append(out, pc)
	}
	return out, nil
}
