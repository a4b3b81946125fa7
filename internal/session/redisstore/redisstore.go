package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tveshas/quizagent/internal/solver"
)

const (
	keyPrefix = "quizagent:session:"
	indexKey  = "quizagent:sessions"
)

// Store persists session snapshots in Redis so status survives restarts and
// is visible across replicas. Sessions expire after TTL; the recency index
// is trimmed on write.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore wraps an existing Redis client.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Save(ctx context.Context, sess *solver.QuizSession) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+sess.ID, payload, s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(sess.UpdatedAt.UnixMilli()),
		Member: sess.ID,
	})
	pipe.ZRemRangeByRank(ctx, indexKey, 0, -1001)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*solver.QuizSession, error) {
	raw, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var sess solver.QuizSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*solver.QuizSession, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*solver.QuizSession, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			// Expired entries linger in the index; skip them.
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}
