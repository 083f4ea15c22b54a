// Package mirror keeps a best-effort remote copy of the alert log in a
// Redis hash keyed by record id. The mirror never blocks or fails an
// alert; the durable log on disk stays authoritative.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solboy/solalerts/internal/config"
	"github.com/solboy/solalerts/internal/domain"
)

// Store is the remote side of the mirror.
type Store interface {
	Put(ctx context.Context, recs []domain.AlertRecord) error
	IDs(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, ids []string) ([]domain.AlertRecord, error)
	Close() error
}

// RedisStore mirrors records into one hash, field = record id, value =
// the serialized record.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to the configured instance. The connection is
// verified lazily; a down mirror only surfaces as push failures.
func NewRedisStore(cfg config.MirrorConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, key: cfg.Key}
}

func (s *RedisStore) Put(ctx context.Context, recs []domain.AlertRecord) error {
	if len(recs) == 0 {
		return nil
	}
	fields := make([]interface{}, 0, len(recs)*2)
	for _, rec := range recs {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", rec.ID, err)
		}
		fields = append(fields, rec.ID, b)
	}
	if err := s.client.HSet(ctx, s.key, fields...).Err(); err != nil {
		return err
	}
	// Sidecar key so operators can see mirror freshness at a glance.
	return s.client.Set(ctx, s.key+":last_updated", time.Now().UTC().Format(time.RFC3339), 0).Err()
}

func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	return s.client.HKeys(ctx, s.key).Result()
}

func (s *RedisStore) Fetch(ctx context.Context, ids []string) ([]domain.AlertRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.key, ids...).Result()
	if err != nil {
		return nil, err
	}
	recs := make([]domain.AlertRecord, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.AlertRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", ids[i], err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
