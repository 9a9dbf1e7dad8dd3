package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client used by RedisStore.
// *redis.Client satisfies it.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps the record under a single key. Save is one SET of the
// whole blob, so readers never see a partial record.
type RedisStore struct {
	client RedisClient
	key    string
}

// NewRedisStore creates a store writing to key.
func NewRedisStore(client RedisClient, key string) *RedisStore {
	if key == "" {
		key = "relaypush:activation:default"
	}
	return &RedisStore{client: client, key: key}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Load returns the record stored under the key.
func (s *RedisStore) Load(ctx context.Context) (PersistedRecord, error) {
	blob, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return emptyRecord(), nil
		}
		return PersistedRecord{}, fmt.Errorf("loading %s: %w", s.key, err)
	}
	return decodeStored(blob)
}

// Save replaces the record stored under the key. The key never expires.
func (s *RedisStore) Save(ctx context.Context, rec PersistedRecord) error {
	blob, err := MarshalRecord(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, blob, 0).Err(); err != nil {
		return fmt.Errorf("saving %s: %w", s.key, err)
	}
	return nil
}
