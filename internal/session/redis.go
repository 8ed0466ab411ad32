package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxWatchRetries bounds optimistic retries when another request modified the
// same session between our WATCH and EXEC.
const maxWatchRetries = 10

// RedisStore keeps sessions in Redis as JSON strings with a sliding TTL.
// Update uses WATCH/MULTI so concurrent requests on one session never
// overwrite each other.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
		ttl:    ttl,
	}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Load(ctx context.Context, id string) (*Data, error) {
	return r.get(ctx, r.client, r.key(id))
}

func (r *RedisStore) Update(ctx context.Context, id string, fn func(*Data) error) error {
	key := r.key(id)

	txf := func(tx *redis.Tx) error {
		d, err := r.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("session: marshal: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrStoreContention
}

// Rotate watches both keys, so a write to either one between the read and
// EXEC aborts the transaction and the move is retried.
func (r *RedisStore) Rotate(ctx context.Context, oldID, newID string, fn func(*Data) error) error {
	oldKey, newKey := r.key(oldID), r.key(newID)

	txf := func(tx *redis.Tx) error {
		d, err := r.get(ctx, tx, oldKey)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("session: marshal: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, newKey, payload, r.ttl)
			pipe.Del(ctx, oldKey)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := r.client.Watch(ctx, txf, oldKey, newKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrStoreContention
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) get(ctx context.Context, g getter, key string) (*Data, error) {
	raw, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Data{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	return &d, nil
}
