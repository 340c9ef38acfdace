package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore keeps the scene generation in Redis so several viewer
// processes sharing one session store agree on which objects are current.
//
// With a TTL, the counter of an abandoned session expires; every Snapshot
// and Bump slides the expiry forward, so a session in use never loses it.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string        // session namespace
	ttl time.Duration // 0 disables expiry
}

var _ GenStore = (*RedisGenStore)(nil)

func NewRedisGenStore(client redis.UniversalClient, namespace string) *RedisGenStore {
	return NewRedisGenStoreWithTTL(client, namespace, 0)
}

func NewRedisGenStoreWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisGenStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisGenStore{rdb: client, ns: namespace, ttl: ttl}
}

func (s *RedisGenStore) key(k string) string { return "sceneshare:gen:" + s.ns + ":" + k }

// Snapshot returns the current generation; a missing or expired key is 0.
func (s *RedisGenStore) Snapshot(ctx context.Context, key string) (uint64, error) {
	k := s.key(key)
	var cmd *redis.StringCmd
	if s.ttl > 0 {
		cmd = s.rdb.GetEx(ctx, k, s.ttl)
	} else {
		cmd = s.rdb.Get(ctx, k)
	}
	res, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	g, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("genstore: corrupt generation at %s: %w", k, err)
	}
	return g, nil
}

// Bump increments the generation. With a TTL, INCR and EXPIRE run in one
// MULTI/EXEC so the counter never exists without an expiry.
func (s *RedisGenStore) Bump(ctx context.Context, key string) (uint64, error) {
	k := s.key(key)
	if s.ttl == 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	if _, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	}); err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Close closes the Redis client; the store owns it.
func (s *RedisGenStore) Close(context.Context) error { return s.rdb.Close() }
