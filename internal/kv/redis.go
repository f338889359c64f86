package kv

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Each entry is a Redis hash with two fields: "val" holds the payload and
// "ver" holds the CAS version. The scripts below keep the version check and
// the write in one atomic step on the server.
var (
	redisSetScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'val', ARGV[1])
local ver = redis.call('HINCRBY', KEYS[1], 'ver', 1)
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return ver
`)

	redisCASScript = redis.NewScript(`
local ver = redis.call('HGET', KEYS[1], 'ver')
if not ver or ver ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'val', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'ver', 1)
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)
)

// RedisStore implements Store on a Redis-compatible backend.
// This is the recommended backend when more than one instance serves
// long-poll traffic: all instances coordinate through the same keys.
//
// Works with Redis, Dragonfly, Valkey and KeyDB (all via go-redis).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to a Redis-compatible backend.
// url should be in the format: redis://[password@]host:port[/db]
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for KV store")
	return &RedisStore{client: client}, nil
}

// Get returns the current entry for a key, or nil if the key is absent.
func (r *RedisStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	fields, err := r.client.HMGet(ctx, storeKey(namespace, key), "val", "ver").Result()
	if err != nil {
		return nil, fmt.Errorf("kv get %s/%s: %w", namespace, key, err)
	}
	if fields[0] == nil || fields[1] == nil {
		return nil, nil
	}

	value, ok := fields[0].(string)
	if !ok {
		return nil, fmt.Errorf("kv get %s/%s: unexpected value type %T", namespace, key, fields[0])
	}
	verStr, ok := fields[1].(string)
	if !ok {
		return nil, fmt.Errorf("kv get %s/%s: unexpected version type %T", namespace, key, fields[1])
	}
	version, err := strconv.ParseInt(verStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("kv get %s/%s: parse version: %w", namespace, key, err)
	}

	return &Entry{Value: []byte(value), Version: version}, nil
}

// Set writes a value unconditionally and bumps the version.
func (r *RedisStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	err := redisSetScript.Run(ctx, r.client,
		[]string{storeKey(namespace, key)}, value, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("kv set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// CompareAndSwap commits only if the entry's version still matches.
func (r *RedisStore) CompareAndSwap(ctx context.Context, namespace, key string, value []byte, version int64, ttl time.Duration) (bool, error) {
	res, err := redisCASScript.Run(ctx, r.client,
		[]string{storeKey(namespace, key)}, value, strconv.FormatInt(version, 10), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("kv cas %s/%s: %w", namespace, key, err)
	}
	return res == 1, nil
}

// Delete removes an entry.
func (r *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.Del(ctx, storeKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("kv delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	err := r.client.Close()
	log.Info().Msg("Redis KV store closed")
	return err
}
