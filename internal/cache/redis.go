// internal/cache/redis.go
// Redis implementation of BucketStore, for deployments where the gateway
// process restarts more often than the cache should be dropped.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// bucketSetKey tracks the set of existing bucket names.
const bucketSetKey = "fishnet:cache:buckets"

// redisBuckets implements BucketStore on a Redis hash per bucket.
type redisBuckets struct {
	client *redis.Client
	ttl    time.Duration // Expiry refreshed on every Put; zero disables expiry
}

// NewRedisBuckets connects to Redis and returns a bucket store backed by it.
// Parameters:
//   - addr: Redis address (host:port)
//   - password: Redis password, empty for none
//   - db: Redis database number
//   - ttl: bucket expiry refreshed on every write, zero for no expiry
func NewRedisBuckets(ctx context.Context, addr, password string, db int, ttl time.Duration) (BucketStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBuckets{client: client, ttl: ttl}, nil
}

// bucketKey builds the Redis key holding one bucket's entries.
func bucketKey(bucket string) string {
	return "fishnet:cache:bucket:" + bucket
}

func (r *redisBuckets) Put(ctx context.Context, bucket, key string, resp CachedResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal cached response: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, bucketKey(bucket), key, payload)
	pipe.SAdd(ctx, bucketSetKey, bucket)
	if r.ttl > 0 {
		pipe.Expire(ctx, bucketKey(bucket), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (r *redisBuckets) Get(ctx context.Context, bucket, key string) (*CachedResponse, error) {
	payload, err := r.client.HGet(ctx, bucketKey(bucket), key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var resp CachedResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal cached response: %w", err)
	}
	return &resp, nil
}

func (r *redisBuckets) Buckets(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, bucketSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list buckets: %w", err)
	}
	return names, nil
}

func (r *redisBuckets) DeleteBucket(ctx context.Context, bucket string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, bucketKey(bucket))
	pipe.SRem(ctx, bucketSetKey, bucket)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete bucket: %w", err)
	}
	return nil
}
