package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Barrier = (*RedisBarrier)(nil)

const defaultBarrierTTL = 24 * time.Hour

// RedisBarrier keeps group results in a hash keyed by task index. The
// arrival that observes a full hash and wins the SETNX on the fired key
// runs the continuation.
type RedisBarrier struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisBarrierOption func(*RedisBarrier)

func WithKeyPrefix(prefix string) RedisBarrierOption {
	return func(b *RedisBarrier) { b.prefix = prefix }
}

func WithTTL(ttl time.Duration) RedisBarrierOption {
	return func(b *RedisBarrier) { b.ttl = ttl }
}

func NewRedisBarrier(client redis.UniversalClient, opts ...RedisBarrierOption) *RedisBarrier {
	b := &RedisBarrier{client: client, prefix: "mediagoblin:fanout:", ttl: defaultBarrierTTL}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBarrier) resultsKey(groupID string) string { return b.prefix + groupID + ":results" }
func (b *RedisBarrier) firedKey(groupID string) string   { return b.prefix + groupID + ":fired" }

func (b *RedisBarrier) Arrive(ctx context.Context, groupID string, total int, r Result) ([]Result, bool, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, false, fmt.Errorf("marshal result: %w", err)
	}

	key := b.resultsKey(groupID)
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(r.Index), data)
	pipe.Expire(ctx, key, b.ttl)
	hlen := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("record result for group %s: %w", groupID, err)
	}
	if hlen.Val() < int64(total) {
		return nil, false, nil
	}

	won, err := b.client.SetNX(ctx, b.firedKey(groupID), "1", b.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim group %s: %w", groupID, err)
	}
	if !won {
		return nil, false, nil
	}

	raw, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("read results for group %s: %w", groupID, err)
	}
	out := make([]Result, 0, len(raw))
	for _, v := range raw {
		var res Result
		if err := json.Unmarshal([]byte(v), &res); err != nil {
			return nil, false, fmt.Errorf("decode result for group %s: %w", groupID, err)
		}
		out = append(out, res)
	}
	sortResults(out)
	return out, true, nil
}

// Forget deletes the keys of a fired group.
func (b *RedisBarrier) Forget(ctx context.Context, groupID string) error {
	return b.client.Del(ctx, b.resultsKey(groupID), b.firedKey(groupID)).Err()
}
