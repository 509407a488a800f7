package kvstore

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// updateRetries bounds the optimistic WATCH/MULTI loop in Update.
const updateRetries = 16

// RedisStore implements Store on a single Redis instance. The go-redis
// client pools connections internally; one RedisStore is shared by the whole
// process and passed to each component.
type RedisStore struct {
	rdb *redis.Client
}

// DialRedis connects to Redis and verifies the connection with a ping.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, err
	}
	log.Printf("✅ Redis connected at %s", addr)
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(cur []byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}
	for i := 0; i < updateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// RecordAndCount keeps the sliding window as a sorted set scored by unix
// milliseconds. Members get a uuid suffix so simultaneous events within the
// same millisecond do not collapse into one entry.
func (s *RedisStore) RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: uuid.NewString()})
		pipe.ZRemRangeByScore(ctx, key, "0", "("+strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		// Keys expire on their own once the identity goes quiet.
		pipe.Expire(ctx, key, window+time.Second)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	count := card.Val()
	old := now
	if zs := oldest.Val(); len(zs) > 0 {
		old = time.UnixMilli(int64(zs[0].Score))
	}
	return count, old, nil
}

func (s *RedisStore) Push(ctx context.Context, queue string, value []byte) error {
	return s.rdb.RPush(ctx, queue, value).Err()
}

func (s *RedisStore) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	// BLPOP resolves timeouts in whole seconds; anything smaller would block
	// forever, so clamp.
	if timeout < time.Second {
		timeout = time.Second
	}
	res, err := s.rdb.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	// BLPOP returns [queue, value].
	return []byte(res[1]), nil
}

func (s *RedisStore) Len(ctx context.Context, queue string) (int64, error) {
	return s.rdb.LLen(ctx, queue).Result()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
