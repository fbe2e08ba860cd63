package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/models"
)

// DefaultLockTTL is how long the run lock survives without a refresh
const DefaultLockTTL = 30 * time.Second

// ErrLockLost is returned on release when the run lock expired or changed hands while
// the run was still going
var ErrLockLost = errors.New("run lock was lost before release")

// refreshLock extends the lock only while we still own it
var refreshLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// releaseLock deletes the lock only while we still own it
var releaseLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore stores submission records in Redis as JSON documents.
// Durability of acknowledged writes depends on the server's AOF settings.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewRedisStore initializes a Redis-backed record store.
func NewRedisStore(addr, prefix string, lockTTL time.Duration) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, lockTTL)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, lockTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "submitter:"
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &RedisStore{client: client, prefix: prefix, lockTTL: lockTTL, logger: zap.NewNop()}
}

// WithLogger sets the logger used for lock maintenance.
func (s *RedisStore) WithLogger(logger *zap.Logger) *RedisStore {
	if logger != nil {
		s.logger = logger.Named("redis_store")
	}
	return s
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + "record:" + key
}

func (s *RedisStore) lockKey() string {
	return s.prefix + "lock"
}

// Load reads a record from Redis.
func (s *RedisStore) Load(ctx context.Context, key string) (*models.SubmissionRecord, error) {
	val, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var rec models.SubmissionRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", key, err)
	}
	return &rec, nil
}

// Create writes rec unless a record already exists for its key.
func (s *RedisStore) Create(ctx context.Context, rec *models.SubmissionRecord) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.recordKey(rec.TargetKey), payload, 0).Result()
}

// Swap replaces the record inside a WATCH transaction if the stored version matches.
func (s *RedisStore) Swap(ctx context.Context, rec *models.SubmissionRecord, expected int64) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	key := s.recordKey(rec.TargetKey)
	swapped := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var cur models.SubmissionRecord
		if err := json.Unmarshal(val, &cur); err != nil {
			return err
		}
		if cur.Version != expected {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return swapped, nil
}

// List scans every record under the prefix.
func (s *RedisStore) List(ctx context.Context) ([]models.SubmissionRecord, error) {
	var recs []models.SubmissionRecord
	iter := s.client.Scan(ctx, 0, s.recordKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		rec, err := s.Load(ctx, strings.TrimPrefix(iter.Val(), s.recordKey("")))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, *rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].TargetKey < recs[j].TargetKey })
	return recs, nil
}

// Acquire sets the lock key with a TTL and keeps refreshing it until released.
func (s *RedisStore) Acquire(ctx context.Context, owner string) (func(context.Context) error, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(), owner, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to set lock: %w", err)
	}
	if !ok {
		holder, _ := s.client.Get(ctx, s.lockKey()).Result()
		return nil, fmt.Errorf("%w: held by %s", models.ErrLocked, holder)
	}

	stop := make(chan struct{})
	var (
		wg   sync.WaitGroup
		lost bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !s.refresh(owner) {
					lost = true
					return
				}
			}
		}
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			wg.Wait()
			err = releaseLock.Run(ctx, s.client, []string{s.lockKey()}, owner).Err()
			if lost {
				err = errors.Join(ErrLockLost, err)
			}
		})
		return err
	}
	return release, nil
}

// refresh extends the lock TTL. It reports false once the lock belongs to someone else or
// has expired; a failed call is logged and retried on the next tick.
func (s *RedisStore) refresh(owner string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL/3)
	defer cancel()

	n, err := refreshLock.Run(ctx, s.client, []string{s.lockKey()}, owner, s.lockTTL.Milliseconds()).Int()
	if err != nil {
		s.logger.Warn("Failed to refresh run lock", zap.String("owner", owner), zap.Error(err))
		return true
	}
	if n == 0 {
		holder, _ := s.client.Get(ctx, s.lockKey()).Result()
		s.logger.Error("Run lock lost, another run may write to the store",
			zap.String("owner", owner), zap.String("holder", holder))
		return false
	}
	return true
}
