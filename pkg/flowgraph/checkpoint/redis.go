package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in Redis, one string key per thread.
// Use it when several processes serve the same conversations; Lock keeps
// them from running one thread at the same time.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	leaseTTL time.Duration
	closed   atomic.Bool
}

var _ Locker = (*RedisStore)(nil)

const leaseRetry = 50 * time.Millisecond

var (
	renewLease = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseLease = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key prefix. Default: "taskguide:checkpoint:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL expires idle checkpoints after d. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// WithLeaseTTL sets how long a thread lease outlives a crashed holder.
// Live holders renew it. Default: 30s.
func WithLeaseTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

// NewRedisStore wraps an existing client. The store owns the client and
// closes it on Close.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:   client,
		prefix:   "taskguide:checkpoint:",
		leaseTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

// lockKey sits outside the prefix so List never sees leases.
func (s *RedisStore) lockKey(threadID string) string {
	return "lock:" + s.prefix + threadID
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, threadID string, data []byte) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.client.Set(ctx, s.key(threadID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, threadID string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// List implements Store. Redis keeps no modification time, so UpdatedAt
// is read from the checkpoint record itself.
func (s *RedisStore) List(ctx context.Context) ([]Info, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var infos []Info
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		info := Info{
			ThreadID: strings.TrimPrefix(key, s.prefix),
			Size:     int64(len(data)),
		}
		if cp, err := Unmarshal(data); err == nil {
			info.UpdatedAt = cp.Timestamp
		}
		infos = append(infos, info)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan checkpoints: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Lock implements Locker with a SET NX PX lease on the thread, renewed
// while held. It polls until the lease is free or ctx ends.
func (s *RedisStore) Lock(ctx context.Context, threadID string) (func(), error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	key := s.lockKey(threadID)
	token := uuid.NewString()

	retry := time.NewTicker(leaseRetry)
	defer retry.Stop()
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock thread %s: %w", threadID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock thread %s: %w", threadID, ctx.Err())
		case <-retry.C:
		}
	}

	stop, stopped := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(stopped)
		renew := time.NewTicker(s.leaseTTL / 3)
		defer renew.Stop()
		for {
			select {
			case <-stop:
				return
			case <-renew.C:
				_ = renewLease.Run(context.Background(), s.client, []string{key}, token, s.leaseTTL.Milliseconds()).Err()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseLease.Run(releaseCtx, s.client, []string{key}, token).Err()
		})
	}, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
