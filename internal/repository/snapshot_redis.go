package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

const (
	snapshotKeyPrefix = "dialogue:v1:"
	lockKeyPrefix     = "dialogue:lock:"
	lockPollInterval  = 25 * time.Millisecond
)

type redisSnapshotDocument struct {
	Document  json.RawMessage `json:"document"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type redisSnapshotStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisSnapshotStore stores snapshots as JSON strings. A zero retention
// keeps snapshots forever.
func NewRedisSnapshotStore(client redis.UniversalClient, retention time.Duration) SnapshotStore {
	return &redisSnapshotStore{client: client, retention: retention}
}

func snapshotRedisKey(channelNumberID, userID string) string {
	return snapshotKeyPrefix + domain.SnapshotKey(channelNumberID, userID)
}

func (s *redisSnapshotStore) Get(ctx context.Context, channelNumberID, userID string) (*domain.DialogueSnapshot, error) {
	raw, err := s.client.Get(ctx, snapshotRedisKey(channelNumberID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var doc redisSnapshotDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &domain.DialogueSnapshot{
		ChannelNumberID: channelNumberID,
		UserID:          userID,
		Document:        doc.Document,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

func (s *redisSnapshotStore) Upsert(ctx context.Context, snap *domain.DialogueSnapshot) error {
	raw, err := json.Marshal(redisSnapshotDocument{
		Document:  snap.Document,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotRedisKey(snap.ChannelNumberID, snap.UserID), raw, s.retention).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type redisLocker struct {
	client     redis.UniversalClient
	ttl        time.Duration
	wait       time.Duration
	renewEvery time.Duration
}

// NewRedisLocker returns a lease-based lock. ttl bounds how long a crashed
// holder can block others; a live holder keeps its lease renewed until it
// releases. wait bounds how long Acquire polls.
func NewRedisLocker(client redis.UniversalClient, ttl, wait time.Duration) SnapshotLocker {
	return &redisLocker{client: client, ttl: ttl, wait: wait, renewEvery: ttl / 3}
}

func (l *redisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	lockKey := lockKeyPrefix + key
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.renew(lockKey, token, stop, done)

			var once sync.Once
			return func(ctx context.Context) error {
				once.Do(func() {
					close(stop)
					<-done
				})
				return releaseLockScript.Run(ctx, l.client, []string{lockKey}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// renew extends the lease while the holder runs. It stops on release or
// once the key no longer carries token.
func (l *redisLocker) renew(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if l.renewEvery <= 0 {
		return
	}
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.renewEvery)
			held, err := extendLockScript.Run(ctx, l.client, []string{lockKey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				return
			}
		}
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
