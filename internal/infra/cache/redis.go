// Package cache mirrors the active ledger session into Redis so other
// processes (UI panels, workers) can read the current account cheaply.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workforce-ai/compute/internal/domain"
)

// KeyPrefix namespaces every session key.
const KeyPrefix = "compute:session:"

// DefaultTTL bounds how long a mirrored session outlives its last update.
const DefaultTTL = 12 * time.Hour

// Connect creates a Redis client from a redis:// URL or a host:port address.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// SessionKey returns the Redis key holding identity's session.
func SessionKey(identity string) string {
	return KeyPrefix + identity
}

// SessionMirror implements domain.SessionMirror on Redis.
type SessionMirror struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewSessionMirror creates a mirror writing through client. A ttl <= 0
// uses DefaultTTL.
func NewSessionMirror(client redis.Cmdable, ttl time.Duration) *SessionMirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionMirror{client: client, ttl: ttl}
}

// Mirror stores the account as JSON, refreshing the TTL.
func (m *SessionMirror) Mirror(ctx context.Context, acct domain.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return m.client.Set(ctx, SessionKey(acct.Identity), data, m.ttl).Err()
}

// Clear removes identity's session.
func (m *SessionMirror) Clear(ctx context.Context, identity string) error {
	return m.client.Del(ctx, SessionKey(identity)).Err()
}

// Session reads back identity's mirrored account. ok is false when no
// session is stored.
func (m *SessionMirror) Session(ctx context.Context, identity string) (acct domain.Account, ok bool, err error) {
	data, err := m.client.Get(ctx, SessionKey(identity)).Bytes()
	if err == redis.Nil {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, err
	}
	if err := json.Unmarshal(data, &acct); err != nil {
		return domain.Account{}, false, fmt.Errorf("decode session: %w", err)
	}
	return acct, true, nil
}
