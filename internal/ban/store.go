// Package ban provides ban management for review actions, backed by Redis.
// Ban records are stored as key-value pairs with TTL-based expiry:
//
//	Key:   ban:<user>
//	Value: <reason>
//	TTL:   ban duration
//
// Repeat offenses escalate through fixed duration tiers tracked by a
// per-user offense counter.
package ban

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for ban records.
	BanPrefix = "ban:"

	// OffensesPrefix is the Redis key prefix for offense counters.
	OffensesPrefix = "offenses:"

	// Escalating ban durations by offense count.
	BanFirst  = 24 * time.Hour
	BanSecond = 7 * 24 * time.Hour
	BanThird  = 30 * 24 * time.Hour

	// OffensesTTL is how long the offense counter lives without new
	// offenses before resetting to zero.
	OffensesTTL = 90 * 24 * time.Hour
)

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks whether a user is currently banned.
// Returns (isBanned, remaining, reason, error). Redis errors are returned so
// callers can decide how to handle them; the recommended policy is
// fail-open.
func (s *Store) IsBanned(ctx context.Context, user string) (bool, time.Duration, string, error) {
	key := BanPrefix + user

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The ban exists but the TTL is unreadable. Report banned with 0
		// remaining rather than swallowing the ban.
		return true, 0, reason, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, reason, nil
}

// Ban records an offense for the user and bans them for the escalation
// tier's duration. Returns the applied duration.
func (s *Store) Ban(ctx context.Context, user, reason string) (time.Duration, error) {
	offenseKey := OffensesPrefix + user
	count, err := s.client.Incr(ctx, offenseKey).Result()
	if err != nil {
		return 0, err
	}
	if err := s.client.Expire(ctx, offenseKey, OffensesTTL).Err(); err != nil {
		return 0, err
	}

	duration := BanFirst
	switch {
	case count >= 3:
		duration = BanThird
	case count == 2:
		duration = BanSecond
	}

	if err := s.client.Set(ctx, BanPrefix+user, reason, duration).Err(); err != nil {
		return 0, err
	}
	return duration, nil
}

// Unban lifts a ban immediately. The offense counter is kept so a repeat
// offense still escalates.
func (s *Store) Unban(ctx context.Context, user string) error {
	return s.client.Del(ctx, BanPrefix+user).Err()
}
