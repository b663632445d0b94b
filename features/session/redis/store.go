// Package redis implements session.Store on Redis lists so conversation
// history is shared by every agent instance.
//
// Each session maps to the list "chat:history:<sessionID>". Appends push and
// trim in a single transaction and refresh an idle TTL on the key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helioai/lio-agent/runtime/agent/session"
)

type (
	// Options configures the Redis history store.
	Options struct {
		// Client is the Redis connection. Required.
		Client *redis.Client
		// Limit is the number of messages retained per session. Defaults to
		// session.DefaultLimit.
		Limit int
		// TTL expires idle histories. Zero disables expiry.
		TTL time.Duration
		// KeyPrefix defaults to "chat:history:".
		KeyPrefix string
	}

	// Store is a Redis-backed session.Store.
	Store struct {
		rdb    *redis.Client
		limit  int
		ttl    time.Duration
		prefix string
	}
)

const maxTxAttempts = 5

var _ session.Store = (*Store)(nil)

// New returns a Store using the given options.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Limit <= 0 {
		opts.Limit = session.DefaultLimit
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "chat:history:"
	}
	return &Store{rdb: opts.Client, limit: opts.Limit, ttl: opts.TTL, prefix: opts.KeyPrefix}, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return "redis-history" }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Append implements session.Store. The duplicate check and the push run
// under WATCH so concurrent retries of the same turn append once.
func (s *Store) Append(ctx context.Context, sessionID string, msg session.Message) error {
	if sessionID == "" {
		return session.ErrSessionIDRequired
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	key := s.key(sessionID)
	txf := func(tx *redis.Tx) error {
		if msg.RequestID != "" {
			existing, err := tx.LRange(ctx, key, int64(-s.limit), -1).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			for _, e := range existing {
				var m session.Message
				if json.Unmarshal([]byte(e), &m) == nil && session.SameEntry(m, msg) {
					return nil
				}
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, raw)
			pipe.LTrim(ctx, key, int64(-s.limit), -1)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}
	for range maxTxAttempts {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("append history %s: %w", sessionID, err)
	}
	return nil
}

// History implements session.Store.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	if sessionID == "" {
		return nil, session.ErrSessionIDRequired
	}
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	raw, err := s.rdb.LRange(ctx, s.key(sessionID), int64(-limit), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load history %s: %w", sessionID, err)
	}
	out := make([]session.Message, 0, len(raw))
	for _, r := range raw {
		var m session.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Clear implements session.Store.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return session.ErrSessionIDRequired
	}
	if err := s.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear history %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}
