package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "vigil:session:"

// RedisStore keeps session history in Redis so multiple engine instances
// share one view of a conversation. Each session is a JSON blob whose TTL
// is refreshed on every recorded turn.
type RedisStore struct {
	client *redis.Client
	maxAge time.Duration
}

// NewRedisStore connects to the given address and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, maxAge time.Duration) (*RedisStore, error) {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis ping %s: %w", addr, err)
	}
	return &RedisStore{client: client, maxAge: maxAge}, nil
}

// Get returns the stored session state, or (nil, nil) when the key is
// missing or expired.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*State, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("session: decode state for %s: %w", sessionID, err)
	}
	return &state, nil
}

// RecordTurn reads, appends, and writes back the session blob. Concurrent
// writers on the same session may lose a turn; history is advisory so the
// simple read-modify-write is acceptable.
func (s *RedisStore) RecordTurn(ctx context.Context, sessionID, identityID string, turn TurnRecord) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &State{
			SessionID: sessionID,
			CreatedAt: turn.Timestamp,
		}
	}
	if identityID != "" {
		state.IdentityID = identityID
	}

	state.Turns = append(state.Turns, turn)
	if len(state.Turns) > maxTurnsPerSession {
		state.Turns = state.Turns[len(state.Turns)-maxTurnsPerSession:]
	}
	state.LastTurnAt = turn.Timestamp
	state.RecentThreatCount = countRecentThreats(state.Turns)

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: encode state for %s: %w", sessionID, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+sessionID, raw, s.maxAge).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Delete removes the session key.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
