package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/taskboard-live/backend/internal/model"
)

// DefaultRedisPrefix is the key prefix for roster keys.
const DefaultRedisPrefix = "taskboard:presence:"

// RedisStore keeps each board's roster as a JSON value under its own key.
// It lets the roster outlive a process restart and is the hook for a future
// multi-instance deployment; a single process still owns a board's session.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix sets the key prefix for roster keys.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis backed store.
func NewRedisStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(boardID string) string {
	return s.prefix + boardID
}

// Load fetches and decodes the roster for boardID.
func (s *RedisStore) Load(ctx context.Context, boardID string) ([]model.Participant, error) {
	data, err := s.client.Get(ctx, s.key(boardID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load roster %s: %w", boardID, err)
	}

	var roster []model.Participant
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("decode roster %s: %w", boardID, err)
	}
	return roster, nil
}

// Save encodes and stores roster without expiry.
func (s *RedisStore) Save(ctx context.Context, boardID string, roster []model.Participant) error {
	data, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("encode roster %s: %w", boardID, err)
	}
	if err := s.client.Set(ctx, s.key(boardID), data, 0).Err(); err != nil {
		return fmt.Errorf("save roster %s: %w", boardID, err)
	}
	return nil
}

// Delete removes the roster key.
func (s *RedisStore) Delete(ctx context.Context, boardID string) error {
	if err := s.client.Del(ctx, s.key(boardID)).Err(); err != nil {
		return fmt.Errorf("delete roster %s: %w", boardID, err)
	}
	return nil
}

// Reset deletes every roster key under the prefix. A restarted server calls
// it before accepting connections, since rosters left by the previous
// process name connections that no longer exist. It returns the number of
// keys removed.
func (s *RedisStore) Reset(ctx context.Context) (int, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan rosters: %w", err)
	}

	removed := 0
	for start := 0; start < len(keys); start += 100 {
		end := min(start+100, len(keys))
		n, err := s.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, fmt.Errorf("reset rosters: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}

// Close does not close the client, which may be shared.
func (s *RedisStore) Close() error {
	return nil
}
