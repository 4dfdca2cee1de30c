package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const deleteSessionScript = `
local subject = redis.call("HGET", KEYS[1], "subject")
if not subject then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. subject, ARGV[2])
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "zt:sess"

// Store is a Redis-backed session store. Each session is a hash with a TTL;
// a per-subject set indexes live session ids for logout-all.
//
//	Docs: DESIGN.md#session
type Store struct {
	redis    redis.UniversalClient
	cache    *Cache
	prefix   string
	indexTTL time.Duration
	now      func() time.Time
}

// StoreOption customizes a [Store].
type StoreOption func(*Store)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) StoreOption {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithIndexTTL bounds how long a subject's session index survives without writes.
func WithIndexTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.indexTTL = ttl
		}
	}
}

// WithClock injects the time source used for expiry checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(client redis.UniversalClient, opts ...StoreOption) *Store {
	s := &Store{
		redis:    client,
		cache:    NewCache(client),
		prefix:   DefaultPrefix,
		indexTTL: 7 * 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) subjectPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) subjectKey(subject string) string {
	return s.subjectPrefix() + subject
}

func (s *Store) consumedKey(tokenID string) string {
	return s.prefix + ":rt:" + tokenID
}

// Save writes the session hash, its TTL and the subject index in one
// MULTI/EXEC. An existing hash under the same id is replaced, not merged.
//
//	Performance: 1 round trip (DEL + HSET + PEXPIRE + SADD + EXPIRE).
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || !ValidID(sess.SessionID) {
		return ErrInvalidID
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl", ErrInvalidToken)
	}
	fields, err := EncodeFields(sess)
	if err != nil {
		return err
	}

	key := s.key(sess.SessionID)
	subjectKey := s.subjectKey(sess.Subject)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, subjectKey, sess.SessionID)
		pipe.Expire(ctx, subjectKey, s.indexTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the live session for id, or [ErrNotFound].
//
//	Performance: 1 Redis HGETALL.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if !ValidID(sessionID) {
		return nil, ErrNotFound
	}
	fields, err := s.cache.GetAll(ctx, s.key(sessionID))
	if err != nil {
		return nil, err
	}
	sess, err := DecodeFields(fields)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID
	if sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// AccessToken reads only the bound access token.
func (s *Store) AccessToken(ctx context.Context, sessionID string) (string, error) {
	if !ValidID(sessionID) {
		return "", ErrNotFound
	}
	return s.cache.GetField(ctx, s.key(sessionID), fieldAccessToken)
}

// Delete removes a session and its index entry. Deleting an absent session
// is not an error.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if !ValidID(sessionID) {
		return nil
	}
	_, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, s.subjectPrefix(), sessionID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForSubject removes every indexed session of a subject.
//
// This reads the index and deletes in a second step; a session saved in
// between survives until its own TTL or the next call.
func (s *Store) DeleteAllForSubject(ctx context.Context, subject string) (int, error) {
	subjectKey := s.subjectKey(subject)
	ids, err := s.redis.SMembers(ctx, subjectKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, subjectKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// ActiveSessionIDs returns indexed session ids that still resolve to a hash.
func (s *Store) ActiveSessionIDs(ctx context.Context, subject string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	pipe := s.redis.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := make([]string, 0, len(ids))
	for i, cmd := range exists {
		if cmd.Val() == 1 {
			live = append(live, ids[i])
		}
	}
	return live, nil
}

// ConsumeTokenID marks a refresh token id as used. It returns false when the
// id had already been consumed. The marker lives for ttl so it outlasts the
// token it guards.
func (s *Store) ConsumeTokenID(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if tokenID == "" {
		return false, fmt.Errorf("%w: missing token id", ErrInvalidToken)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.redis.SetNX(ctx, s.consumedKey(tokenID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// ReleaseTokenID undoes ConsumeTokenID after a refresh that could not be
// completed, so the caller may retry with the same refresh token.
func (s *Store) ReleaseTokenID(ctx context.Context, tokenID string) error {
	return s.cache.Delete(ctx, s.consumedKey(tokenID))
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
