package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/FebinAugustine/dirauth/internal"
	"github.com/FebinAugustine/dirauth/internal/ephemeral"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound covers absent, expired, and corrupt records.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRedisUnavailable is the store's retryable unavailability error.
	ErrRedisUnavailable = ephemeral.ErrUnavailable
)

const (
	sessionPrefix = "session:"
	indexPrefix   = "session-index:"
	minTouchTTL   = time.Second
)

// touchSessionScript rewrites the trailer (last activity + expiry) of an existing record.
// KEYS[1] = session key
// KEYS[2] = identity index key
// ARGV[1] = new 16-byte trailer
// ARGV[2] = new ttl in ms
// ARGV[3] = session id
// ARGV[4] = minimum index ttl in ms
//
// Returns the rewritten record, or nil when the session is gone.
const touchSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return false
end
if string.byte(data, 1) ~= 1 or #data < 27 then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[3])
  return false
end
local updated = string.sub(data, 1, #data - 16) .. ARGV[1]
redis.call("SET", KEYS[1], updated, "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[4]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[4])
end
return updated
`

// revokeIdentityScript deletes every indexed session and the index itself.
// KEYS[1] = identity index key
// ARGV[1] = session key prefix
//
// Returns the session ids that were indexed.
const revokeIdentityScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
for _, id in ipairs(ids) do
  redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return ids
`

var (
	touchSessionLua   = redis.NewScript(touchSessionScript)
	revokeIdentityLua = redis.NewScript(revokeIdentityScript)
)

// Store persists sessions in the ephemeral store.
type Store struct {
	store *ephemeral.Store
	now   func() time.Time
}

func NewStore(store *ephemeral.Store) *Store {
	return &Store{store: store, now: time.Now}
}

func key(sessionID string) string {
	return sessionPrefix + sessionID
}

func indexKey(identityID string) string {
	return indexPrefix + identityID
}

// Create writes a new session that lives for ttl and indexes it under the identity.
func (s *Store) Create(ctx context.Context, identityID string, ttl time.Duration) (*Session, error) {
	if identityID == "" {
		return nil, errors.New("session requires identity id")
	}
	if ttl <= 0 {
		return nil, ephemeral.ErrInvalidTTL
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	now := s.now()
	sess := &Session{
		SessionID:      sid.String(),
		IdentityID:     identityID,
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(ttl).Unix(),
	}
	blob, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.store.Bound(ctx)
	defer cancel()

	idx := indexKey(identityID)
	_, err = s.store.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key(sess.SessionID), blob, ttl)
		pipe.SAdd(ctx, idx, sess.SessionID)
		pipe.PExpire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return nil, ephemeral.Unavailable(err)
	}

	return sess, nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return nil, ErrSessionNotFound
	}

	blob, err := s.store.Get(ctx, key(sessionID))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	sess, err := Decode(blob)
	if err != nil {
		_ = s.store.Delete(ctx, key(sessionID))
		return nil, ErrSessionNotFound
	}
	sess.SessionID = sessionID
	if sess.ExpiresAt <= s.now().Unix() {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Touch records activity and resets the record's TTL to end at until. It
// never recreates a session that has been revoked or has expired.
func (s *Store) Touch(ctx context.Context, sessionID string, until time.Time) (*Session, error) {
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	ttl := until.Sub(now)
	if ttl < minTouchTTL {
		return nil, ErrSessionNotFound
	}

	current, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	trailer := encodeTrailer(now.Unix(), until.Unix())
	res, err := s.store.Run(ctx, touchSessionLua,
		[]string{key(sessionID), indexKey(current.IdentityID)},
		trailer,
		strconv.FormatInt(ttl.Milliseconds(), 10),
		sessionID,
		strconv.FormatInt(ttl.Milliseconds(), 10),
	)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	raw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected touch result %T", res)
	}
	sess, err := Decode([]byte(raw))
	if err != nil {
		return nil, ErrSessionNotFound
	}
	sess.SessionID = sessionID
	return sess, nil
}

// Revoke deletes every session of the identity and returns their ids.
func (s *Store) Revoke(ctx context.Context, identityID string) ([]string, error) {
	res, err := s.store.Run(ctx, revokeIdentityLua, []string{indexKey(identityID)}, sessionPrefix)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected revoke result %T", res)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ActiveSessions returns the identity's session ids whose records still exist,
// pruning index entries for sessions that expired on their own.
func (s *Store) ActiveSessions(ctx context.Context, identityID string) ([]string, error) {
	ctx, cancel := s.store.Bound(ctx)
	defer cancel()

	rdb := s.store.Client()
	idx := indexKey(identityID)
	ids, err := rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, ephemeral.Unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(ids))
	_, err = rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Exists(ctx, key(id))
		}
		return nil
	})
	if err != nil {
		return nil, ephemeral.Unavailable(err)
	}

	active := make([]string, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			active = append(active, ids[i])
		} else {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) > 0 {
		if err := rdb.SRem(ctx, idx, stale...).Err(); err != nil {
			return nil, ephemeral.Unavailable(err)
		}
	}
	return active, nil
}
