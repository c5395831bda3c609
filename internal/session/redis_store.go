package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maisonluxe/storefront/internal/domain"
)

// RedisStore keeps sessions as JSON values with a Redis-enforced TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "session"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + ":" + sessionID
}

// subjectKey names the set of session ids issued to subjectID. It sits
// outside the "<prefix>:" namespace so no session cookie can address it.
func (r *RedisStore) subjectKey(subjectID string) string {
	return r.prefix + "_subjects:" + subjectID
}

func (r *RedisStore) Create(ctx context.Context, subjectID string, role domain.Role) (*domain.Session, error) {
	if subjectID == "" {
		return nil, errors.New("session: missing subject id")
	}
	if r.ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}

	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	now := r.now()
	s := &domain.Session{
		ID:        id,
		SubjectID: subjectID,
		Role:      role,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(r.ttl),
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: failed to marshal: %w", err)
	}

	// NX guards against the (astronomically unlikely) reuse of an existing id.
	ok, err := r.client.SetNX(ctx, r.key(id), data, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("session: redis set: %w", err)
	}
	if !ok {
		return nil, errors.New("session: id collision")
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.subjectKey(subjectID), id)
	pipe.PExpire(ctx, r.subjectKey(subjectID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = r.client.Del(ctx, r.key(id)).Err()
		return nil, fmt.Errorf("session: redis index: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, r.key(sessionID))
	ttlCmd := pipe.PTTL(ctx, r.key(sessionID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}

	val, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	s.ID = sessionID
	if ttl, err := ttlCmd.Result(); err == nil && ttl > 0 {
		s.ExpiresAt = r.now().Add(ttl)
	}
	return &s, nil
}

func (r *RedisStore) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	existing, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(sessionID))
	if existing != nil {
		pipe.SRem(ctx, r.subjectKey(existing.SubjectID), sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// DestroyForSubject deletes every session indexed under subjectID and
// returns how many were still live.
func (r *RedisStore) DestroyForSubject(ctx context.Context, subjectID string) (int, error) {
	if subjectID == "" {
		return 0, nil
	}
	ids, err := r.client.SMembers(ctx, r.subjectKey(subjectID)).Result()
	if err != nil {
		return 0, fmt.Errorf("session: redis members: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.key(id))
	}
	pipe := r.client.TxPipeline()
	var delSessions *redis.IntCmd
	if len(keys) > 0 {
		delSessions = pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, r.subjectKey(subjectID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("session: redis del: %w", err)
	}
	if delSessions == nil {
		return 0, nil
	}
	return int(delSessions.Val()), nil
}

var (
	_ Store          = (*RedisStore)(nil)
	_ SubjectRevoker = (*RedisStore)(nil)
)
