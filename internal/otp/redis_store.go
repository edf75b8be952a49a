package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/notify"
)

// redeemScript performs the whole redemption atomically on the Redis side:
// fetch, expiry check, code comparison, and delete-on-success. Running it as
// one script guarantees first-committer-wins under concurrent redemption.
var redeemScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if raw == false then
  return {"not_found", ""}
end
local c = cjson.decode(raw)
local now = tonumber(ARGV[2])
if c.expires_at_unix and now > tonumber(c.expires_at_unix) then
  redis.call("DEL", KEYS[1])
  return {"expired", ""}
end
if c.code ~= ARGV[1] then
  return {"mismatch", ""}
end
redis.call("DEL", KEYS[1])
return {"ok", raw}
`)

// redisChallenge is the stored JSON shape. The expiry instant is duplicated
// as a unix timestamp so the Lua script can compare it without parsing times.
type redisChallenge struct {
	Code          string              `json:"code"`
	SubjectID     uuid.UUID           `json:"subject_id"`
	Operation     domain.OTPOperation `json:"operation"`
	ExpiresAtUnix int64               `json:"expires_at_unix"`
}

// RedisStore backs the challenge store with Redis. Keys carry a native TTL,
// so abandoned challenges vanish without a sweep loop.
type RedisStore struct {
	client   redis.UniversalClient
	notifier notify.Notifier
	codeLen  int
	prefix   string
}

// NewRedisStore creates a Redis-backed challenge store.
func NewRedisStore(client redis.UniversalClient, notifier notify.Notifier, codeLength int) *RedisStore {
	return &RedisStore{
		client:   client,
		notifier: notifier,
		codeLen:  codeLength,
		prefix:   "otp:challenge:",
	}
}

// Channel reports where issued codes are delivered.
func (s *RedisStore) Channel() string {
	if s.notifier == nil {
		return "none"
	}
	return s.notifier.Channel()
}

func (s *RedisStore) Issue(ctx context.Context, subjectID uuid.UUID, op domain.OTPOperation, ttl time.Duration) (*domain.Challenge, error) {
	code, err := generateCode(s.codeLen)
	if err != nil {
		return nil, err
	}

	ch := domain.Challenge{
		Key:       uuid.New().String(),
		Code:      code,
		SubjectID: subjectID,
		Operation: op,
		ExpiresAt: time.Now().Add(ttl),
	}

	payload, err := json.Marshal(redisChallenge{
		Code:          ch.Code,
		SubjectID:     ch.SubjectID,
		Operation:     ch.Operation,
		ExpiresAtUnix: ch.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode challenge: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+ch.Key, payload, ttl).Err(); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	dispatch(ctx, s.notifier, &ch)
	return &ch, nil
}

func (s *RedisStore) Redeem(ctx context.Context, key, code string) (*domain.Challenge, error) {
	rawResult, err := redeemScript.Run(ctx, s.client, []string{s.prefix + key}, code, time.Now().Unix()).Result()
	if err != nil {
		return nil, fmt.Errorf("redeem challenge: %w", err)
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("unexpected redeem script response shape: %T", rawResult)
	}
	status, _ := values[0].(string)

	switch status {
	case "not_found":
		return nil, ErrChallengeNotFound
	case "expired":
		return nil, ErrChallengeExpired
	case "mismatch":
		return nil, ErrCodeMismatch
	case "ok":
	default:
		return nil, fmt.Errorf("unexpected redeem script status %q", status)
	}

	raw, _ := values[1].(string)
	var stored redisChallenge
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}

	return &domain.Challenge{
		Key:       key,
		Code:      stored.Code,
		SubjectID: stored.SubjectID,
		Operation: stored.Operation,
		ExpiresAt: time.Unix(stored.ExpiresAtUnix, 0),
	}, nil
}

// Sweep is a no-op: Redis expires challenge keys natively.
func (s *RedisStore) Sweep(ctx context.Context) int { return 0 }
