package otp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/notify"
)

// MemoryStore keeps challenges in a mutex-guarded map. Expired entries are
// dropped lazily on redemption and in bulk by Sweep, which the bootstrap
// schedules on a fixed interval.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]domain.Challenge
	notifier notify.Notifier
	codeLen  int
	now      func() time.Time
}

// NewMemoryStore creates an in-memory challenge store.
func NewMemoryStore(notifier notify.Notifier, codeLength int) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]domain.Challenge),
		notifier: notifier,
		codeLen:  codeLength,
		now:      time.Now,
	}
}

// Channel reports where issued codes are delivered.
func (s *MemoryStore) Channel() string {
	if s.notifier == nil {
		return "none"
	}
	return s.notifier.Channel()
}

func (s *MemoryStore) Issue(ctx context.Context, subjectID uuid.UUID, op domain.OTPOperation, ttl time.Duration) (*domain.Challenge, error) {
	code, err := generateCode(s.codeLen)
	if err != nil {
		return nil, err
	}

	ch := domain.Challenge{
		Key:       uuid.New().String(),
		Code:      code,
		SubjectID: subjectID,
		Operation: op,
		ExpiresAt: s.now().Add(ttl),
	}

	s.mu.Lock()
	s.entries[ch.Key] = ch
	s.mu.Unlock()

	dispatch(ctx, s.notifier, &ch)
	return &ch, nil
}

func (s *MemoryStore) Redeem(ctx context.Context, key, code string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.entries[key]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if s.now().After(ch.ExpiresAt) {
		delete(s.entries, key)
		return nil, ErrChallengeExpired
	}
	if ch.Code != code {
		// The entry stays; the caller may retry with the right code until expiry.
		return nil, ErrCodeMismatch
	}

	delete(s.entries, key)
	return &ch, nil
}

func (s *MemoryStore) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, ch := range s.entries {
		if now.After(ch.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
