/**
 * @description
 * This package implements the one-time-passcode challenge store. A challenge
 * binds a short-lived numeric secret to one subject and one intended operation
 * (kind + amount); redeeming it is atomic and single-use, so concurrent
 * redemption attempts on the same key yield at most one success.
 *
 * Two backends are provided: an in-memory store with a periodic sweep for
 * abandoned challenges, and a Redis-backed store that relies on native key
 * TTLs and a Lua script for atomic compare-and-delete redemption.
 */

package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/notify"
)

var (
	// ErrChallengeNotFound means the key was never issued or was already consumed.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired means the challenge outlived its TTL before redemption.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrCodeMismatch means the supplied code does not equal the stored code.
	ErrCodeMismatch = errors.New("passcode does not match")
)

// Store issues and redeems single-use challenges.
type Store interface {
	// Issue creates a challenge bound to the subject and operation, stores it
	// with the given TTL, and dispatches the code through the notifier as a
	// best-effort side effect. The returned challenge carries both the
	// redemption key and the code.
	Issue(ctx context.Context, subjectID uuid.UUID, op domain.OTPOperation, ttl time.Duration) (*domain.Challenge, error)

	// Redeem validates and consumes a challenge. The first successful
	// redemption deletes the entry; later attempts see ErrChallengeNotFound.
	Redeem(ctx context.Context, key, code string) (*domain.Challenge, error)

	// Sweep removes expired, never-redeemed entries and reports how many were
	// dropped. Backends with native TTL support may make this a no-op.
	Sweep(ctx context.Context) int
}

// generateCode returns a uniformly random numeric code of the given width,
// never starting with zero (a 4-digit code is in [1000, 9999]).
func generateCode(width int) (string, error) {
	if width < 1 {
		width = 4
	}
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(width-1)), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("generate passcode: %w", err)
	}
	return n.Add(n, low).String(), nil
}

// dispatch sends the issuance notification without letting delivery failures
// surface to the caller.
func dispatch(ctx context.Context, notifier notify.Notifier, ch *domain.Challenge) {
	if notifier == nil {
		return
	}
	event := notify.OTPIssuedEvent{
		SubjectID: ch.SubjectID,
		Code:      ch.Code,
		Operation: ch.Operation,
		ExpiresAt: ch.ExpiresAt,
		IssuedAt:  time.Now().UTC(),
	}
	if err := notifier.NotifyOTPIssued(ctx, event); err != nil {
		log.Printf("level=warn component=otp_store msg=\"passcode delivery failed; code remains valid\" subject_id=%s err=%v", ch.SubjectID, err)
	}
}
