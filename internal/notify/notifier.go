/**
 * @description
 * Capability abstraction for delivering one-time passcodes to account holders.
 * The OTP store dispatches through this interface on issuance; delivery is
 * strictly best-effort, so implementations may fail without affecting the
 * issuance result. The passcode itself is authoritative, not the delivery
 * channel.
 */

package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
)

// OTPIssuedEvent is the payload handed to a notifier when a challenge is
// created. The code is included so a downstream mailer can deliver it; the
// redemption key is deliberately absent from the side channel.
type OTPIssuedEvent struct {
	SubjectID uuid.UUID           `json:"subject_id"`
	Code      string              `json:"code"`
	Operation domain.OTPOperation `json:"operation"`
	ExpiresAt time.Time           `json:"expires_at"`
	IssuedAt  time.Time           `json:"issued_at"`
}

// Notifier delivers issued passcodes out of band.
type Notifier interface {
	NotifyOTPIssued(ctx context.Context, event OTPIssuedEvent) error
	// Channel names the delivery channel reported back to the caller,
	// e.g. "email" or "none".
	Channel() string
}

// NopNotifier discards every notification. Used in tests and when no broker
// is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyOTPIssued(ctx context.Context, event OTPIssuedEvent) error { return nil }

func (NopNotifier) Channel() string { return "none" }
