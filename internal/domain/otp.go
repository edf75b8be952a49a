package domain

import (
	"time"

	"github.com/google/uuid"
)

// OTPOperation is the single operation a challenge authorizes. Redemption of
// a challenge only clears a request whose kind and amount match exactly.
type OTPOperation struct {
	Kind   string `json:"kind"`   // "local" or "international"
	Amount int64  `json:"amount"` // in cents
}

// Challenge is a short-lived, single-use passcode bound to one subject and
// one operation. The key is the opaque redemption handle handed to the
// caller; the code is the secret delivered out of band.
type Challenge struct {
	Key       string       `json:"key"`
	Code      string       `json:"code"`
	SubjectID uuid.UUID    `json:"subject_id"`
	Operation OTPOperation `json:"operation"`
	ExpiresAt time.Time    `json:"expires_at"`
}
