/**
 * @description
 * This file defines the core domain models for the ledger service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout
 * the service's business logic, storage layer, and API layer.
 *
 * @notes
 * - Monetary amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - Transaction records are append-only: after creation the only permitted change
 *   is the pending -> completed/failed status transition applied by the
 *   settlement consumer.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction kinds. Every ledger-affecting event is exactly one of these.
const (
	TxKindDeposit            = "deposit"
	TxKindLocalDebit         = "local_debit"
	TxKindLocalCredit        = "local_credit"
	TxKindInternationalDebit = "international_debit"
)

// Transaction statuses. Only international debits ever carry "pending".
const (
	TxStatusCompleted = "completed"
	TxStatusPending   = "pending"
	TxStatusFailed    = "failed"
)

// Transfer types accepted on the transfer endpoint and bound into OTP challenges.
const (
	TransferTypeLocal         = "local"
	TransferTypeInternational = "international"
)

// Account represents a customer account holding a balance and identity fields.
// AccountNumber and CardNumber are generated at creation time and immutable;
// uniqueness is enforced by the storage layer.
type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	AccountNumber string    `json:"account_number"`
	CardNumber    string    `json:"card_number"`
	Balance       int64     `json:"balance"` // in cents
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction is one ledger record attached to exactly one account. Amount is
// signed: negative for debits, positive for credits and deposits.
type Transaction struct {
	ID                        uuid.UUID  `json:"id"`
	AccountID                 uuid.UUID  `json:"account_id"`
	Kind                      string     `json:"kind"`
	Amount                    int64      `json:"amount"` // in cents, signed
	CounterpartyAccountNumber string     `json:"counterparty_account_number,omitempty"`
	CounterpartyName          string     `json:"counterparty_name,omitempty"`
	SwiftCode                 string     `json:"swift_code,omitempty"`
	IbanNumber                string     `json:"iban_number,omitempty"`
	Status                    string     `json:"status"`
	SettlementEstimate        *time.Time `json:"settlement_estimate,omitempty"`
	Notes                     string     `json:"notes,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
}

// TransferResult is returned by the ledger after a committed transfer.
// RecipientTransaction is nil for international transfers, which debit only
// the sender while the money is in flight to an external system.
type TransferResult struct {
	SenderBalance        int64        `json:"sender_balance"`
	SenderTransaction    *Transaction `json:"sender_transaction"`
	RecipientTransaction *Transaction `json:"recipient_transaction,omitempty"`
}

// SignupRequest is the DTO for account creation.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the DTO for credential verification.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DepositRequest is the DTO for adding funds to an account. Amount is a
// decimal string or number in major units (e.g. "150.00").
type DepositRequest struct {
	Amount AmountField `json:"amount"`
}

// TransferRequest is the DTO for the transfer endpoint. The OTP key and code
// must belong to a challenge issued for the same account, transfer type, and
// amount.
type TransferRequest struct {
	TransferType    string      `json:"transfer_type"`
	ToAccountNumber string      `json:"to_account_number"`
	Amount          AmountField `json:"amount"`
	RecipientName   string      `json:"recipient_name"`
	SwiftCode       string      `json:"swift_code,omitempty"`
	IbanNumber      string      `json:"iban_number,omitempty"`
	OTPKey          string      `json:"otp_key"`
	OTPCode         string      `json:"otp_code"`
}

// OTPIssueRequest asks for a new challenge bound to one operation.
type OTPIssueRequest struct {
	OperationKind string      `json:"operation_kind"`
	Amount        AmountField `json:"amount"`
}

// OTPRedeemRequest redeems a previously issued challenge.
type OTPRedeemRequest struct {
	Key  string `json:"key"`
	Code string `json:"code"`
}
