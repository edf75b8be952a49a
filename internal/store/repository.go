/**
 * @description
 * This file defines the `Repository` interface, which specifies the ledger
 * contract: atomic balance mutations with their transaction records. By
 * defining an interface, we decouple the orchestration logic from the
 * specific storage implementation (PostgreSQL in production, in-memory for
 * development and tests).
 *
 * Every mutating operation is a single atomic unit: either the balance change
 * and its transaction record(s) are both visible, or neither is. A local
 * transfer commits both sides together or not at all.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrRecipientNotFound      = errors.New("recipient account not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrSelfTransfer           = errors.New("cannot transfer to own account")
	ErrDuplicateEmail         = errors.New("email already registered")
	ErrDuplicateAccountNumber = errors.New("account number already in use")
	ErrDuplicateCardNumber    = errors.New("card number already in use")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrTransactionNotPending  = errors.New("transaction is not pending settlement")
)

// InsufficientFundsError carries the balance snapshot taken under the account
// lock, so callers can report exactly how short the sender is. It matches
// ErrInsufficientFunds under errors.Is.
type InsufficientFundsError struct {
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, requested %d", e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// LocalTransferParams describes an instant transfer between two accounts held
// in this ledger.
type LocalTransferParams struct {
	SenderID        uuid.UUID
	ToAccountNumber string
	Amount          int64 // in cents, positive
	RecipientName   string
	Notes           string
}

// InternationalTransferParams describes a transfer whose counterparty has no
// local record: only the sender is debited, and the resulting transaction
// stays pending until an external settlement event arrives.
type InternationalTransferParams struct {
	SenderID           uuid.UUID
	ToAccountNumber    string
	Amount             int64 // in cents, positive
	RecipientName      string
	SwiftCode          string
	IbanNumber         string
	SettlementEstimate time.Time
	Notes              string
}

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)

	// Ledger mutations. Amounts must be positive; the signed transaction
	// amounts are derived internally.
	Deposit(ctx context.Context, accountID uuid.UUID, amount int64, notes string) (*domain.Account, *domain.Transaction, error)
	TransferLocal(ctx context.Context, params LocalTransferParams) (*domain.TransferResult, error)
	TransferInternational(ctx context.Context, params InternationalTransferParams) (*domain.TransferResult, error)

	// SettleInternational applies the pending -> completed/failed transition
	// driven by an external settlement event. It refuses any other mutation.
	SettleInternational(ctx context.Context, transactionID uuid.UUID, status string) (*domain.Transaction, error)

	// TransactionsByAccountID returns the account's history, newest first.
	TransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)
}
