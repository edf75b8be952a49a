/**
 * @description
 * This file provides an in-memory implementation of the `Repository`
 * interface, used for local development without a database and as the
 * substrate for the ledger property tests. A single mutex serializes all
 * mutations, and every mutating operation stages its full set of changes
 * before applying any of them, so a failure between the two halves of a
 * transfer can never leave the ledger half-written.
 */

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
)

// MemoryRepository keeps the whole ledger in process memory.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	byEmail  map[string]uuid.UUID
	byNumber map[string]uuid.UUID
	byCard   map[string]uuid.UUID
	ledger   []domain.Transaction

	// commitHook, when set, runs after an operation has staged its changes and
	// before any of them are applied. Returning an error aborts the operation
	// with no state change. Tests use it to simulate mid-operation failures.
	commitHook func() error

	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[uuid.UUID]*domain.Account),
		byEmail:  make(map[string]uuid.UUID),
		byNumber: make(map[string]uuid.UUID),
		byCard:   make(map[string]uuid.UUID),
		now:      time.Now,
	}
}

func (r *MemoryRepository) commit() error {
	if r.commitHook != nil {
		return r.commitHook()
	}
	return nil
}

func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[account.Email]; exists {
		return ErrDuplicateEmail
	}
	if _, exists := r.byNumber[account.AccountNumber]; exists {
		return ErrDuplicateAccountNumber
	}
	if _, exists := r.byCard[account.CardNumber]; exists {
		return ErrDuplicateCardNumber
	}

	if err := r.commit(); err != nil {
		return err
	}

	if account.CreatedAt.IsZero() {
		account.CreatedAt = r.now().UTC()
	}
	stored := *account
	r.accounts[stored.ID] = &stored
	r.byEmail[stored.Email] = stored.ID
	r.byNumber[stored.AccountNumber] = stored.ID
	r.byCard[stored.CardNumber] = stored.ID
	return nil
}

func (r *MemoryRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByIDLocked(id)
}

func (r *MemoryRepository) findByIDLocked(id uuid.UUID) (*domain.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *MemoryRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.findByIDLocked(id)
}

func (r *MemoryRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byNumber[accountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.findByIDLocked(id)
}

func (r *MemoryRepository) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, notes string) (*domain.Account, *domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return nil, nil, ErrAccountNotFound
	}

	record := domain.Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      domain.TxKindDeposit,
		Amount:    amount,
		Status:    domain.TxStatusCompleted,
		Notes:     notes,
		CreatedAt: r.now().UTC(),
	}

	if err := r.commit(); err != nil {
		return nil, nil, err
	}

	account.Balance += amount
	r.ledger = append(r.ledger, record)

	updated := *account
	return &updated, &record, nil
}

func (r *MemoryRepository) TransferLocal(ctx context.Context, params LocalTransferParams) (*domain.TransferResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.accounts[params.SenderID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	recipientID, ok := r.byNumber[params.ToAccountNumber]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	if recipientID == sender.ID {
		return nil, ErrSelfTransfer
	}
	recipient := r.accounts[recipientID]

	if sender.Balance < params.Amount {
		return nil, &InsufficientFundsError{Balance: sender.Balance, Requested: params.Amount}
	}

	now := r.now().UTC()
	debit := domain.Transaction{
		ID:                        uuid.New(),
		AccountID:                 sender.ID,
		Kind:                      domain.TxKindLocalDebit,
		Amount:                    -params.Amount,
		CounterpartyAccountNumber: recipient.AccountNumber,
		CounterpartyName:          params.RecipientName,
		Status:                    domain.TxStatusCompleted,
		Notes:                     params.Notes,
		CreatedAt:                 now,
	}
	credit := domain.Transaction{
		ID:                        uuid.New(),
		AccountID:                 recipient.ID,
		Kind:                      domain.TxKindLocalCredit,
		Amount:                    params.Amount,
		CounterpartyAccountNumber: sender.AccountNumber,
		CounterpartyName:          sender.Email,
		Status:                    domain.TxStatusCompleted,
		Notes:                     params.Notes,
		CreatedAt:                 now,
	}

	// Everything above is staged; nothing is visible until commit succeeds.
	if err := r.commit(); err != nil {
		return nil, err
	}

	sender.Balance -= params.Amount
	recipient.Balance += params.Amount
	r.ledger = append(r.ledger, debit, credit)

	return &domain.TransferResult{
		SenderBalance:        sender.Balance,
		SenderTransaction:    &debit,
		RecipientTransaction: &credit,
	}, nil
}

func (r *MemoryRepository) TransferInternational(ctx context.Context, params InternationalTransferParams) (*domain.TransferResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.accounts[params.SenderID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if sender.Balance < params.Amount {
		return nil, &InsufficientFundsError{Balance: sender.Balance, Requested: params.Amount}
	}

	estimate := params.SettlementEstimate
	debit := domain.Transaction{
		ID:                        uuid.New(),
		AccountID:                 sender.ID,
		Kind:                      domain.TxKindInternationalDebit,
		Amount:                    -params.Amount,
		CounterpartyAccountNumber: params.ToAccountNumber,
		CounterpartyName:          params.RecipientName,
		SwiftCode:                 params.SwiftCode,
		IbanNumber:                params.IbanNumber,
		Status:                    domain.TxStatusPending,
		SettlementEstimate:        &estimate,
		Notes:                     params.Notes,
		CreatedAt:                 r.now().UTC(),
	}

	if err := r.commit(); err != nil {
		return nil, err
	}

	sender.Balance -= params.Amount
	r.ledger = append(r.ledger, debit)

	return &domain.TransferResult{
		SenderBalance:     sender.Balance,
		SenderTransaction: &debit,
	}, nil
}

func (r *MemoryRepository) SettleInternational(ctx context.Context, transactionID uuid.UUID, status string) (*domain.Transaction, error) {
	if status != domain.TxStatusCompleted && status != domain.TxStatusFailed {
		return nil, fmt.Errorf("invalid settlement status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.ledger {
		if r.ledger[i].ID != transactionID {
			continue
		}
		if r.ledger[i].Kind != domain.TxKindInternationalDebit || r.ledger[i].Status != domain.TxStatusPending {
			return nil, ErrTransactionNotPending
		}
		if err := r.commit(); err != nil {
			return nil, err
		}
		r.ledger[i].Status = status
		updated := r.ledger[i]
		return &updated, nil
	}
	return nil, ErrTransactionNotFound
}

func (r *MemoryRepository) TransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var transactions []domain.Transaction
	for _, t := range r.ledger {
		if t.AccountID == accountID {
			transactions = append(transactions, t)
		}
	}
	sort.SliceStable(transactions, func(i, j int) bool {
		return transactions[i].CreatedAt.After(transactions[j].CreatedAt)
	})
	return transactions, nil
}
