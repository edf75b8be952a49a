/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. All balance mutations run inside a database transaction with
 * `SELECT ... FOR UPDATE` row locks, so concurrent transfers against the same
 * account serialize and the insufficient-funds check is always re-validated
 * against the post-lock balance. A local transfer locks both account rows in
 * deterministic UUID order to avoid lock-order deadlocks.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vaultbank/ledger-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the ledger tables if they do not exist. The balance
// CHECK constraint is a storage-side backstop for the non-negative invariant
// the locking discipline already guarantees.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			account_number TEXT NOT NULL UNIQUE,
			card_number TEXT NOT NULL UNIQUE,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL REFERENCES accounts(id),
			kind TEXT NOT NULL,
			amount BIGINT NOT NULL,
			counterparty_account_number TEXT NOT NULL DEFAULT '',
			counterparty_name TEXT NOT NULL DEFAULT '',
			swift_code TEXT NOT NULL DEFAULT '',
			iban_number TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			settlement_estimate TIMESTAMPTZ,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_account_created
			ON transactions (account_id, created_at DESC);
	`)
	return err
}

// CreateAccount inserts a new account row, mapping unique violations to the
// specific duplicate-field sentinel so callers can regenerate numbers.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash, account_number, card_number, balance)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.AccountNumber,
		account.CardNumber,
		account.Balance,
	).Scan(&account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch {
			case strings.Contains(pgErr.ConstraintName, "email"):
				return ErrDuplicateEmail
			case strings.Contains(pgErr.ConstraintName, "card_number"):
				return ErrDuplicateCardNumber
			case strings.Contains(pgErr.ConstraintName, "account_number"):
				return ErrDuplicateAccountNumber
			}
		}
		return err
	}
	return nil
}

const accountColumns = `id, email, password_hash, account_number, card_number, balance, created_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.AccountNumber, &a.CardNumber, &a.Balance, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindAccountByID retrieves an account by its primary key.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// FindAccountByEmail retrieves an account by its normalized email.
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// FindAccountByNumber retrieves an account by its account number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, accountNumber))
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, account_id, kind, amount,
			counterparty_account_number, counterparty_name,
			swift_code, iban_number, status, settlement_estimate, notes, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := tx.Exec(ctx, query,
		t.ID,
		t.AccountID,
		t.Kind,
		t.Amount,
		t.CounterpartyAccountNumber,
		t.CounterpartyName,
		t.SwiftCode,
		t.IbanNumber,
		t.Status,
		t.SettlementEstimate,
		t.Notes,
		t.CreatedAt,
	)
	return err
}

// lockBalance reads an account's balance under FOR UPDATE, serializing
// concurrent mutations of the same row until commit.
func lockBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// Deposit credits an account and appends the matching deposit transaction in
// one atomic unit.
func (r *PostgresRepository) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, notes string) (*domain.Account, *domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockBalance(ctx, tx, accountID); err != nil {
		return nil, nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE id = $2`, amount, accountID); err != nil {
		return nil, nil, err
	}

	record := &domain.Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      domain.TxKindDeposit,
		Amount:    amount,
		Status:    domain.TxStatusCompleted,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, nil, err
	}

	account, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return account, record, nil
}

// TransferLocal atomically debits the sender and credits the recipient,
// appending a matched pair of transactions with identical timestamps. Both
// account updates commit together or neither does.
func (r *PostgresRepository) TransferLocal(ctx context.Context, params LocalTransferParams) (*domain.TransferResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sender, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, params.SenderID))
	if err != nil {
		return nil, err
	}

	recipient, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, params.ToAccountNumber))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	if recipient.ID == sender.ID {
		return nil, ErrSelfTransfer
	}

	// Lock both rows in UUID order so two opposing transfers cannot deadlock.
	first, second := sender.ID, recipient.ID
	if second.String() < first.String() {
		first, second = second, first
	}
	balances := make(map[uuid.UUID]int64, 2)
	for _, id := range []uuid.UUID{first, second} {
		balance, err := lockBalance(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		balances[id] = balance
	}

	if balances[sender.ID] < params.Amount {
		return nil, &InsufficientFundsError{Balance: balances[sender.ID], Requested: params.Amount}
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1 WHERE id = $2`, params.Amount, sender.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE id = $2`, params.Amount, recipient.ID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	debit := &domain.Transaction{
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
	credit := &domain.Transaction{
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
	if err := insertTransaction(ctx, tx, debit); err != nil {
		return nil, err
	}
	if err := insertTransaction(ctx, tx, credit); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &domain.TransferResult{
		SenderBalance:        balances[sender.ID] - params.Amount,
		SenderTransaction:    debit,
		RecipientTransaction: credit,
	}, nil
}

// TransferInternational debits only the sender and records a pending
// transaction carrying the settlement estimate. No local credit is issued;
// this models money in flight to an external system.
func (r *PostgresRepository) TransferInternational(ctx context.Context, params InternationalTransferParams) (*domain.TransferResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	balance, err := lockBalance(ctx, tx, params.SenderID)
	if err != nil {
		return nil, err
	}
	if balance < params.Amount {
		return nil, &InsufficientFundsError{Balance: balance, Requested: params.Amount}
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1 WHERE id = $2`, params.Amount, params.SenderID); err != nil {
		return nil, err
	}

	estimate := params.SettlementEstimate
	debit := &domain.Transaction{
		ID:                        uuid.New(),
		AccountID:                 params.SenderID,
		Kind:                      domain.TxKindInternationalDebit,
		Amount:                    -params.Amount,
		CounterpartyAccountNumber: params.ToAccountNumber,
		CounterpartyName:          params.RecipientName,
		SwiftCode:                 params.SwiftCode,
		IbanNumber:                params.IbanNumber,
		Status:                    domain.TxStatusPending,
		SettlementEstimate:        &estimate,
		Notes:                     params.Notes,
		CreatedAt:                 time.Now().UTC(),
	}
	if err := insertTransaction(ctx, tx, debit); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &domain.TransferResult{
		SenderBalance:     balance - params.Amount,
		SenderTransaction: debit,
	}, nil
}

// SettleInternational transitions a pending international debit to the given
// terminal status. Any other transaction state is refused.
func (r *PostgresRepository) SettleInternational(ctx context.Context, transactionID uuid.UUID, status string) (*domain.Transaction, error) {
	if status != domain.TxStatusCompleted && status != domain.TxStatusFailed {
		return nil, fmt.Errorf("invalid settlement status %q", status)
	}

	query := `
		UPDATE transactions
		SET status = $2
		WHERE id = $1 AND kind = $3 AND status = $4
		RETURNING id, account_id, kind, amount, counterparty_account_number, counterparty_name,
		          swift_code, iban_number, status, settlement_estimate, notes, created_at
	`
	var t domain.Transaction
	err := r.db.QueryRow(ctx, query, transactionID, status, domain.TxKindInternationalDebit, domain.TxStatusPending).Scan(
		&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.CounterpartyAccountNumber, &t.CounterpartyName,
		&t.SwiftCode, &t.IbanNumber, &t.Status, &t.SettlementEstimate, &t.Notes, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			var exists bool
			if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, transactionID).Scan(&exists); checkErr != nil {
				return nil, checkErr
			}
			if exists {
				return nil, ErrTransactionNotPending
			}
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TransactionsByAccountID retrieves the account's full history, newest first.
func (r *PostgresRepository) TransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT id, account_id, kind, amount, counterparty_account_number, counterparty_name,
		       swift_code, iban_number, status, settlement_estimate, notes, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		err := rows.Scan(
			&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.CounterpartyAccountNumber, &t.CounterpartyName,
			&t.SwiftCode, &t.IbanNumber, &t.Status, &t.SettlementEstimate, &t.Notes, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}
