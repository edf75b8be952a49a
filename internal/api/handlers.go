/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/otp, internal/store: For service
 *   logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/vaultbank/ledger-service/internal/app"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/otp"
	"github.com/vaultbank/ledger-service/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// accountResponse is the client-safe view of an account.
type accountResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	AccountNumber    string    `json:"account_number"`
	CardNumber       string    `json:"card_number"`
	Balance          int64     `json:"balance"`
	BalanceFormatted string    `json:"balance_formatted"`
	CreatedAt        time.Time `json:"created_at"`
}

func buildAccountResponse(account *domain.Account) accountResponse {
	return accountResponse{
		ID:               account.ID.String(),
		Email:            account.Email,
		AccountNumber:    account.AccountNumber,
		CardNumber:       account.CardNumber,
		Balance:          account.Balance,
		BalanceFormatted: domain.FormatAmount(account.Balance),
		CreatedAt:        account.CreatedAt,
	}
}

// SignupHandler handles account registration.
func (h *LedgerHandlers) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.Signup(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, buildAccountResponse(account))
}

// LoginHandler verifies credentials and returns a session token.
func (h *LedgerHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, account, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":   token,
		"account": buildAccountResponse(account),
	})
}

// BalanceHandler returns the caller's account with its current balance.
func (h *LedgerHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	account, err := h.service.Balance(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildAccountResponse(account))
}

// DepositHandler credits the caller's account.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, tx, err := h.service.Deposit(r.Context(), accountID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":           account.Balance,
		"balance_formatted": domain.FormatAmount(account.Balance),
		"transaction":       tx,
	})
}

// RequestOTPHandler issues a passcode challenge for a pending operation.
// The code is included in the response because this demo has no real delivery
// channel for it; delivered_via names where the code also went.
func (h *LedgerHandlers) RequestOTPHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.OTPIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	challenge, channel, err := h.service.RequestOTP(r.Context(), accountID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":           challenge.Key,
		"code":          challenge.Code,
		"delivered_via": channel,
		"expires_at":    challenge.ExpiresAt,
	})
}

// VerifyOTPHandler redeems a challenge without performing a transfer.
func (h *LedgerHandlers) VerifyOTPHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.OTPRedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	operation, err := h.service.VerifyOTP(r.Context(), accountID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"verified":  true,
		"operation": operation,
	})
}

// TransferHandler executes a passcode-gated transfer.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Transfer(r.Context(), accountID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"balance":           result.SenderBalance,
		"balance_formatted": domain.FormatAmount(result.SenderBalance),
		"transaction":       result.SenderTransaction,
	})
}

// TransactionsHandler returns the caller's transaction history.
func (h *LedgerHandlers) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	transactions, err := h.service.History(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(transactions),
		"transactions": transactions,
	})
}

// writeServiceError maps service and storage errors onto HTTP statuses.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *app.ValidationError
	var fundsErr *store.InsufficientFundsError

	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, domain.ErrAmountMalformed),
		errors.Is(err, domain.ErrAmountNotPositive),
		errors.Is(err, domain.ErrAmountPrecision),
		errors.Is(err, store.ErrSelfTransfer):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrOTPMismatch),
		errors.Is(err, otp.ErrChallengeNotFound),
		errors.Is(err, otp.ErrChallengeExpired),
		errors.Is(err, otp.ErrCodeMismatch):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &fundsErr):
		h.writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":             "insufficient funds",
			"current_balance":   fundsErr.Balance,
			"requested_amount":  fundsErr.Requested,
			"balance_formatted": domain.FormatAmount(fundsErr.Balance),
		})
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrRecipientNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateEmail):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"request failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
