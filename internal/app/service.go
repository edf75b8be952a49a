/**
 * @description
 * This file contains the core application service, which orchestrates the
 * business logic of the ledger: account onboarding, credential verification,
 * deposits, passcode-gated transfers, and history reads. The service sits
 * between the HTTP handlers and the storage layer and owns the ordering
 * guarantee for protected operations: the passcode is redeemed and verified
 * before the ledger is touched, so a rejected challenge can never leave a
 * balance change behind.
 *
 * @dependencies
 * - internal/store: The ledger repository contract.
 * - internal/otp: The single-use challenge store.
 * - pkg/rabbitmq: Best-effort domain event publishing.
 * - github.com/golang-jwt/jwt/v5: Session token issuance.
 * - golang.org/x/crypto/bcrypt: Password hashing.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaultbank/ledger-service/internal/config"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/otp"
	"github.com/vaultbank/ledger-service/internal/store"
	"github.com/vaultbank/ledger-service/pkg/rabbitmq"
)

var (
	// ErrInvalidCredentials is returned when login fails, without revealing
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrOTPMismatch is returned when a redeemed challenge does not belong to
	// the caller or was issued for a different operation.
	ErrOTPMismatch = errors.New("passcode was not issued for this operation")
)

// ValidationError reports a rejected request field. It maps to a 400 at the
// API layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Domain event routing keys published on the event exchange.
const (
	RoutingKeyAccountCreated       = "ledger.account.created"
	RoutingKeyDepositCompleted     = "ledger.deposit.completed"
	RoutingKeyLocalTransferDone    = "ledger.transfer.local.completed"
	RoutingKeyInternationalStarted = "ledger.transfer.international.initiated"
)

const (
	accountNumberDigits = 12
	cardNumberDigits    = 16
	minPasswordLength   = 8
	// createAccountAttempts bounds retries when a generated number collides.
	createAccountAttempts = 5
)

// Service orchestrates ledger operations.
type Service struct {
	repo            store.Repository
	otpStore        otp.Store
	events          rabbitmq.Publisher
	jwtSecret       []byte
	jwtTTL          time.Duration
	otpTTL          time.Duration
	settlementDelay time.Duration
	eventExchange   string
	now             func() time.Time
}

// NewService creates the application service from its dependencies.
func NewService(repo store.Repository, otpStore otp.Store, events rabbitmq.Publisher, cfg config.Config) *Service {
	return &Service{
		repo:            repo,
		otpStore:        otpStore,
		events:          events,
		jwtSecret:       []byte(cfg.JWTSecret),
		jwtTTL:          cfg.JWTTTL(),
		otpTTL:          cfg.OTPTTL(),
		settlementDelay: cfg.SettlementEstimate(),
		eventExchange:   cfg.EventExchange,
		now:             time.Now,
	}
}

// publish emits a domain event without letting broker trouble surface to the
// caller; the ledger write has already committed by the time this runs.
func (s *Service) publish(ctx context.Context, routingKey string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, s.eventExchange, routingKey, payload); err != nil {
		log.Printf("level=warn component=app_service msg=\"failed to publish domain event\" routing_key=%s err=%v", routingKey, err)
	}
}

// randomDigits returns n uniformly random decimal digits, leading zeros kept.
func randomDigits(n int) (string, error) {
	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("generate digits: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}

// Signup registers a new account with a generated account and card number.
// Number collisions are retried with fresh values; a duplicate email is
// terminal.
func (s *Service) Signup(ctx context.Context, req domain.SignupRequest) (*domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	if len(req.Password) < minPasswordLength {
		return nil, &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	for attempt := 0; attempt < createAccountAttempts; attempt++ {
		accountNumber, err := randomDigits(accountNumberDigits)
		if err != nil {
			return nil, err
		}
		cardNumber, err := randomDigits(cardNumberDigits)
		if err != nil {
			return nil, err
		}

		account := &domain.Account{
			ID:            uuid.New(),
			Email:         email,
			PasswordHash:  string(hash),
			AccountNumber: accountNumber,
			CardNumber:    cardNumber,
			Balance:       0,
		}
		err = s.repo.CreateAccount(ctx, account)
		switch {
		case err == nil:
			s.publish(ctx, RoutingKeyAccountCreated, map[string]interface{}{
				"account_id":     account.ID,
				"account_number": account.AccountNumber,
				"created_at":     account.CreatedAt,
			})
			return account, nil
		case errors.Is(err, store.ErrDuplicateAccountNumber), errors.Is(err, store.ErrDuplicateCardNumber):
			continue
		default:
			return nil, err
		}
	}
	return nil, errors.New("could not allocate a unique account number")
}

// Login verifies credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (string, *domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	account, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub": account.ID.String(),
		"iat": now.Unix(),
		"exp": now.Add(s.jwtTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, account, nil
}

// Balance returns the caller's account with its current balance.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByID(ctx, accountID)
}

// Deposit credits the caller's own account.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, req domain.DepositRequest) (*domain.Account, *domain.Transaction, error) {
	amount, err := req.Amount.Cents()
	if err != nil {
		return nil, nil, &ValidationError{Field: "amount", Reason: err.Error()}
	}

	account, tx, err := s.repo.Deposit(ctx, accountID, amount, "deposit")
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, RoutingKeyDepositCompleted, tx)
	return account, tx, nil
}

// RequestOTP issues a challenge bound to the caller and the described
// operation. It returns the challenge plus the delivery channel name so the
// API can tell the caller where the code went.
func (s *Service) RequestOTP(ctx context.Context, accountID uuid.UUID, req domain.OTPIssueRequest) (*domain.Challenge, string, error) {
	kind := strings.ToLower(strings.TrimSpace(req.OperationKind))
	if kind != domain.TransferTypeLocal && kind != domain.TransferTypeInternational {
		return nil, "", &ValidationError{Field: "operation_kind", Reason: "must be \"local\" or \"international\""}
	}
	amount, err := req.Amount.Cents()
	if err != nil {
		return nil, "", &ValidationError{Field: "amount", Reason: err.Error()}
	}

	challenge, err := s.otpStore.Issue(ctx, accountID, domain.OTPOperation{Kind: kind, Amount: amount}, s.otpTTL)
	if err != nil {
		return nil, "", err
	}
	return challenge, s.deliveryChannel(), nil
}

func (s *Service) deliveryChannel() string {
	type channeled interface{ Channel() string }
	if c, ok := s.otpStore.(channeled); ok {
		return c.Channel()
	}
	return "none"
}

// VerifyOTP redeems a challenge on behalf of the caller and reports the
// operation it authorized. Redemption consumes the challenge: a verified code
// cannot be replayed into a transfer afterwards.
func (s *Service) VerifyOTP(ctx context.Context, accountID uuid.UUID, req domain.OTPRedeemRequest) (*domain.OTPOperation, error) {
	challenge, err := s.otpStore.Redeem(ctx, req.Key, req.Code)
	if err != nil {
		return nil, err
	}
	if challenge.SubjectID != accountID {
		return nil, ErrOTPMismatch
	}
	op := challenge.Operation
	return &op, nil
}

// isValidSwiftCode accepts 8 to 11 alphanumeric characters, the BIC shape.
func isValidSwiftCode(code string) bool {
	if len(code) < 8 || len(code) > 11 {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Transfer executes a passcode-gated transfer. Validation runs first, then
// the challenge is redeemed and cross-checked against the caller and the
// requested operation, and only then is the ledger touched. A failure at any
// earlier stage leaves every balance unchanged; a failure after redemption
// consumes the challenge but still writes nothing.
func (s *Service) Transfer(ctx context.Context, accountID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	transferType := strings.ToLower(strings.TrimSpace(req.TransferType))
	if transferType != domain.TransferTypeLocal && transferType != domain.TransferTypeInternational {
		return nil, &ValidationError{Field: "transfer_type", Reason: "must be \"local\" or \"international\""}
	}
	toAccountNumber := strings.TrimSpace(req.ToAccountNumber)
	if toAccountNumber == "" {
		return nil, &ValidationError{Field: "to_account_number", Reason: "is required"}
	}
	recipientName := strings.TrimSpace(req.RecipientName)
	if recipientName == "" {
		return nil, &ValidationError{Field: "recipient_name", Reason: "is required"}
	}
	amount, err := req.Amount.Cents()
	if err != nil {
		return nil, &ValidationError{Field: "amount", Reason: err.Error()}
	}
	swiftCode := strings.TrimSpace(req.SwiftCode)
	if transferType == domain.TransferTypeInternational && !isValidSwiftCode(swiftCode) {
		return nil, &ValidationError{Field: "swift_code", Reason: "must be 8 to 11 alphanumeric characters"}
	}
	if req.OTPKey == "" || req.OTPCode == "" {
		return nil, &ValidationError{Field: "otp_key", Reason: "passcode key and code are required"}
	}

	challenge, err := s.otpStore.Redeem(ctx, req.OTPKey, req.OTPCode)
	if err != nil {
		return nil, err
	}
	if challenge.SubjectID != accountID ||
		challenge.Operation.Kind != transferType ||
		challenge.Operation.Amount != amount {
		return nil, ErrOTPMismatch
	}

	switch transferType {
	case domain.TransferTypeLocal:
		result, err := s.repo.TransferLocal(ctx, store.LocalTransferParams{
			SenderID:        accountID,
			ToAccountNumber: toAccountNumber,
			Amount:          amount,
			RecipientName:   recipientName,
		})
		if err != nil {
			return nil, err
		}
		s.publish(ctx, RoutingKeyLocalTransferDone, result.SenderTransaction)
		return result, nil

	default:
		result, err := s.repo.TransferInternational(ctx, store.InternationalTransferParams{
			SenderID:           accountID,
			ToAccountNumber:    toAccountNumber,
			Amount:             amount,
			RecipientName:      recipientName,
			SwiftCode:          swiftCode,
			IbanNumber:         strings.TrimSpace(req.IbanNumber),
			SettlementEstimate: s.now().UTC().Add(s.settlementDelay),
		})
		if err != nil {
			return nil, err
		}
		s.publish(ctx, RoutingKeyInternationalStarted, result.SenderTransaction)
		return result, nil
	}
}

// History returns the caller's transactions, newest first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.TransactionsByAccountID(ctx, accountID)
}
