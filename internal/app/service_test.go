package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaultbank/ledger-service/internal/config"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/notify"
	"github.com/vaultbank/ledger-service/internal/otp"
	"github.com/vaultbank/ledger-service/internal/store"
)

const testJWTSecret = "test-secret"

func newTestService() (*Service, *store.MemoryRepository) {
	repo := store.NewMemoryRepository()
	otpStore := otp.NewMemoryStore(notify.NopNotifier{}, 4)
	cfg := config.Config{
		JWTSecret:               testJWTSecret,
		JWTTTLHours:             1,
		OTPTTLSeconds:           300,
		SettlementEstimateHours: 48,
		EventExchange:           "bank.events",
	}
	return NewService(repo, otpStore, nil, cfg), repo
}

func signupTestAccount(t *testing.T, svc *Service, email string) *domain.Account {
	t.Helper()
	account, err := svc.Signup(context.Background(), domain.SignupRequest{
		Email:    email,
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Signup(%s): %v", email, err)
	}
	return account
}

func issueChallenge(t *testing.T, svc *Service, accountID uuid.UUID, kind, amount string) *domain.Challenge {
	t.Helper()
	challenge, _, err := svc.RequestOTP(context.Background(), accountID, domain.OTPIssueRequest{
		OperationKind: kind,
		Amount:        domain.AmountField(amount),
	})
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	return challenge
}

func TestSignupCreatesAccountWithGeneratedNumbers(t *testing.T) {
	svc, _ := newTestService()
	account := signupTestAccount(t, svc, "Alice@Example.COM")

	if account.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalized lowercase", account.Email)
	}
	if len(account.AccountNumber) != accountNumberDigits {
		t.Errorf("account number length = %d, want %d", len(account.AccountNumber), accountNumberDigits)
	}
	if len(account.CardNumber) != cardNumberDigits {
		t.Errorf("card number length = %d, want %d", len(account.CardNumber), cardNumberDigits)
	}
	if account.Balance != 0 {
		t.Errorf("new account balance = %d, want 0", account.Balance)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("correct horse battery")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}

	if _, err := svc.Signup(context.Background(), domain.SignupRequest{
		Email:    "alice@example.com",
		Password: "another password",
	}); !errors.Is(err, store.ErrDuplicateEmail) {
		t.Errorf("duplicate signup err = %v, want ErrDuplicateEmail", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newTestService()

	var ve *ValidationError
	if _, err := svc.Signup(context.Background(), domain.SignupRequest{Email: "not-an-email", Password: "long enough pw"}); !errors.As(err, &ve) {
		t.Errorf("bad email err = %v, want ValidationError", err)
	}
	if _, err := svc.Signup(context.Background(), domain.SignupRequest{Email: "a@b.com", Password: "short"}); !errors.As(err, &ve) {
		t.Errorf("short password err = %v, want ValidationError", err)
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, _ := newTestService()
	account := signupTestAccount(t, svc, "alice@example.com")

	token, got, err := svc.Login(context.Background(), domain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != account.ID {
		t.Errorf("login returned account %s, want %s", got.ID, account.ID)
	}

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (interface{}, error) {
		return []byte(testJWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	sub, _ := parsed.Claims.GetSubject()
	if sub != account.ID.String() {
		t.Errorf("token subject = %q, want %q", sub, account.ID)
	}

	if _, _, err := svc.Login(context.Background(), domain.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong",
	}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(context.Background(), domain.LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever",
	}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestDepositParsesMajorUnits(t *testing.T) {
	svc, _ := newTestService()
	account := signupTestAccount(t, svc, "alice@example.com")

	updated, tx, err := svc.Deposit(context.Background(), account.ID, domain.DepositRequest{Amount: "150.25"})
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if updated.Balance != 15025 {
		t.Errorf("balance = %d, want 15025", updated.Balance)
	}
	if tx.Kind != domain.TxKindDeposit || tx.Amount != 15025 {
		t.Errorf("transaction = %s/%d, want deposit/15025", tx.Kind, tx.Amount)
	}

	var ve *ValidationError
	for _, bad := range []string{"-5", "0", "1.005", "abc"} {
		if _, _, err := svc.Deposit(context.Background(), account.ID, domain.DepositRequest{Amount: domain.AmountField(bad)}); !errors.As(err, &ve) {
			t.Errorf("Deposit(%q) err = %v, want ValidationError", bad, err)
		}
	}
}

func TestRequestOTPValidatesOperationKind(t *testing.T) {
	svc, _ := newTestService()
	account := signupTestAccount(t, svc, "alice@example.com")

	challenge, channel, err := svc.RequestOTP(context.Background(), account.ID, domain.OTPIssueRequest{
		OperationKind: "local",
		Amount:        "300.00",
	})
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if challenge.Operation.Kind != domain.TransferTypeLocal || challenge.Operation.Amount != 30000 {
		t.Errorf("challenge operation = %+v, want local/30000", challenge.Operation)
	}
	if len(challenge.Code) != 4 {
		t.Errorf("code length = %d, want 4", len(challenge.Code))
	}
	if channel != "none" {
		t.Errorf("channel = %q, want none for the memory store", channel)
	}

	var ve *ValidationError
	if _, _, err := svc.RequestOTP(context.Background(), account.ID, domain.OTPIssueRequest{
		OperationKind: "wire",
		Amount:        "300.00",
	}); !errors.As(err, &ve) {
		t.Errorf("unknown kind err = %v, want ValidationError", err)
	}
}

func TestVerifyOTPConsumesChallenge(t *testing.T) {
	svc, _ := newTestService()
	account := signupTestAccount(t, svc, "alice@example.com")
	other := signupTestAccount(t, svc, "mallory@example.com")

	challenge := issueChallenge(t, svc, account.ID, "local", "100.00")
	op, err := svc.VerifyOTP(context.Background(), account.ID, domain.OTPRedeemRequest{Key: challenge.Key, Code: challenge.Code})
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if op.Kind != "local" || op.Amount != 10000 {
		t.Errorf("operation = %+v, want local/10000", op)
	}
	if _, err := svc.VerifyOTP(context.Background(), account.ID, domain.OTPRedeemRequest{Key: challenge.Key, Code: challenge.Code}); !errors.Is(err, otp.ErrChallengeNotFound) {
		t.Errorf("replay err = %v, want ErrChallengeNotFound", err)
	}

	// Redeeming someone else's challenge fails even with the right code.
	stolen := issueChallenge(t, svc, account.ID, "local", "100.00")
	if _, err := svc.VerifyOTP(context.Background(), other.ID, domain.OTPRedeemRequest{Key: stolen.Key, Code: stolen.Code}); !errors.Is(err, ErrOTPMismatch) {
		t.Errorf("cross-subject err = %v, want ErrOTPMismatch", err)
	}
}

func TestTransferRequiresMatchingChallenge(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	alice := signupTestAccount(t, svc, "alice@example.com")
	bob := signupTestAccount(t, svc, "bob@example.com")
	if _, _, err := svc.Deposit(ctx, alice.ID, domain.DepositRequest{Amount: "1000.00"}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	// Challenge issued for a different amount must not clear this transfer.
	challenge := issueChallenge(t, svc, alice.ID, "local", "500.00")
	_, err := svc.Transfer(ctx, alice.ID, domain.TransferRequest{
		TransferType:    "local",
		ToAccountNumber: bob.AccountNumber,
		Amount:          "300.00",
		RecipientName:   "Bob",
		OTPKey:          challenge.Key,
		OTPCode:         challenge.Code,
	})
	if !errors.Is(err, ErrOTPMismatch) {
		t.Fatalf("amount-mismatch err = %v, want ErrOTPMismatch", err)
	}

	// The mismatched redemption consumed the challenge.
	if _, err := svc.VerifyOTP(ctx, alice.ID, domain.OTPRedeemRequest{Key: challenge.Key, Code: challenge.Code}); !errors.Is(err, otp.ErrChallengeNotFound) {
		t.Errorf("challenge survived a mismatched redemption: %v", err)
	}

	// Nothing was written to the ledger.
	a, _ := repo.FindAccountByID(ctx, alice.ID)
	if a.Balance != 100000 {
		t.Errorf("balance after rejected transfer = %d, want 100000", a.Balance)
	}

	// A matching challenge clears the transfer.
	challenge = issueChallenge(t, svc, alice.ID, "local", "300.00")
	result, err := svc.Transfer(ctx, alice.ID, domain.TransferRequest{
		TransferType:    "local",
		ToAccountNumber: bob.AccountNumber,
		Amount:          "300.00",
		RecipientName:   "Bob",
		OTPKey:          challenge.Key,
		OTPCode:         challenge.Code,
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if result.SenderBalance != 70000 {
		t.Errorf("sender balance = %d, want 70000", result.SenderBalance)
	}

	// Single use: the same key/code cannot fund a second transfer.
	_, err = svc.Transfer(ctx, alice.ID, domain.TransferRequest{
		TransferType:    "local",
		ToAccountNumber: bob.AccountNumber,
		Amount:          "300.00",
		RecipientName:   "Bob",
		OTPKey:          challenge.Key,
		OTPCode:         challenge.Code,
	})
	if !errors.Is(err, otp.ErrChallengeNotFound) {
		t.Errorf("replayed transfer err = %v, want ErrChallengeNotFound", err)
	}
}

func TestTransferWrongCodeLeavesChallengeRedeemable(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	alice := signupTestAccount(t, svc, "alice@example.com")
	bob := signupTestAccount(t, svc, "bob@example.com")
	if _, _, err := svc.Deposit(ctx, alice.ID, domain.DepositRequest{Amount: "100.00"}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	challenge := issueChallenge(t, svc, alice.ID, "local", "50.00")
	wrongCode := "0000"
	if wrongCode == challenge.Code {
		wrongCode = "9999"
	}

	_, err := svc.Transfer(ctx, alice.ID, domain.TransferRequest{
		TransferType:    "local",
		ToAccountNumber: bob.AccountNumber,
		Amount:          "50.00",
		RecipientName:   "Bob",
		OTPKey:          challenge.Key,
		OTPCode:         wrongCode,
	})
	if !errors.Is(err, otp.ErrCodeMismatch) {
		t.Fatalf("wrong code err = %v, want ErrCodeMismatch", err)
	}
	a, _ := repo.FindAccountByID(ctx, alice.ID)
	if a.Balance != 10000 {
		t.Errorf("balance changed on rejected code: %d", a.Balance)
	}

	// The right code still works afterwards.
	if _, err := svc.Transfer(ctx, alice.ID, domain.TransferRequest{
		TransferType:    "local",
		ToAccountNumber: bob.AccountNumber,
		Amount:          "50.00",
		RecipientName:   "Bob",
		OTPKey:          challenge.Key,
		OTPCode:         challenge.Code,
	}); err != nil {
		t.Errorf("transfer with correct code after a miss: %v", err)
	}
}

func TestTransferInternationalValidatesSwiftCode(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	alice := signupTestAccount(t, svc, "alice@example.com")
	if _, _, err := svc.Deposit(ctx, alice.ID, domain.DepositRequest{Amount: "1000.00"}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	var ve *ValidationError
	for _, bad := range []string{"", "SHORT", "TOOLONGSWIFTCODE", "DEUT-DEFF"} {
		challenge := issueChallenge(t, svc, alice.ID, "international", "200.00")
		_, err := svc.Transfer(ctx, alice.ID, domain.TransferRequest{
			TransferType:    "international",
			ToAccountNumber: "DE89370400440532013000",
			Amount:          "200.00",
			RecipientName:   "Hans",
			SwiftCode:       bad,
			OTPKey:          challenge.Key,
			OTPCode:         challenge.Code,
		})
		if !errors.As(err, &ve) {
			t.Errorf("swift %q err = %v, want ValidationError", bad, err)
		}
	}

	challenge := issueChallenge(t, svc, alice.ID, "international", "200.00")
	result, err := svc.Transfer(ctx, alice.ID, domain.TransferRequest{
		TransferType:    "international",
		ToAccountNumber: "DE89370400440532013000",
		Amount:          "200.00",
		RecipientName:   "Hans",
		SwiftCode:       "DEUTDEFF",
		IbanNumber:      "DE89370400440532013000",
		OTPKey:          challenge.Key,
		OTPCode:         challenge.Code,
	})
	if err != nil {
		t.Fatalf("international transfer: %v", err)
	}
	tx := result.SenderTransaction
	if tx.Status != domain.TxStatusPending {
		t.Errorf("status = %q, want pending", tx.Status)
	}
	if tx.SettlementEstimate == nil {
		t.Fatal("missing settlement estimate")
	}
	delay := tx.SettlementEstimate.Sub(tx.CreatedAt)
	if delay < 47*time.Hour || delay > 49*time.Hour {
		t.Errorf("settlement estimate %v from creation, want about 48h", delay)
	}
	if result.RecipientTransaction != nil {
		t.Error("international transfer must not create a recipient transaction")
	}
}

func TestTransferValidationRunsBeforeRedemption(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	alice := signupTestAccount(t, svc, "alice@example.com")

	challenge := issueChallenge(t, svc, alice.ID, "local", "10.00")
	var ve *ValidationError
	_, err := svc.Transfer(ctx, alice.ID, domain.TransferRequest{
		TransferType:    "local",
		ToAccountNumber: "",
		Amount:          "10.00",
		OTPKey:          challenge.Key,
		OTPCode:         challenge.Code,
	})
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	// Validation failures must not consume the challenge.
	if _, err := svc.VerifyOTP(ctx, alice.ID, domain.OTPRedeemRequest{Key: challenge.Key, Code: challenge.Code}); err != nil {
		t.Errorf("challenge consumed by a validation failure: %v", err)
	}
}

func TestHistoryCountsBothSidesOfATransfer(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	alice := signupTestAccount(t, svc, "alice@example.com")
	bob := signupTestAccount(t, svc, "bob@example.com")
	if _, _, err := svc.Deposit(ctx, alice.ID, domain.DepositRequest{Amount: "100.00"}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	challenge := issueChallenge(t, svc, alice.ID, "local", "40.00")
	if _, err := svc.Transfer(ctx, alice.ID, domain.TransferRequest{
		TransferType:    "local",
		ToAccountNumber: bob.AccountNumber,
		Amount:          "40.00",
		RecipientName:   "Bob",
		OTPKey:          challenge.Key,
		OTPCode:         challenge.Code,
	}); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	aliceHistory, err := svc.History(ctx, alice.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(aliceHistory) != 2 {
		t.Errorf("alice history length = %d, want 2 (deposit + debit)", len(aliceHistory))
	}
	bobHistory, _ := svc.History(ctx, bob.ID)
	if len(bobHistory) != 1 || bobHistory[0].Amount != 4000 {
		t.Errorf("bob history = %+v, want one +4000 credit", bobHistory)
	}

	if _, err := svc.History(ctx, uuid.New()); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("unknown account err = %v, want ErrAccountNotFound", err)
	}
}
