package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vaultbank/ledger-service/internal/app"
	"github.com/vaultbank/ledger-service/internal/config"
	"github.com/vaultbank/ledger-service/internal/notify"
	"github.com/vaultbank/ledger-service/internal/otp"
	"github.com/vaultbank/ledger-service/internal/store"
)

const testSecret = "handler-test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		JWTSecret:               testSecret,
		JWTTTLHours:             1,
		OTPTTLSeconds:           300,
		SettlementEstimateHours: 48,
	}
	service := app.NewService(store.NewMemoryRepository(), otp.NewMemoryStore(notify.NopNotifier{}, 4), nil, cfg)
	server := httptest.NewServer(LedgerRoutes(NewLedgerHandlers(service), testSecret))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// signupAndLogin registers an account and returns its session token plus the
// generated account number.
func signupAndLogin(t *testing.T, server *httptest.Server, email string) (token, accountNumber string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/auth/signup", "", map[string]string{
		"email":    email,
		"password": "a long enough password",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, body = %v", resp.StatusCode, body)
	}
	accountNumber, _ = body["account_number"].(string)

	resp, body = doJSON(t, http.MethodPost, server.URL+"/auth/login", "", map[string]string{
		"email":    email,
		"password": "a long enough password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body = %v", resp.StatusCode, body)
	}
	token, _ = body["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token, accountNumber
}

func requestOTP(t *testing.T, server *httptest.Server, token, kind, amount string) (key, code string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/wallet/otp/request", token, map[string]string{
		"operation_kind": kind,
		"amount":         amount,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("otp status = %d, body = %v", resp.StatusCode, body)
	}
	key, _ = body["key"].(string)
	code, _ = body["code"].(string)
	if key == "" || code == "" {
		t.Fatalf("otp response missing key or code: %v", body)
	}
	return key, code
}

func TestAuthEndpoints(t *testing.T) {
	server := newTestServer(t)

	token, accountNumber := signupAndLogin(t, server, "alice@example.com")
	if len(accountNumber) == 0 {
		t.Error("signup response missing account_number")
	}

	// Duplicate email is a conflict.
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/auth/signup", "", map[string]string{
		"email":    "alice@example.com",
		"password": "a long enough password",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate signup status = %d, want 409", resp.StatusCode)
	}

	// Bad password is a 401 on login.
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", resp.StatusCode)
	}

	// Wallet routes require the token.
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/wallet/balance", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated balance status = %d, want 401", resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodGet, server.URL+"/wallet/balance", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("balance status = %d, body = %v", resp.StatusCode, body)
	}
	if body["balance"].(float64) != 0 {
		t.Errorf("fresh balance = %v, want 0", body["balance"])
	}
}

func TestDepositAndTransferFlow(t *testing.T) {
	server := newTestServer(t)
	aliceToken, _ := signupAndLogin(t, server, "alice@example.com")
	bobToken, bobNumber := signupAndLogin(t, server, "bob@example.com")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/wallet/deposit", aliceToken, map[string]string{
		"amount": "1000.00",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d, body = %v", resp.StatusCode, body)
	}
	if body["balance"].(float64) != 100000 {
		t.Errorf("balance after deposit = %v, want 100000", body["balance"])
	}

	key, code := requestOTP(t, server, aliceToken, "local", "300.00")
	resp, body = doJSON(t, http.MethodPost, server.URL+"/wallet/transfer", aliceToken, map[string]string{
		"transfer_type":     "local",
		"to_account_number": bobNumber,
		"amount":            "300.00",
		"recipient_name":    "Bob",
		"otp_key":           key,
		"otp_code":          code,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("transfer status = %d, body = %v", resp.StatusCode, body)
	}
	if body["balance"].(float64) != 70000 {
		t.Errorf("sender balance = %v, want 70000", body["balance"])
	}

	// Recipient sees the credit in balance and history.
	resp, body = doJSON(t, http.MethodGet, server.URL+"/wallet/balance", bobToken, nil)
	if resp.StatusCode != http.StatusOK || body["balance"].(float64) != 30000 {
		t.Errorf("recipient balance = %v (status %d), want 30000", body["balance"], resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodGet, server.URL+"/wallet/transactions", bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transactions status = %d", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("recipient history count = %v, want 1", body["count"])
	}
}

func TestTransferErrorStatuses(t *testing.T) {
	server := newTestServer(t)
	token, _ := signupAndLogin(t, server, "alice@example.com")
	_, bobNumber := signupAndLogin(t, server, "bob@example.com")

	if resp, _ := doJSON(t, http.MethodPost, server.URL+"/wallet/deposit", token, map[string]string{"amount": "100.00"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d", resp.StatusCode)
	}

	// Insufficient funds: 402 carrying the current balance.
	key, code := requestOTP(t, server, token, "local", "150.00")
	resp, body := doJSON(t, http.MethodPost, server.URL+"/wallet/transfer", token, map[string]string{
		"transfer_type":     "local",
		"to_account_number": bobNumber,
		"amount":            "150.00",
		"recipient_name":    "Bob",
		"otp_key":           key,
		"otp_code":          code,
	})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("insufficient funds status = %d, want 402 (body %v)", resp.StatusCode, body)
	}
	if body["current_balance"].(float64) != 10000 {
		t.Errorf("current_balance = %v, want 10000", body["current_balance"])
	}

	// Wrong passcode: 401.
	key, code = requestOTP(t, server, token, "local", "50.00")
	wrong := "0000"
	if wrong == code {
		wrong = "9999"
	}
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/wallet/transfer", token, map[string]string{
		"transfer_type":     "local",
		"to_account_number": bobNumber,
		"amount":            "50.00",
		"recipient_name":    "Bob",
		"otp_key":           key,
		"otp_code":          wrong,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong code status = %d, want 401", resp.StatusCode)
	}

	// Unknown recipient: 404.
	key, code = requestOTP(t, server, token, "local", "50.00")
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/wallet/transfer", token, map[string]string{
		"transfer_type":     "local",
		"to_account_number": "000000000000",
		"amount":            "50.00",
		"recipient_name":    "Nobody",
		"otp_key":           key,
		"otp_code":          code,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown recipient status = %d, want 404", resp.StatusCode)
	}

	// Malformed amount: 400 before any challenge is consumed.
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/wallet/transfer", token, map[string]string{
		"transfer_type":     "local",
		"to_account_number": bobNumber,
		"amount":            "abc",
		"recipient_name":    "Bob",
		"otp_key":           "k",
		"otp_code":          "c",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad amount status = %d, want 400", resp.StatusCode)
	}
}

func TestInternationalTransferEndpoint(t *testing.T) {
	server := newTestServer(t)
	token, _ := signupAndLogin(t, server, "alice@example.com")
	if resp, _ := doJSON(t, http.MethodPost, server.URL+"/wallet/deposit", token, map[string]string{"amount": "500.00"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit failed")
	}

	key, code := requestOTP(t, server, token, "international", "200.00")
	resp, body := doJSON(t, http.MethodPost, server.URL+"/wallet/transfer", token, map[string]string{
		"transfer_type":     "international",
		"to_account_number": "DE89370400440532013000",
		"amount":            "200.00",
		"recipient_name":    "Hans",
		"swift_code":        "DEUTDEFF",
		"iban_number":       "DE89370400440532013000",
		"otp_key":           key,
		"otp_code":          code,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("international transfer status = %d, body = %v", resp.StatusCode, body)
	}

	tx, ok := body["transaction"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing transaction in response: %v", body)
	}
	if tx["status"] != "pending" {
		t.Errorf("transaction status = %v, want pending", tx["status"])
	}
	if tx["settlement_estimate"] == nil {
		t.Error("missing settlement_estimate on pending international transfer")
	}

	// OTP issued for local must not clear an international transfer.
	key, code = requestOTP(t, server, token, "local", "100.00")
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/wallet/transfer", token, map[string]string{
		"transfer_type":     "international",
		"to_account_number": "DE89370400440532013000",
		"amount":            "100.00",
		"recipient_name":    "Hans",
		"swift_code":        "DEUTDEFF",
		"otp_key":           key,
		"otp_code":          code,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("kind-mismatch status = %d, want 401", resp.StatusCode)
	}
}

func TestVerifyOTPEndpointIsSingleUse(t *testing.T) {
	server := newTestServer(t)
	token, _ := signupAndLogin(t, server, "alice@example.com")

	key, code := requestOTP(t, server, token, "local", "25.00")
	resp, body := doJSON(t, http.MethodPost, server.URL+"/wallet/otp/verify", token, map[string]string{
		"key":  key,
		"code": code,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d, body = %v", resp.StatusCode, body)
	}
	if body["verified"] != true {
		t.Errorf("verified = %v, want true", body["verified"])
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/wallet/otp/verify", token, map[string]string{
		"key":  key,
		"code": code,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("replayed verify status = %d, want 401", resp.StatusCode)
	}
}
