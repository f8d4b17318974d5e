package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/app"
	"github.com/agentmesh/settlement-service/internal/domain"
	"github.com/agentmesh/settlement-service/internal/store"
)

type webhookRailRepoStub struct {
	store.Repository

	confirmCalled int
	failCalled    int
}

func (s *webhookRailRepoStub) ConfirmRailTransaction(ctx context.Context, rail *domain.RailTransaction) (bool, *domain.RailTransaction, error) {
	s.confirmCalled++
	confirmed := *rail
	confirmed.ID = uuid.New()
	confirmed.Status = domain.RailStatusConfirmed
	return true, &confirmed, nil
}

func (s *webhookRailRepoStub) FailRailTransaction(ctx context.Context, txHash, network string, reason *string) (*domain.RailTransaction, error) {
	s.failCalled++
	return &domain.RailTransaction{TxHash: txHash, Network: network, Status: domain.RailStatusFailed}, nil
}

func (s *webhookRailRepoStub) FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	return &domain.Wallet{ID: walletID, Status: domain.WalletStatusActive}, nil
}

func newWebhookHandlers(repo *webhookRailRepoStub, cfg WebhookConfig) *SettlementHandlers {
	rail := app.NewRailService(repo, nil, "")
	return NewSettlementHandlers(nil, nil, nil, rail, nil, cfg)
}

func signHex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func x402Body(t *testing.T) []byte {
	t.Helper()
	walletID := uuid.New()
	return []byte(fmt.Sprintf(
		`{"event":"payment.confirmed","data":{"tx_hash":"0xfeed","network":"base","seller_wallet_id":"%s","amount":75000,"currency":"USD"}}`,
		walletID,
	))
}

func TestX402Webhook_RejectsMissingSignature(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{X402Secret: "whsec_x402", StrictAuth: true})

	body := x402Body(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/x402", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()

	handlers.X402WebhookHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if repo.confirmCalled != 0 {
		t.Fatal("expected no ledger writes for an unsigned delivery")
	}
}

func TestX402Webhook_RejectsTamperedBody(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{X402Secret: "whsec_x402", StrictAuth: true})

	body := x402Body(t)
	signature := signHex("whsec_x402", body)
	tampered := strings.Replace(string(body), "75000", "95000", 1)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/x402", strings.NewReader(tampered))
	req.Header.Set("x-webhook-signature", "sha256="+signature)
	rec := httptest.NewRecorder()

	handlers.X402WebhookHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if repo.confirmCalled != 0 {
		t.Fatal("expected no ledger writes for a tampered delivery")
	}
}

func TestX402Webhook_AcceptsValidSignature(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{X402Secret: "whsec_x402", StrictAuth: true})

	body := x402Body(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/x402", strings.NewReader(string(body)))
	req.Header.Set("x-webhook-signature", "sha256="+signHex("whsec_x402", body))
	rec := httptest.NewRecorder()

	handlers.X402WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.confirmCalled != 1 {
		t.Fatalf("expected one confirmation, got %d", repo.confirmCalled)
	}
}

func TestX402Webhook_StrictModeRejectsWhenSecretMissing(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{StrictAuth: true})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/x402", strings.NewReader(string(x402Body(t))))
	rec := httptest.NewRecorder()

	handlers.X402WebhookHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no configured secret in strict mode, got %d", rec.Code)
	}
}

func TestX402Webhook_NonStrictModeAdmitsUnsignedDelivery(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{StrictAuth: false})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/x402", strings.NewReader(string(x402Body(t))))
	rec := httptest.NewRecorder()

	handlers.X402WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 in non-strict mode, got %d", rec.Code)
	}
	if repo.confirmCalled != 1 {
		t.Fatalf("expected one confirmation, got %d", repo.confirmCalled)
	}
}

func stripeSignatureHeader(secret string, body []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func stripeBody() []byte {
	walletID := uuid.New()
	return []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":4200,"currency":"usd","metadata":{"wallet_id":"%s"}}}}`,
		walletID,
	))
}

func TestStripeWebhook_AcceptsValidSignature(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{StripeSecret: "whsec_stripe", StrictAuth: true, StripeToleranceSeconds: 300})

	body := stripeBody()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe/payments", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", stripeSignatureHeader("whsec_stripe", body, time.Now().Unix()))
	rec := httptest.NewRecorder()

	handlers.StripePaymentsWebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.confirmCalled != 1 {
		t.Fatalf("expected one confirmation, got %d", repo.confirmCalled)
	}
}

func TestStripeWebhook_RejectsStaleTimestamp(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{StripeSecret: "whsec_stripe", StrictAuth: true, StripeToleranceSeconds: 300})

	body := stripeBody()
	stale := time.Now().Add(-time.Hour).Unix()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe/payments", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", stripeSignatureHeader("whsec_stripe", body, stale))
	rec := httptest.NewRecorder()

	handlers.StripePaymentsWebhookHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a stale signature, got %d", rec.Code)
	}
	if repo.confirmCalled != 0 {
		t.Fatal("expected no ledger writes for a stale delivery")
	}
}

func TestStripeWebhook_RejectsWrongSecret(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{StripeSecret: "whsec_stripe", StrictAuth: true, StripeToleranceSeconds: 300})

	body := stripeBody()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe/payments", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", stripeSignatureHeader("whsec_other", body, time.Now().Unix()))
	rec := httptest.NewRecorder()

	handlers.StripePaymentsWebhookHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a mismatched secret, got %d", rec.Code)
	}
}

func TestStripeWebhook_IgnoredEventTypeStillAcked(t *testing.T) {
	repo := &webhookRailRepoStub{}
	handlers := newWebhookHandlers(repo, WebhookConfig{StripeSecret: "whsec_stripe", StrictAuth: true, StripeToleranceSeconds: 300})

	body := []byte(`{"id":"evt_2","type":"payment_intent.created","data":{"object":{"id":"pi_2"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe/payments", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", stripeSignatureHeader("whsec_stripe", body, time.Now().Unix()))
	rec := httptest.NewRecorder()

	handlers.StripePaymentsWebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an ignored event type, got %d", rec.Code)
	}
	if repo.confirmCalled != 0 || repo.failCalled != 0 {
		t.Fatal("expected no ledger writes for an ignored event type")
	}
}
