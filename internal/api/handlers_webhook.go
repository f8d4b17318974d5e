/**
 * @description
 * This file contains the webhook endpoints for external payment rails. Both adapters
 * authenticate by HMAC-SHA256 over the exact raw request body, so the body is buffered
 * before any JSON parsing. The x402 facilitator signs the body directly and presents
 * the digest as `x-webhook-signature: sha256=<hex>`; Stripe signs `<timestamp>.<body>`
 * and presents it as `Stripe-Signature: t=<ts>,v1=<hex>` with a replay tolerance
 * window. When no secret is configured, strict mode rejects every delivery; non-strict
 * mode admits them unverified, which is intended for local development only.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex, io, net/http: Standard Go libraries.
 * - internal/domain: Webhook payload models.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentmesh/settlement-service/internal/domain"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB

// readWebhookBody buffers the raw request body; the signature is computed over these
// exact bytes, so this must happen before any decoding.
func (h *SettlementHandlers) readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unable to read request body")
		return nil, false
	}
	if len(body) > maxWebhookBodyBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

// verifyX402Signature checks `x-webhook-signature: sha256=<hex>` against the HMAC of
// the raw body.
func (h *SettlementHandlers) verifyX402Signature(r *http.Request, body []byte) bool {
	secret := h.webhooks.X402Secret
	if secret == "" {
		if h.webhooks.StrictAuth {
			return false
		}
		log.Printf("level=warn component=webhook msg=\"x402 webhook secret not configured; accepting unverified delivery\"")
		return true
	}

	header := r.Header.Get("x-webhook-signature")
	presented, ok := strings.CutPrefix(header, "sha256=")
	if !ok || presented == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(presented)))
}

// verifyStripeSignature checks the `Stripe-Signature` header: the v1 value must be the
// HMAC of `<timestamp>.<body>` and the timestamp must be within the tolerance window.
func (h *SettlementHandlers) verifyStripeSignature(r *http.Request, body []byte) bool {
	secret := h.webhooks.StripeSecret
	if secret == "" {
		if h.webhooks.StrictAuth {
			return false
		}
		log.Printf("level=warn component=webhook msg=\"stripe webhook secret not configured; accepting unverified delivery\"")
		return true
	}

	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		return false
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return false
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return false
	}

	tolerance := time.Duration(h.webhooks.StripeToleranceSeconds) * time.Second
	if tolerance > 0 {
		age := time.Since(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
			return true
		}
	}
	return false
}

// X402WebhookHandler ingests x402 facilitator payment confirmations and failures.
func (h *SettlementHandlers) X402WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowRate(w, r, "webhook_x402", h.webhooks.RateLimitPerMinute) {
		return
	}

	body, ok := h.readWebhookBody(w, r)
	if !ok {
		return
	}
	if !h.verifyX402Signature(r, body) {
		h.writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var event domain.X402WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rail, err := h.rail.HandleX402Event(r.Context(), event)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	response := map[string]any{"status": "ok"}
	if rail != nil {
		response["transaction"] = rail
	}
	h.writeJSON(w, http.StatusOK, response)
}

// StripePaymentsWebhookHandler ingests Stripe payment-intent events.
func (h *SettlementHandlers) StripePaymentsWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowRate(w, r, "webhook_stripe", h.webhooks.RateLimitPerMinute) {
		return
	}

	body, ok := h.readWebhookBody(w, r)
	if !ok {
		return
	}
	if !h.verifyStripeSignature(r, body) {
		h.writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var event domain.StripeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rail, err := h.rail.HandleStripePaymentEvent(r.Context(), event)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	response := map[string]any{"status": "ok"}
	if rail != nil {
		response["transaction"] = rail
	}
	h.writeJSON(w, http.StatusOK, response)
}

// StripeAccountsWebhookHandler acknowledges Stripe account events. Connected-account
// state is owned by the onboarding service; the settlement ledger only logs them.
func (h *SettlementHandlers) StripeAccountsWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowRate(w, r, "webhook_stripe", h.webhooks.RateLimitPerMinute) {
		return
	}

	body, ok := h.readWebhookBody(w, r)
	if !ok {
		return
	}
	if !h.verifyStripeSignature(r, body) {
		h.writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	log.Printf("level=info component=webhook msg=\"stripe account event acknowledged\" event_id=%s type=%s", event.ID, event.Type)
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
