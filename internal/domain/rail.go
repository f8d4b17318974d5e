/**
 * @description
 * This file defines the external payment rail domain models. Rail transactions mirror
 * payments that settle outside the internal ledger (x402 crypto transfers, card-network
 * payments) and are ingested via webhooks. The external transaction hash is the
 * idempotency key: replayed confirmations must not double-credit.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: For entity identifiers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Rail transaction states. CONFIRMED and FAILED are terminal.
const (
	RailStatusPending   = "PENDING"
	RailStatusConfirmed = "CONFIRMED"
	RailStatusFailed    = "FAILED"
)

// Rail networks handled by the webhook adapters.
const (
	RailNetworkStripe = "stripe"
)

// RailTransaction is a ledger-visible record of an externally settled payment.
type RailTransaction struct {
	ID             uuid.UUID  `json:"id"`
	TxHash         string     `json:"tx_hash"`
	Network        string     `json:"network"`
	BuyerAddress   *string    `json:"buyer_address,omitempty"`
	SellerAddress  *string    `json:"seller_address,omitempty"`
	SellerWalletID *uuid.UUID `json:"seller_wallet_id,omitempty"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// X402WebhookEvent is the payload posted by the x402 facilitator once a crypto payment
// reaches finality (or permanently fails) on chain.
type X402WebhookEvent struct {
	Event string          `json:"event"`
	Data  X402PaymentData `json:"data"`
}

// X402PaymentData carries the externally confirmed payment details.
type X402PaymentData struct {
	TxHash         string  `json:"tx_hash"`
	Network        string  `json:"network"`
	BuyerAddress   string  `json:"buyer_address"`
	SellerAddress  string  `json:"seller_address"`
	SellerWalletID *string `json:"seller_wallet_id,omitempty"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	ConfirmedAt    *string `json:"confirmed_at,omitempty"`
	FailureReason  *string `json:"failure_reason,omitempty"`
}

// StripeWebhookEvent is the subset of the Stripe event envelope the service consumes.
type StripeWebhookEvent struct {
	ID   string               `json:"id"`
	Type string               `json:"type"`
	Data StripeWebhookPayload `json:"data"`
}

// StripeWebhookPayload wraps the event object.
type StripeWebhookPayload struct {
	Object StripePaymentIntent `json:"object"`
}

// StripePaymentIntent carries the fields needed to credit a wallet after a card payment.
// The wallet to credit (or the owner to lazily create one for) travels in the intent
// metadata set by the checkout flow.
type StripePaymentIntent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}
