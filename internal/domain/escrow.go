/**
 * @description
 * This file defines the escrow domain model for the AP2 payment protocol. An escrow is a
 * three-party payment: funds held on a source wallet, a destination wallet that receives
 * them on settlement, and an optional verifier that decides the outcome. Each escrow is
 * tied 1:1 to the HOLD ledger transaction that reserved its funds.
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

// Escrow states. HELD is the only non-terminal state: an escrow settles or refunds
// exactly once.
const (
	EscrowStatusHeld     = "HELD"
	EscrowStatusSettled  = "SETTLED"
	EscrowStatusRefunded = "REFUNDED"
)

// AP2 completion statuses accepted by the complete operation. Anything other than
// AUTHORIZED or FAILED is treated as a confirmation and settles the escrow.
const (
	AP2StatusAuthorized = "AUTHORIZED"
	AP2StatusConfirmed  = "CONFIRMED"
	AP2StatusFailed     = "FAILED"
)

// Escrow models funds held from a source wallet pending release to a destination wallet.
// Amount always equals the amount of the linked hold transaction.
type Escrow struct {
	ID                  uuid.UUID  `json:"id"`
	SourceWalletID      uuid.UUID  `json:"source_wallet_id"`
	DestinationWalletID uuid.UUID  `json:"destination_wallet_id"`
	HoldTransactionID   uuid.UUID  `json:"hold_transaction_id"`
	Amount              int64      `json:"amount"`
	ReleaseCondition    *string    `json:"release_condition,omitempty"`
	Status              string     `json:"status"`
	RefundedAt          *time.Time `json:"refunded_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
