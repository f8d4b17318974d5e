/**
 * @description
 * This file defines the wallet and ledger transaction domain models. Wallets cache a
 * balance derived from the append-only ledger; every mutation of the balance is backed
 * by a ledger transaction row. Amounts are int64 minor units (cents) — direction is
 * encoded by the transaction type, never by sign.
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

// Wallet owner kinds. Ownership is exclusive: a wallet belongs to exactly one of these.
const (
	OwnerTypeUser         = "user"
	OwnerTypeAgent        = "agent"
	OwnerTypeOrganization = "organization"
)

// Wallet lifecycle states. Wallets are never hard-deleted, only closed.
const (
	WalletStatusActive    = "ACTIVE"
	WalletStatusSuspended = "SUSPENDED"
	WalletStatusClosed    = "CLOSED"
)

// Ledger transaction types.
const (
	TransactionTypeCredit  = "CREDIT"
	TransactionTypeDebit   = "DEBIT"
	TransactionTypeHold    = "HOLD"
	TransactionTypeRelease = "RELEASE"
)

// Ledger transaction states. A transaction is immutable once SETTLED or FAILED;
// corrections are recorded as new transactions.
const (
	TransactionStatusPending = "PENDING"
	TransactionStatusSettled = "SETTLED"
	TransactionStatusFailed  = "FAILED"
)

// Wallet represents a currency account owned by a user, agent, or organization.
// Balance is the settled balance; pending holds reduce the available balance only.
type Wallet struct {
	ID        uuid.UUID `json:"id"`
	OwnerType string    `json:"owner_type"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerTransaction is a single append-only ledger entry against a wallet.
type LedgerTransaction struct {
	ID        uuid.UUID      `json:"id"`
	WalletID  uuid.UUID      `json:"wallet_id"`
	Type      string         `json:"type"`
	Amount    int64          `json:"amount"`
	Status    string         `json:"status"`
	Reference *string        `json:"reference,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// WalletBalances pairs the settled balance with the balance net of open holds.
type WalletBalances struct {
	Balance   int64 `json:"balance"`
	Available int64 `json:"available_balance"`
}
