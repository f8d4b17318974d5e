package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published to the payments topic exchange.
const (
	EventEscrowInitiated = "escrow.initiated"
	EventEscrowSettled   = "escrow.settled"
	EventEscrowRefunded  = "escrow.refunded"
	EventWalletCredited  = "wallet.credited"
	EventRailConfirmed   = "rail.payment.confirmed"
)

// EscrowEvent is published whenever an escrow changes state, so that notification and
// analytics consumers can react without polling the ledger.
type EscrowEvent struct {
	EscrowID            uuid.UUID `json:"escrow_id"`
	SourceWalletID      uuid.UUID `json:"source_wallet_id"`
	DestinationWalletID uuid.UUID `json:"destination_wallet_id"`
	Amount              int64     `json:"amount"`
	Status              string    `json:"status"`
	Reason              *string   `json:"reason,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// WalletCreditedEvent is published after an externally funded credit lands on a wallet.
type WalletCreditedEvent struct {
	WalletID  uuid.UUID `json:"wallet_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Network   string    `json:"network"`
	Reference string    `json:"reference"`
	Timestamp time.Time `json:"timestamp"`
}

// OutcomeReportedEvent is consumed from the quality pipeline when a reviewer or an
// automated evaluation reports a deliverable outcome for an agreement.
type OutcomeReportedEvent struct {
	AgreementID uuid.UUID      `json:"agreement_id"`
	EscrowID    *uuid.UUID     `json:"escrow_id,omitempty"`
	Status      string         `json:"status"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	ReviewerID  *uuid.UUID     `json:"reviewer_id,omitempty"`
}
