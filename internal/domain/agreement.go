/**
 * @description
 * This file defines the service agreement and outcome verification domain models. A
 * service agreement links an agent to an optional buyer and escrow; outcome verification
 * is the trust oracle that gates escrow release — a VERIFIED outcome settles the linked
 * escrow, a REJECTED outcome refunds it.
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

// Service agreement states.
const (
	AgreementStatusActive    = "ACTIVE"
	AgreementStatusCompleted = "COMPLETED"
	AgreementStatusDisputed  = "DISPUTED"
)

// Outcome verification states.
const (
	VerificationStatusPending  = "PENDING"
	VerificationStatusVerified = "VERIFIED"
	VerificationStatusRejected = "REJECTED"
)

// ServiceAgreement links an agent, an optional buyer, and an optional escrow to a
// deliverable whose outcome will be verified.
type ServiceAgreement struct {
	ID          uuid.UUID  `json:"id"`
	AgentID     uuid.UUID  `json:"agent_id"`
	BuyerID     *uuid.UUID `json:"buyer_id,omitempty"`
	EscrowID    *uuid.UUID `json:"escrow_id,omitempty"`
	OutcomeType string     `json:"outcome_type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OutcomeVerification records a judgment about whether delivered work satisfied a
// service agreement. At most one verification exists per escrow; re-recording updates
// the existing row rather than creating a duplicate.
type OutcomeVerification struct {
	ID          uuid.UUID      `json:"id"`
	AgreementID uuid.UUID      `json:"agreement_id"`
	EscrowID    *uuid.UUID     `json:"escrow_id,omitempty"`
	Status      string         `json:"status"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
	ReviewerID  *uuid.UUID     `json:"reviewer_id,omitempty"`
	VerifiedAt  *time.Time     `json:"verified_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
