/**
 * @description
 * This file contains the outcome verification service: the trust oracle that gates
 * escrow release. Recording a verification is idempotent per escrow — a repeat call
 * updates the existing record — and the fund-movement side effect fires only on the
 * transition into VERIFIED (one release) or REJECTED (one refund). Verification and
 * settlement stay decoupled so a review can be corrected while the escrow is still
 * HELD; once the escrow is terminal, a re-verification surfaces the conflict instead
 * of silently succeeding.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/domain"
	"github.com/agentmesh/settlement-service/internal/store"
)

// ErrInvalidVerificationStatus rejects statuses outside PENDING/VERIFIED/REJECTED.
var ErrInvalidVerificationStatus = errors.New("verification status must be PENDING, VERIFIED, or REJECTED")

// EscrowResolver is the slice of the AP2 service the outcome service depends on.
type EscrowResolver interface {
	Release(ctx context.Context, escrowID uuid.UUID, memo string) (*domain.Escrow, error)
	Complete(ctx context.Context, params CompleteParams) (*domain.Escrow, error)
}

// OutcomeService records deliverable verifications and triggers escrow resolution.
type OutcomeService struct {
	repo store.OutcomeStore
	ap2  EscrowResolver
}

// NewOutcomeService creates a new outcome verification service instance.
func NewOutcomeService(repo store.OutcomeStore, ap2 EscrowResolver) *OutcomeService {
	return &OutcomeService{repo: repo, ap2: ap2}
}

// VerificationParams capture a reviewer's (or automated evaluator's) judgment.
type VerificationParams struct {
	Status     string
	EscrowID   *uuid.UUID
	Evidence   map[string]any
	Notes      string
	ReviewerID *uuid.UUID
}

// CreateAgreement registers a new service agreement, typically when a buyer hires an
// agent and the hiring flow has already set up the escrow.
func (s *OutcomeService) CreateAgreement(ctx context.Context, agreement *domain.ServiceAgreement) (*domain.ServiceAgreement, error) {
	if agreement.Status == "" {
		agreement.Status = domain.AgreementStatusActive
	}
	if agreement.OutcomeType == "" {
		agreement.OutcomeType = "manual_review"
	}
	return s.repo.CreateAgreement(ctx, agreement)
}

// GetAgreement fetches a service agreement by id.
func (s *OutcomeService) GetAgreement(ctx context.Context, agreementID uuid.UUID) (*domain.ServiceAgreement, error) {
	return s.repo.FindAgreementByID(ctx, agreementID)
}

// findExisting locates the verification to update: by escrow id when one is supplied,
// otherwise the most recent verification recorded for the agreement.
func (s *OutcomeService) findExisting(ctx context.Context, agreementID uuid.UUID, escrowID *uuid.UUID) (*domain.OutcomeVerification, error) {
	if escrowID != nil {
		existing, err := s.repo.FindVerificationByEscrowID(ctx, *escrowID)
		if err != nil {
			if errors.Is(err, store.ErrVerificationNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return existing, nil
	}
	existing, err := s.repo.FindLatestVerificationByAgreement(ctx, agreementID)
	if err != nil {
		if errors.Is(err, store.ErrVerificationNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return existing, nil
}

// RecordVerification upserts the verification for an agreement and dispatches the
// escrow side effect on a status transition: VERIFIED releases the escrow exactly
// once, REJECTED refunds it exactly once, PENDING moves no funds. Domain errors from
// the escrow layer propagate unmodified.
func (s *OutcomeService) RecordVerification(ctx context.Context, agreementID uuid.UUID, params VerificationParams) (*domain.OutcomeVerification, error) {
	switch params.Status {
	case domain.VerificationStatusPending, domain.VerificationStatusVerified, domain.VerificationStatusRejected:
	default:
		return nil, ErrInvalidVerificationStatus
	}

	agreement, err := s.repo.FindAgreementByID(ctx, agreementID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findExisting(ctx, agreementID, params.EscrowID)
	if err != nil {
		return nil, err
	}

	previousStatus := ""
	if existing != nil {
		previousStatus = existing.Status
	}

	var verifiedAt *time.Time
	if params.Status != domain.VerificationStatusPending {
		now := time.Now().UTC()
		verifiedAt = &now
	}

	record := &domain.OutcomeVerification{
		AgreementID: agreementID,
		EscrowID:    params.EscrowID,
		Status:      params.Status,
		Evidence:    params.Evidence,
		Notes:       optionalString(params.Notes),
		ReviewerID:  params.ReviewerID,
		VerifiedAt:  verifiedAt,
	}

	var verification *domain.OutcomeVerification
	if existing != nil {
		record.ID = existing.ID
		if record.EscrowID == nil {
			record.EscrowID = existing.EscrowID
		}
		verification, err = s.repo.UpdateVerification(ctx, record)
	} else {
		verification, err = s.repo.CreateVerification(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	if params.Status != previousStatus {
		if err := s.dispatchSideEffect(ctx, agreement, verification, params); err != nil {
			return nil, err
		}
	}

	return verification, nil
}

// dispatchSideEffect performs the fund movement and agreement status propagation for
// a verification that just transitioned into its status.
func (s *OutcomeService) dispatchSideEffect(ctx context.Context, agreement *domain.ServiceAgreement, verification *domain.OutcomeVerification, params VerificationParams) error {
	escrowID := verification.EscrowID
	if escrowID == nil {
		escrowID = agreement.EscrowID
	}

	var agreementStatus string
	switch verification.Status {
	case domain.VerificationStatusVerified:
		agreementStatus = domain.AgreementStatusCompleted
		if escrowID != nil {
			if _, err := s.ap2.Release(ctx, *escrowID, params.Notes); err != nil {
				return err
			}
		} else {
			log.Printf("level=warn component=outcome_service msg=\"verified outcome with no linked escrow; nothing to release\" agreement_id=%s", agreement.ID)
		}
	case domain.VerificationStatusRejected:
		agreementStatus = domain.AgreementStatusDisputed
		if escrowID != nil {
			if _, err := s.ap2.Complete(ctx, CompleteParams{
				EscrowID:      *escrowID,
				Status:        domain.AP2StatusFailed,
				FailureReason: params.Notes,
			}); err != nil {
				return err
			}
		} else {
			log.Printf("level=warn component=outcome_service msg=\"rejected outcome with no linked escrow; nothing to refund\" agreement_id=%s", agreement.ID)
		}
	default:
		// PENDING: no fund movement, agreement status unchanged.
		return nil
	}

	if agreement.Status != agreementStatus {
		if err := s.repo.UpdateAgreementStatus(ctx, agreement.ID, agreementStatus); err != nil {
			return err
		}
	}
	return nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
