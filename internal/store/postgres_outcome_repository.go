/**
 * @description
 * PostgreSQL implementation of the service agreement and outcome verification portions
 * of the `Repository` interface. Verifications are keyed by escrow id when one is
 * linked (a partial unique index enforces at most one row per escrow); re-recording a
 * verification updates the existing row rather than inserting a duplicate.
 *
 * @dependencies
 * - context, encoding/json, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentmesh/settlement-service/internal/domain"
)

const agreementColumns = `id, agent_id, buyer_id, escrow_id, outcome_type, status, created_at, updated_at`

const verificationColumns = `id, agreement_id, escrow_id, status, evidence, notes, reviewer_id,
	verified_at, created_at, updated_at`

func scanAgreement(row rowScanner) (*domain.ServiceAgreement, error) {
	var a domain.ServiceAgreement
	err := row.Scan(&a.ID, &a.AgentID, &a.BuyerID, &a.EscrowID, &a.OutcomeType, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanVerification(row rowScanner) (*domain.OutcomeVerification, error) {
	var (
		v   domain.OutcomeVerification
		raw []byte
	)
	err := row.Scan(&v.ID, &v.AgreementID, &v.EscrowID, &v.Status, &raw, &v.Notes, &v.ReviewerID,
		&v.VerifiedAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v.Evidence); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

// FindAgreementByID fetches a service agreement by primary key.
func (r *PostgresRepository) FindAgreementByID(ctx context.Context, agreementID uuid.UUID) (*domain.ServiceAgreement, error) {
	row := r.db.QueryRow(ctx, `SELECT `+agreementColumns+` FROM service_agreements WHERE id = $1`, agreementID)
	agreement, err := scanAgreement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgreementNotFound
		}
		return nil, err
	}
	return agreement, nil
}

// CreateAgreement inserts a new service agreement, typically when a buyer hires an agent.
func (r *PostgresRepository) CreateAgreement(ctx context.Context, agreement *domain.ServiceAgreement) (*domain.ServiceAgreement, error) {
	query := `
		INSERT INTO service_agreements (agent_id, buyer_id, escrow_id, outcome_type, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + agreementColumns
	return scanAgreement(r.db.QueryRow(ctx, query,
		agreement.AgentID, agreement.BuyerID, agreement.EscrowID, agreement.OutcomeType, agreement.Status))
}

// UpdateAgreementStatus writes a new agreement status.
func (r *PostgresRepository) UpdateAgreementStatus(ctx context.Context, agreementID uuid.UUID, status string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE service_agreements SET status = $1, updated_at = NOW() WHERE id = $2`, status, agreementID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAgreementNotFound
	}
	return nil
}

// FindVerificationByEscrowID returns the verification linked to an escrow, if any.
func (r *PostgresRepository) FindVerificationByEscrowID(ctx context.Context, escrowID uuid.UUID) (*domain.OutcomeVerification, error) {
	row := r.db.QueryRow(ctx, `SELECT `+verificationColumns+` FROM outcome_verifications WHERE escrow_id = $1`, escrowID)
	verification, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVerificationNotFound
		}
		return nil, err
	}
	return verification, nil
}

// FindLatestVerificationByAgreement returns the most recent verification recorded for
// an agreement, used as the idempotency fallback when no escrow id is supplied.
func (r *PostgresRepository) FindLatestVerificationByAgreement(ctx context.Context, agreementID uuid.UUID) (*domain.OutcomeVerification, error) {
	query := `
		SELECT ` + verificationColumns + `
		FROM outcome_verifications
		WHERE agreement_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	verification, err := scanVerification(r.db.QueryRow(ctx, query, agreementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVerificationNotFound
		}
		return nil, err
	}
	return verification, nil
}

// CreateVerification inserts a new verification record.
func (r *PostgresRepository) CreateVerification(ctx context.Context, verification *domain.OutcomeVerification) (*domain.OutcomeVerification, error) {
	raw, err := marshalMetadata(verification.Evidence)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO outcome_verifications (agreement_id, escrow_id, status, evidence, notes, reviewer_id, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + verificationColumns
	return scanVerification(r.db.QueryRow(ctx, query,
		verification.AgreementID, verification.EscrowID, verification.Status, raw,
		verification.Notes, verification.ReviewerID, verification.VerifiedAt))
}

// UpdateVerification rewrites an existing verification in place (re-review).
func (r *PostgresRepository) UpdateVerification(ctx context.Context, verification *domain.OutcomeVerification) (*domain.OutcomeVerification, error) {
	raw, err := marshalMetadata(verification.Evidence)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE outcome_verifications
		SET status = $2, evidence = $3, notes = $4, reviewer_id = $5, verified_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + verificationColumns
	updated, err := scanVerification(r.db.QueryRow(ctx, query,
		verification.ID, verification.Status, raw, verification.Notes,
		verification.ReviewerID, verification.VerifiedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVerificationNotFound
		}
		return nil, err
	}
	return updated, nil
}
