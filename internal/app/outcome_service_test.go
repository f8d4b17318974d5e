package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/domain"
	"github.com/agentmesh/settlement-service/internal/store"
)

type outcomeRepoStub struct {
	store.OutcomeStore

	agreement    *domain.ServiceAgreement
	verification *domain.OutcomeVerification
	findErr      error

	createdCount    int
	updatedCount    int
	agreementStatus string
}

func (s *outcomeRepoStub) FindAgreementByID(ctx context.Context, agreementID uuid.UUID) (*domain.ServiceAgreement, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.agreement == nil {
		return nil, store.ErrAgreementNotFound
	}
	return s.agreement, nil
}

func (s *outcomeRepoStub) UpdateAgreementStatus(ctx context.Context, agreementID uuid.UUID, status string) error {
	s.agreementStatus = status
	return nil
}

func (s *outcomeRepoStub) FindVerificationByEscrowID(ctx context.Context, escrowID uuid.UUID) (*domain.OutcomeVerification, error) {
	if s.verification == nil {
		return nil, store.ErrVerificationNotFound
	}
	return s.verification, nil
}

func (s *outcomeRepoStub) FindLatestVerificationByAgreement(ctx context.Context, agreementID uuid.UUID) (*domain.OutcomeVerification, error) {
	if s.verification == nil {
		return nil, store.ErrVerificationNotFound
	}
	return s.verification, nil
}

func (s *outcomeRepoStub) CreateVerification(ctx context.Context, verification *domain.OutcomeVerification) (*domain.OutcomeVerification, error) {
	s.createdCount++
	created := *verification
	created.ID = uuid.New()
	s.verification = &created
	return &created, nil
}

func (s *outcomeRepoStub) UpdateVerification(ctx context.Context, verification *domain.OutcomeVerification) (*domain.OutcomeVerification, error) {
	s.updatedCount++
	updated := *verification
	s.verification = &updated
	return &updated, nil
}

type escrowResolverStub struct {
	releaseCount  int
	completeCount int
	lastComplete  CompleteParams
	releaseErr    error
}

func (s *escrowResolverStub) Release(ctx context.Context, escrowID uuid.UUID, memo string) (*domain.Escrow, error) {
	s.releaseCount++
	if s.releaseErr != nil {
		return nil, s.releaseErr
	}
	return &domain.Escrow{ID: escrowID, Status: domain.EscrowStatusSettled}, nil
}

func (s *escrowResolverStub) Complete(ctx context.Context, params CompleteParams) (*domain.Escrow, error) {
	s.completeCount++
	s.lastComplete = params
	return &domain.Escrow{ID: params.EscrowID, Status: domain.EscrowStatusRefunded}, nil
}

func activeAgreementStub() *outcomeRepoStub {
	escrowID := uuid.New()
	return &outcomeRepoStub{
		agreement: &domain.ServiceAgreement{
			ID:       uuid.New(),
			AgentID:  uuid.New(),
			EscrowID: &escrowID,
			Status:   domain.AgreementStatusActive,
		},
	}
}

func TestRecordVerification_RejectsUnknownStatus(t *testing.T) {
	repo := activeAgreementStub()
	resolver := &escrowResolverStub{}
	service := NewOutcomeService(repo, resolver)

	_, err := service.RecordVerification(context.Background(), repo.agreement.ID, VerificationParams{Status: "MAYBE"})
	if !errors.Is(err, ErrInvalidVerificationStatus) {
		t.Fatalf("expected ErrInvalidVerificationStatus, got %v", err)
	}
	if repo.createdCount != 0 {
		t.Fatal("expected no verification persisted for invalid status")
	}
}

func TestRecordVerification_VerifiedReleasesEscrowOnce(t *testing.T) {
	repo := activeAgreementStub()
	resolver := &escrowResolverStub{}
	service := NewOutcomeService(repo, resolver)

	verification, err := service.RecordVerification(context.Background(), repo.agreement.ID, VerificationParams{
		Status: domain.VerificationStatusVerified,
		Notes:  "all checks green",
	})
	if err != nil {
		t.Fatalf("RecordVerification returned error: %v", err)
	}
	if verification.VerifiedAt == nil {
		t.Fatal("expected verified_at to be stamped")
	}
	if resolver.releaseCount != 1 {
		t.Fatalf("expected exactly one release, got %d", resolver.releaseCount)
	}
	if repo.agreementStatus != domain.AgreementStatusCompleted {
		t.Fatalf("expected agreement COMPLETED, got %q", repo.agreementStatus)
	}

	// A repeated identical verdict updates the record but moves no funds again.
	if _, err := service.RecordVerification(context.Background(), repo.agreement.ID, VerificationParams{
		Status: domain.VerificationStatusVerified,
	}); err != nil {
		t.Fatalf("repeat RecordVerification returned error: %v", err)
	}
	if resolver.releaseCount != 1 {
		t.Fatalf("expected repeat verdict to release nothing, got %d releases", resolver.releaseCount)
	}
	if repo.createdCount != 1 || repo.updatedCount != 1 {
		t.Fatalf("expected one create and one update, got create=%d update=%d", repo.createdCount, repo.updatedCount)
	}
}

func TestRecordVerification_RejectedRefundsEscrow(t *testing.T) {
	repo := activeAgreementStub()
	resolver := &escrowResolverStub{}
	service := NewOutcomeService(repo, resolver)

	_, err := service.RecordVerification(context.Background(), repo.agreement.ID, VerificationParams{
		Status: domain.VerificationStatusRejected,
		Notes:  "deliverable incomplete",
	})
	if err != nil {
		t.Fatalf("RecordVerification returned error: %v", err)
	}
	if resolver.completeCount != 1 {
		t.Fatalf("expected exactly one refund, got %d", resolver.completeCount)
	}
	if resolver.lastComplete.Status != domain.AP2StatusFailed {
		t.Fatalf("expected FAILED completion, got %q", resolver.lastComplete.Status)
	}
	if resolver.lastComplete.FailureReason != "deliverable incomplete" {
		t.Fatalf("expected notes as failure reason, got %q", resolver.lastComplete.FailureReason)
	}
	if repo.agreementStatus != domain.AgreementStatusDisputed {
		t.Fatalf("expected agreement DISPUTED, got %q", repo.agreementStatus)
	}
}

func TestRecordVerification_PendingMovesNoFunds(t *testing.T) {
	repo := activeAgreementStub()
	resolver := &escrowResolverStub{}
	service := NewOutcomeService(repo, resolver)

	verification, err := service.RecordVerification(context.Background(), repo.agreement.ID, VerificationParams{
		Status: domain.VerificationStatusPending,
	})
	if err != nil {
		t.Fatalf("RecordVerification returned error: %v", err)
	}
	if verification.VerifiedAt != nil {
		t.Fatal("expected no verified_at for a pending verdict")
	}
	if resolver.releaseCount != 0 || resolver.completeCount != 0 {
		t.Fatalf("expected no fund movement, release=%d complete=%d", resolver.releaseCount, resolver.completeCount)
	}
	if repo.agreementStatus != "" {
		t.Fatalf("expected agreement status untouched, got %q", repo.agreementStatus)
	}
}

func TestRecordVerification_UnknownAgreement(t *testing.T) {
	repo := &outcomeRepoStub{}
	service := NewOutcomeService(repo, &escrowResolverStub{})

	_, err := service.RecordVerification(context.Background(), uuid.New(), VerificationParams{
		Status: domain.VerificationStatusVerified,
	})
	if !errors.Is(err, store.ErrAgreementNotFound) {
		t.Fatalf("expected ErrAgreementNotFound, got %v", err)
	}
}

func TestRecordVerification_TerminalEscrowConflictPropagates(t *testing.T) {
	repo := activeAgreementStub()
	resolver := &escrowResolverStub{releaseErr: store.ErrEscrowAlreadyTerminal}
	service := NewOutcomeService(repo, resolver)

	_, err := service.RecordVerification(context.Background(), repo.agreement.ID, VerificationParams{
		Status: domain.VerificationStatusVerified,
	})
	if !errors.Is(err, store.ErrEscrowAlreadyTerminal) {
		t.Fatalf("expected ErrEscrowAlreadyTerminal, got %v", err)
	}
}
