package app

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/domain"
)

var errTransientDB = errors.New("connection reset")

func encodeOutcomeEvent(t *testing.T, event domain.OutcomeReportedEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestHandleMessage_DropsUndecodablePayload(t *testing.T) {
	consumer := NewOutcomeReportConsumer(NewOutcomeService(&outcomeRepoStub{}, &escrowResolverStub{}))

	if !consumer.HandleMessage([]byte("not json")) {
		t.Fatal("expected undecodable payload to be acked and dropped")
	}
}

func TestHandleMessage_AppliesVerifiedReport(t *testing.T) {
	repo := activeAgreementStub()
	resolver := &escrowResolverStub{}
	consumer := NewOutcomeReportConsumer(NewOutcomeService(repo, resolver))

	body := encodeOutcomeEvent(t, domain.OutcomeReportedEvent{
		AgreementID: repo.agreement.ID,
		Status:      domain.VerificationStatusVerified,
	})

	if !consumer.HandleMessage(body) {
		t.Fatal("expected successful report to be acked")
	}
	if resolver.releaseCount != 1 {
		t.Fatalf("expected one escrow release, got %d", resolver.releaseCount)
	}
}

func TestHandleMessage_AcksPermanentFailure(t *testing.T) {
	// Unknown agreement: retrying the same event can never succeed.
	consumer := NewOutcomeReportConsumer(NewOutcomeService(&outcomeRepoStub{}, &escrowResolverStub{}))

	body := encodeOutcomeEvent(t, domain.OutcomeReportedEvent{
		AgreementID: uuid.New(),
		Status:      domain.VerificationStatusVerified,
	})

	if !consumer.HandleMessage(body) {
		t.Fatal("expected permanent failure to be acked and dropped")
	}
}

func TestHandleMessage_AcksInvalidStatus(t *testing.T) {
	repo := activeAgreementStub()
	consumer := NewOutcomeReportConsumer(NewOutcomeService(repo, &escrowResolverStub{}))

	body := encodeOutcomeEvent(t, domain.OutcomeReportedEvent{
		AgreementID: repo.agreement.ID,
		Status:      "MAYBE",
	})

	if !consumer.HandleMessage(body) {
		t.Fatal("expected invalid status to be acked and dropped")
	}
}

func TestHandleMessage_RequeuesTransientFailure(t *testing.T) {
	repo := activeAgreementStub()
	repo.findErr = errTransientDB
	consumer := NewOutcomeReportConsumer(NewOutcomeService(repo, &escrowResolverStub{}))

	body := encodeOutcomeEvent(t, domain.OutcomeReportedEvent{
		AgreementID: repo.agreement.ID,
		Status:      domain.VerificationStatusVerified,
	})

	if consumer.HandleMessage(body) {
		t.Fatal("expected transient failure to be requeued")
	}
}
