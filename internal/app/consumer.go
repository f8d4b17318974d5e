/**
 * @description
 * This file contains the RabbitMQ consumer that ingests deliverable outcome reports
 * from the quality pipeline. Reviewers and automated evaluations publish
 * `quality.outcome.reported` events; this consumer applies them through the outcome
 * service, which makes the operation idempotent per escrow. Permanent failures (bad
 * payloads, unknown agreements, already-terminal escrows) are acked and dropped;
 * transient failures are requeued.
 *
 * @dependencies
 * - context, encoding/json, errors, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For event payloads and error classification.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/agentmesh/settlement-service/internal/domain"
	"github.com/agentmesh/settlement-service/internal/store"
)

// OutcomeReportConsumer applies outcome-report events to the outcome service.
type OutcomeReportConsumer struct {
	service *OutcomeService
	timeout time.Duration
}

// NewOutcomeReportConsumer creates a consumer bound to the outcome service.
func NewOutcomeReportConsumer(service *OutcomeService) *OutcomeReportConsumer {
	return &OutcomeReportConsumer{service: service, timeout: 30 * time.Second}
}

// HandleMessage processes one delivery. The returned bool is the ack decision: true
// acks (including permanent failures that retrying cannot fix), false requeues.
func (c *OutcomeReportConsumer) HandleMessage(body []byte) bool {
	var event domain.OutcomeReportedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=outcome_consumer msg=\"undecodable outcome report dropped\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	_, err := c.service.RecordVerification(ctx, event.AgreementID, VerificationParams{
		Status:     event.Status,
		EscrowID:   event.EscrowID,
		Evidence:   event.Evidence,
		Notes:      event.Notes,
		ReviewerID: event.ReviewerID,
	})
	if err == nil {
		return true
	}

	if isPermanentOutcomeError(err) {
		log.Printf("level=warn component=outcome_consumer msg=\"outcome report dropped\" agreement_id=%s status=%s err=%v",
			event.AgreementID, event.Status, err)
		return true
	}

	log.Printf("level=error component=outcome_consumer msg=\"outcome report requeued\" agreement_id=%s err=%v", event.AgreementID, err)
	return false
}

// isPermanentOutcomeError reports whether retrying the same event can never succeed.
func isPermanentOutcomeError(err error) bool {
	return errors.Is(err, store.ErrAgreementNotFound) ||
		errors.Is(err, store.ErrEscrowNotFound) ||
		errors.Is(err, store.ErrEscrowAlreadyTerminal) ||
		errors.Is(err, ErrInvalidVerificationStatus)
}
