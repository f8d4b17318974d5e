/**
 * @description
 * This file contains the AP2 escrow manager. It models a three-party payment (source
 * wallet, destination wallet, optional verifier) as an escrow record tied 1:1 to a
 * holding transaction, and drives it through HELD -> {SETTLED, REFUNDED} by calling the
 * wallet service. The AUTHORIZED completion status is an intermediate acknowledgment
 * only: it stamps the hold transaction and moves no funds, and there is no automatic
 * transition out of it — callers complete the escrow again with a terminal status.
 *
 * @dependencies
 * - context, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For escrow lifecycle event publication.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/domain"
	"github.com/agentmesh/settlement-service/internal/store"
	"github.com/agentmesh/settlement-service/pkg/rabbitmq"
)

// AP2Service drives the escrow state machine over the wallet service.
type AP2Service struct {
	escrows  store.EscrowStore
	wallets  *WalletService
	producer rabbitmq.Publisher
	exchange string
}

// NewAP2Service creates a new AP2 escrow manager instance.
func NewAP2Service(escrows store.EscrowStore, wallets *WalletService, producer rabbitmq.Publisher, exchange string) *AP2Service {
	return &AP2Service{escrows: escrows, wallets: wallets, producer: producer, exchange: exchange}
}

// CompleteParams resolve an escrow via the AP2 complete operation.
type CompleteParams struct {
	EscrowID      uuid.UUID
	Status        string
	FailureReason string
}

func (s *AP2Service) publish(ctx context.Context, routingKey string, escrow *domain.Escrow, reason *string) {
	if s.producer == nil {
		return
	}
	event := domain.EscrowEvent{
		EscrowID:            escrow.ID,
		SourceWalletID:      escrow.SourceWalletID,
		DestinationWalletID: escrow.DestinationWalletID,
		Amount:              escrow.Amount,
		Status:              escrow.Status,
		Reason:              reason,
		Timestamp:           time.Now().UTC(),
	}
	if err := s.producer.Publish(ctx, s.exchange, routingKey, event); err != nil {
		log.Printf("level=warn component=ap2_service msg=\"event publish failed\" routing_key=%s escrow_id=%s err=%v", routingKey, escrow.ID, err)
	}
}

// Initiate places a hold on the source wallet and creates the escrow referencing it.
// The hold and the escrow row are one logical unit: if either fails, nothing persists.
func (s *AP2Service) Initiate(ctx context.Context, sourceWalletID, destinationWalletID uuid.UUID, amount int64, memo string) (*domain.Escrow, *domain.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if sourceWalletID == destinationWalletID {
		return nil, nil, ErrSameWallet
	}

	escrow, holdTx, err := s.escrows.CreateEscrowWithHold(ctx, sourceWalletID, destinationWalletID, amount, memo)
	if err != nil {
		return nil, nil, err
	}

	s.publish(ctx, domain.EventEscrowInitiated, escrow, nil)
	return escrow, holdTx, nil
}

// GetEscrow fetches an escrow by id.
func (s *AP2Service) GetEscrow(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	return s.escrows.FindEscrowByID(ctx, escrowID)
}

// Complete resolves an escrow. FAILED refunds the source, AUTHORIZED records an
// acknowledgment without moving funds, and any other status is treated as a
// confirmation and settles the escrow. Wallet service errors propagate unchanged.
func (s *AP2Service) Complete(ctx context.Context, params CompleteParams) (*domain.Escrow, error) {
	switch params.Status {
	case domain.AP2StatusFailed:
		reason := params.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		escrow, err := s.escrows.RefundEscrow(ctx, params.EscrowID, reason)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, domain.EventEscrowRefunded, escrow, &reason)
		return escrow, nil

	case domain.AP2StatusAuthorized:
		return s.escrows.AcknowledgeEscrow(ctx, params.EscrowID)

	default:
		escrow, err := s.wallets.SettleEscrow(ctx, params.EscrowID)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, domain.EventEscrowSettled, escrow, nil)
		return escrow, nil
	}
}

// Release settles an escrow; convenience wrapper over the confirmed branch of
// Complete, used by outcome verification once a deliverable is verified.
func (s *AP2Service) Release(ctx context.Context, escrowID uuid.UUID, memo string) (*domain.Escrow, error) {
	escrow, err := s.wallets.SettleEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	var reason *string
	if memo != "" {
		reason = &memo
	}
	s.publish(ctx, domain.EventEscrowSettled, escrow, reason)
	return escrow, nil
}

// DirectTransfer moves funds between wallets immediately, with no hold or verify step.
func (s *AP2Service) DirectTransfer(ctx context.Context, sourceWalletID, destinationWalletID uuid.UUID, amount int64, reference *string) (*domain.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if sourceWalletID == destinationWalletID {
		return nil, ErrSameWallet
	}
	return s.wallets.repo.TransferFunds(ctx, sourceWalletID, destinationWalletID, amount, reference)
}
