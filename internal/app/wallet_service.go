/**
 * @description
 * This file contains the wallet service, the single funnel for every wallet balance
 * mutation: holds, hold cancellation, immediate debits, funding credits, and escrow
 * settlement. Locking discipline lives in the repository's single-transaction
 * primitives; the service validates inputs before any ledger mutation and publishes
 * events after funds have moved.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For settlement event publication.
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
	"github.com/agentmesh/settlement-service/pkg/rabbitmq"
)

// Validation errors, rejected before any ledger mutation.
var (
	ErrInvalidAmount    = errors.New("amount must be a positive integer of minor units")
	ErrInvalidOwnerType = errors.New("owner type must be user, agent, or organization")
	ErrInvalidCurrency  = errors.New("currency must be a three-letter ISO code")
	ErrSameWallet       = errors.New("source and destination wallets must differ")
)

// WalletRepository is the data access the wallet service needs: the ledger primitives
// plus the escrow settlement, which is a wallet-side fund movement.
type WalletRepository interface {
	store.WalletStore
	store.EscrowStore
}

// WalletService exposes the atomic wallet operations over the ledger store.
type WalletService struct {
	repo     WalletRepository
	producer rabbitmq.Publisher
	exchange string
}

// NewWalletService creates a new wallet service instance.
func NewWalletService(repo WalletRepository, producer rabbitmq.Publisher, exchange string) *WalletService {
	return &WalletService{repo: repo, producer: producer, exchange: exchange}
}

func validOwnerType(ownerType string) bool {
	switch ownerType {
	case domain.OwnerTypeUser, domain.OwnerTypeAgent, domain.OwnerTypeOrganization:
		return true
	}
	return false
}

func validCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for _, c := range currency {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// publish sends an event without letting broker trouble affect a committed ledger
// operation; failures are logged and dropped.
func (s *WalletService) publish(ctx context.Context, routingKey string, body any) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, s.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=wallet_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// CreateWallet provisions a wallet for an owner during onboarding.
func (s *WalletService) CreateWallet(ctx context.Context, ownerType string, ownerID uuid.UUID, currency string) (*domain.Wallet, error) {
	if !validOwnerType(ownerType) {
		return nil, ErrInvalidOwnerType
	}
	if currency == "" {
		currency = "USD"
	}
	if !validCurrency(currency) {
		return nil, ErrInvalidCurrency
	}
	return s.repo.CreateWallet(ctx, &domain.Wallet{
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Currency:  currency,
		Status:    domain.WalletStatusActive,
	})
}

// GetWallet returns a wallet together with its settled and available balances.
func (s *WalletService) GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, *domain.WalletBalances, error) {
	wallet, err := s.repo.FindWalletByID(ctx, walletID)
	if err != nil {
		return nil, nil, err
	}
	balances, err := s.repo.GetWalletBalances(ctx, walletID)
	if err != nil {
		return nil, nil, err
	}
	return wallet, balances, nil
}

// ListTransactions returns a wallet's ledger history, newest first.
func (s *WalletService) ListTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error) {
	if _, err := s.repo.FindWalletByID(ctx, walletID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactionsByWallet(ctx, walletID, limit, offset)
}

// HoldFunds reserves funds against a wallet's available balance. The hold does not
// touch the destination wallet or the settled balance.
func (s *WalletService) HoldFunds(ctx context.Context, walletID uuid.UUID, amount int64, memo string) (*domain.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.repo.HoldFunds(ctx, walletID, amount, memo)
}

// CancelHold reverses a pending hold. A second cancel of the same hold reports
// store.ErrHoldNotPending and leaves the balance unchanged.
func (s *WalletService) CancelHold(ctx context.Context, holdTransactionID uuid.UUID, reason string) error {
	return s.repo.CancelHold(ctx, holdTransactionID, reason)
}

// DebitWallet performs an immediate debit with no hold phase.
func (s *WalletService) DebitWallet(ctx context.Context, walletID uuid.UUID, amount int64, reference *string) (*domain.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.repo.DebitWallet(ctx, walletID, amount, reference)
}

// FundWallet credits a wallet, used for top-ups and externally confirmed payments.
// Supplying a reference makes the credit idempotent across retries.
func (s *WalletService) FundWallet(ctx context.Context, walletID uuid.UUID, amount int64, reference *string) (*domain.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	credit, err := s.repo.CreditWallet(ctx, walletID, amount, domain.TransactionTypeCredit, reference, nil)
	if err != nil {
		return nil, err
	}

	ref := ""
	if reference != nil {
		ref = *reference
	}
	s.publish(ctx, domain.EventWalletCredited, domain.WalletCreditedEvent{
		WalletID:  walletID,
		Amount:    amount,
		Reference: ref,
		Timestamp: time.Now().UTC(),
	})
	return credit, nil
}

// SettleEscrow converts the escrow's hold into a completed transfer: the source hold
// settles and the destination wallet is credited for the same amount, atomically. Two
// concurrent calls for the same escrow produce exactly one settlement.
func (s *WalletService) SettleEscrow(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	return s.repo.SettleEscrow(ctx, escrowID)
}
