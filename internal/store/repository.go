/**
 * @description
 * This file defines the repository contracts for the settlement core. The interfaces are
 * split per concern so each application service depends only on the data access it uses,
 * which keeps unit tests small; `Repository` is the union implemented by the PostgreSQL
 * backend. Every multi-step mutation (hold, settle, refund, webhook credit) is a single
 * database transaction inside the implementation — callers never compose partial writes.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For entity identifiers.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/agentmesh/settlement-service/internal/domain"
)

var (
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrWalletExists            = errors.New("wallet already exists for owner")
	ErrWalletInactive          = errors.New("wallet is not active")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrHoldNotPending          = errors.New("hold transaction is not pending")
	ErrEscrowNotFound          = errors.New("escrow not found")
	ErrEscrowAlreadyTerminal   = errors.New("escrow already settled or refunded")
	ErrAgreementNotFound       = errors.New("service agreement not found")
	ErrVerificationNotFound    = errors.New("outcome verification not found")
	ErrRailTransactionNotFound = errors.New("rail transaction not found")
)

// WalletStore is the data access required by the wallet service.
type WalletStore interface {
	CreateWallet(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error)
	FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
	FindWalletByOwner(ctx context.Context, ownerType string, ownerID uuid.UUID, currency string) (*domain.Wallet, error)
	GetWalletBalances(ctx context.Context, walletID uuid.UUID) (*domain.WalletBalances, error)
	ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error)
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.LedgerTransaction, error)

	// Ledger primitives. Each executes as one database transaction.
	HoldFunds(ctx context.Context, walletID uuid.UUID, amount int64, memo string) (*domain.LedgerTransaction, error)
	CancelHold(ctx context.Context, holdTransactionID uuid.UUID, reason string) error
	DebitWallet(ctx context.Context, walletID uuid.UUID, amount int64, reference *string) (*domain.LedgerTransaction, error)
	CreditWallet(ctx context.Context, walletID uuid.UUID, amount int64, txType string, reference *string, metadata map[string]any) (*domain.LedgerTransaction, error)
	TransferFunds(ctx context.Context, sourceWalletID, destinationWalletID uuid.UUID, amount int64, reference *string) (*domain.LedgerTransaction, error)
}

// EscrowStore is the data access required by the AP2 escrow manager.
type EscrowStore interface {
	CreateEscrowWithHold(ctx context.Context, sourceWalletID, destinationWalletID uuid.UUID, amount int64, memo string) (*domain.Escrow, *domain.LedgerTransaction, error)
	FindEscrowByID(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error)
	// SettleEscrow performs the two-sided settlement: escrow HELD->SETTLED, hold
	// transaction PENDING->SETTLED, source balance debited, destination credited.
	SettleEscrow(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error)
	// RefundEscrow cancels the hold: escrow HELD->REFUNDED, hold transaction
	// PENDING->FAILED. No balance changes.
	RefundEscrow(ctx context.Context, escrowID uuid.UUID, reason string) (*domain.Escrow, error)
	// AcknowledgeEscrow records the AP2 AUTHORIZED acknowledgment on the hold
	// transaction without moving funds.
	AcknowledgeEscrow(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error)
}

// OutcomeStore is the data access required by the outcome verification service.
type OutcomeStore interface {
	FindAgreementByID(ctx context.Context, agreementID uuid.UUID) (*domain.ServiceAgreement, error)
	CreateAgreement(ctx context.Context, agreement *domain.ServiceAgreement) (*domain.ServiceAgreement, error)
	UpdateAgreementStatus(ctx context.Context, agreementID uuid.UUID, status string) error
	FindVerificationByEscrowID(ctx context.Context, escrowID uuid.UUID) (*domain.OutcomeVerification, error)
	FindLatestVerificationByAgreement(ctx context.Context, agreementID uuid.UUID) (*domain.OutcomeVerification, error)
	CreateVerification(ctx context.Context, verification *domain.OutcomeVerification) (*domain.OutcomeVerification, error)
	UpdateVerification(ctx context.Context, verification *domain.OutcomeVerification) (*domain.OutcomeVerification, error)
}

// RailStore is the data access required by the external rail adapter.
type RailStore interface {
	FindRailTransactionByHash(ctx context.Context, txHash string) (*domain.RailTransaction, error)
	// ConfirmRailTransaction upserts by tx hash and, only on the PENDING->CONFIRMED
	// transition, credits the seller wallet in the same database transaction. The
	// returned bool reports whether this call performed the credit.
	ConfirmRailTransaction(ctx context.Context, rail *domain.RailTransaction) (bool, *domain.RailTransaction, error)
	FailRailTransaction(ctx context.Context, txHash, network string, reason *string) (*domain.RailTransaction, error)
}

// Repository is the full data access surface implemented by PostgresRepository.
type Repository interface {
	WalletStore
	EscrowStore
	OutcomeStore
	RailStore
}
