/**
 * @description
 * PostgreSQL implementation of the escrow portion of the `Repository` interface. The
 * escrow state machine is HELD -> {SETTLED, REFUNDED}, driven entirely through
 * status-guarded conditional updates: the terminal transition is an
 * `UPDATE ... WHERE status = 'HELD'` so two concurrent settle (or refund) calls for the
 * same escrow converge to exactly one effect, with the loser observing a terminal-state
 * conflict. Settlement moves funds on both wallets inside the same database transaction
 * as the escrow transition.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentmesh/settlement-service/internal/domain"
)

const escrowColumns = `id, source_wallet_id, destination_wallet_id, hold_transaction_id, amount,
	release_condition, status, refunded_at, created_at, updated_at`

func scanEscrow(row rowScanner) (*domain.Escrow, error) {
	var e domain.Escrow
	err := row.Scan(&e.ID, &e.SourceWalletID, &e.DestinationWalletID, &e.HoldTransactionID,
		&e.Amount, &e.ReleaseCondition, &e.Status, &e.RefundedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEscrowWithHold places a hold on the source wallet and creates the escrow row
// referencing it, inside one database transaction. If either step fails nothing is
// persisted, so an orphaned hold with no escrow cannot exist.
func (r *PostgresRepository) CreateEscrowWithHold(ctx context.Context, sourceWalletID, destinationWalletID uuid.UUID, amount int64, memo string) (*domain.Escrow, *domain.LedgerTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	// The destination must exist and be able to receive the eventual release.
	destRow := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, destinationWalletID)
	destination, err := scanWallet(destRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrWalletNotFound
		}
		return nil, nil, err
	}
	if destination.Status != domain.WalletStatusActive {
		return nil, nil, ErrWalletInactive
	}

	holdTx, err := holdFundsTx(ctx, tx, sourceWalletID, amount, memo)
	if err != nil {
		return nil, nil, err
	}

	var condition *string
	if memo != "" {
		condition = &memo
	}
	query := `
		INSERT INTO escrows (source_wallet_id, destination_wallet_id, hold_transaction_id, amount, release_condition)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + escrowColumns
	escrow, err := scanEscrow(tx.QueryRow(ctx, query, sourceWalletID, destinationWalletID, holdTx.ID, amount, condition))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return escrow, holdTx, nil
}

// FindEscrowByID fetches an escrow by primary key.
func (r *PostgresRepository) FindEscrowByID(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	row := r.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, escrowID)
	escrow, err := scanEscrow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	return escrow, nil
}

// classifyEscrowConflict distinguishes "escrow does not exist" from "escrow exists but
// is already terminal" after a guarded transition matched zero rows.
func classifyEscrowConflict(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID) error {
	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM escrows WHERE id = $1`, escrowID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEscrowNotFound
		}
		return err
	}
	return ErrEscrowAlreadyTerminal
}

// SettleEscrow converts the hold into a completed transfer: the escrow transitions
// HELD -> SETTLED, the hold transaction settles (debiting the source balance), and the
// destination wallet is credited with a RELEASE transaction. All of it is one database
// transaction keyed off the guarded escrow update, so a concurrent duplicate call
// settles nothing and reports the terminal-state conflict.
func (r *PostgresRepository) SettleEscrow(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	escrow, err := scanEscrow(tx.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'SETTLED', updated_at = NOW()
		WHERE id = $1 AND status = 'HELD'
		RETURNING `+escrowColumns, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, classifyEscrowConflict(ctx, tx, escrowID)
		}
		return nil, err
	}

	result, err := tx.Exec(ctx, `
		UPDATE ledger_transactions
		SET status = 'SETTLED'
		WHERE id = $1 AND status = 'PENDING'`, escrow.HoldTransactionID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrHoldNotPending
	}

	// Settling the hold converts the reservation into a real debit.
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $1, updated_at = NOW() WHERE id = $2`, escrow.Amount, escrow.SourceWalletID); err != nil {
		return nil, err
	}

	if _, err := creditWalletTx(ctx, tx, escrow.DestinationWalletID, escrow.Amount, domain.TransactionTypeRelease, nil, map[string]any{
		"escrow_id":           escrow.ID.String(),
		"hold_transaction_id": escrow.HoldTransactionID.String(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return escrow, nil
}

// RefundEscrow cancels the hold and marks the escrow REFUNDED, stamping refunded_at.
// No balances change: the hold never touched the settled balance.
func (r *PostgresRepository) RefundEscrow(ctx context.Context, escrowID uuid.UUID, reason string) (*domain.Escrow, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	escrow, err := scanEscrow(tx.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'REFUNDED', refunded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'HELD'
		RETURNING `+escrowColumns, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, classifyEscrowConflict(ctx, tx, escrowID)
		}
		return nil, err
	}

	if err := cancelHoldTx(ctx, tx, escrow.HoldTransactionID, reason); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return escrow, nil
}

// AcknowledgeEscrow records the AP2 AUTHORIZED acknowledgment on the hold transaction.
// No fund movement: the hold simply stays pending with the acknowledgment stamped, and
// the caller must complete the escrow again with a terminal status later.
func (r *PostgresRepository) AcknowledgeEscrow(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	escrow, err := scanEscrow(tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	if escrow.Status != domain.EscrowStatusHeld {
		return nil, ErrEscrowAlreadyTerminal
	}

	result, err := tx.Exec(ctx, `
		UPDATE ledger_transactions
		SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('authorized', true)
		WHERE id = $1 AND status = 'PENDING'`, escrow.HoldTransactionID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrHoldNotPending
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return escrow, nil
}
