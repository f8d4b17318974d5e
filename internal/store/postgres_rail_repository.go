/**
 * @description
 * PostgreSQL implementation of the external rail portion of the `Repository` interface.
 * The external transaction hash is the idempotency key: confirmations are upserted by
 * tx hash with `ON CONFLICT`, and the seller-side wallet credit happens only on the
 * guarded PENDING -> CONFIRMED transition, inside the same database transaction. A
 * replayed confirmation therefore records nothing new and credits nothing.
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
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agentmesh/settlement-service/internal/domain"
)

const railColumns = `id, tx_hash, network, buyer_address, seller_address, seller_wallet_id,
	amount, currency, status, failure_reason, confirmed_at, created_at, updated_at`

func scanRailTransaction(row rowScanner) (*domain.RailTransaction, error) {
	var rt domain.RailTransaction
	err := row.Scan(&rt.ID, &rt.TxHash, &rt.Network, &rt.BuyerAddress, &rt.SellerAddress,
		&rt.SellerWalletID, &rt.Amount, &rt.Currency, &rt.Status, &rt.FailureReason,
		&rt.ConfirmedAt, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// FindRailTransactionByHash fetches a rail transaction by its external hash.
func (r *PostgresRepository) FindRailTransactionByHash(ctx context.Context, txHash string) (*domain.RailTransaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+railColumns+` FROM rail_transactions WHERE tx_hash = $1`, txHash)
	rail, err := scanRailTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRailTransactionNotFound
		}
		return nil, err
	}
	return rail, nil
}

// ConfirmRailTransaction upserts the confirmation by tx hash and credits the seller
// wallet exactly once. The upsert only moves PENDING rows to CONFIRMED; rows already
// CONFIRMED or FAILED are left untouched and reported back without a credit.
func (r *PostgresRepository) ConfirmRailTransaction(ctx context.Context, rail *domain.RailTransaction) (bool, *domain.RailTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback(ctx)

	confirmedAt := rail.ConfirmedAt
	query := `
		INSERT INTO rail_transactions (tx_hash, network, buyer_address, seller_address, seller_wallet_id, amount, currency, status, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'CONFIRMED', COALESCE($8, NOW()))
		ON CONFLICT (tx_hash) DO UPDATE
		SET status = 'CONFIRMED',
		    confirmed_at = COALESCE(rail_transactions.confirmed_at, EXCLUDED.confirmed_at),
		    updated_at = NOW()
		WHERE rail_transactions.status = 'PENDING'
		RETURNING ` + railColumns
	confirmed, err := scanRailTransaction(tx.QueryRow(ctx, query,
		rail.TxHash, rail.Network, rail.BuyerAddress, rail.SellerAddress, rail.SellerWalletID,
		rail.Amount, rail.Currency, confirmedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Replay against a terminal row: report the existing record, no credit.
			existing, findErr := r.FindRailTransactionByHash(ctx, rail.TxHash)
			if findErr != nil {
				return false, nil, findErr
			}
			return false, existing, nil
		}
		return false, nil, err
	}

	if confirmed.SellerWalletID != nil {
		reference := fmt.Sprintf("rail:%s:%s", confirmed.Network, confirmed.TxHash)
		if _, err := creditWalletTx(ctx, tx, *confirmed.SellerWalletID, confirmed.Amount, domain.TransactionTypeCredit, &reference, map[string]any{
			"network": confirmed.Network,
			"tx_hash": confirmed.TxHash,
		}); err != nil {
			return false, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, err
	}
	return true, confirmed, nil
}

// FailRailTransaction marks an external payment FAILED. Funds were never held on this
// rail, so there is no movement to reverse.
func (r *PostgresRepository) FailRailTransaction(ctx context.Context, txHash, network string, reason *string) (*domain.RailTransaction, error) {
	query := `
		INSERT INTO rail_transactions (tx_hash, network, amount, status, failure_reason)
		VALUES ($1, $2, 0, 'FAILED', $3)
		ON CONFLICT (tx_hash) DO UPDATE
		SET status = 'FAILED', failure_reason = COALESCE(EXCLUDED.failure_reason, rail_transactions.failure_reason), updated_at = NOW()
		WHERE rail_transactions.status = 'PENDING'
		RETURNING ` + railColumns
	failed, err := scanRailTransaction(r.db.QueryRow(ctx, query, txHash, network, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.FindRailTransactionByHash(ctx, txHash)
		}
		return nil, err
	}
	return failed, nil
}
