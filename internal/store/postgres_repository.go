/**
 * @description
 * This file provides the PostgreSQL implementation of the wallet and ledger portions of
 * the `Repository` interface. All balance mutations run inside a single database
 * transaction with the wallet row locked via `SELECT ... FOR UPDATE`, so concurrent
 * flows (direct transfers, escrow settlement, top-ups) serialize on the one shared
 * resource they contend for. The ledger is append-only: rows are never edited once
 * SETTLED or FAILED, and corrections are recorded as new rows.
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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentmesh/settlement-service/internal/domain"
)

// PostgresRepository is the concrete implementation of the Repository interface.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const walletColumns = `id, owner_type, owner_id, currency, status, balance, created_at, updated_at`

const transactionColumns = `id, wallet_id, type, amount, status, reference, metadata, created_at`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.OwnerType, &w.OwnerID, &w.Currency, &w.Status, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTransaction(row rowScanner) (*domain.LedgerTransaction, error) {
	var (
		t   domain.LedgerTransaction
		raw []byte
	)
	err := row.Scan(&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.Status, &t.Reference, &raw, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// CreateWallet inserts a wallet for an owner. Ownership is exclusive per currency.
func (r *PostgresRepository) CreateWallet(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error) {
	query := `
		INSERT INTO wallets (owner_type, owner_id, currency, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + walletColumns
	row := r.db.QueryRow(ctx, query, wallet.OwnerType, wallet.OwnerID, wallet.Currency, wallet.Status)
	created, err := scanWallet(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrWalletExists
		}
		return nil, err
	}
	return created, nil
}

// FindWalletByID fetches a wallet by primary key.
func (r *PostgresRepository) FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// FindWalletByOwner fetches a wallet by its exclusive owner and currency.
func (r *PostgresRepository) FindWalletByOwner(ctx context.Context, ownerType string, ownerID uuid.UUID, currency string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_type = $1 AND owner_id = $2 AND currency = $3`
	row := r.db.QueryRow(ctx, query, ownerType, ownerID, currency)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// GetWalletBalances returns the settled balance and the balance net of open holds.
func (r *PostgresRepository) GetWalletBalances(ctx context.Context, walletID uuid.UUID) (*domain.WalletBalances, error) {
	query := `
		SELECT balance,
		       balance - COALESCE((
		           SELECT SUM(amount) FROM ledger_transactions
		           WHERE wallet_id = $1 AND type = 'HOLD' AND status = 'PENDING'
		       ), 0)
		FROM wallets
		WHERE id = $1`
	var b domain.WalletBalances
	if err := r.db.QueryRow(ctx, query, walletID).Scan(&b.Balance, &b.Available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &b, nil
}

// ListTransactionsByWallet returns ledger history, newest first.
func (r *PostgresRepository) ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM ledger_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.LedgerTransaction, 0, limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

// FindTransactionByID fetches a single ledger transaction.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.LedgerTransaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1`, transactionID)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}

// lockWallet reads a wallet row inside tx with FOR UPDATE so concurrent mutations of
// the same wallet serialize.
func lockWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*domain.Wallet, error) {
	row := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

func openHoldTotal(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions
		WHERE wallet_id = $1 AND type = 'HOLD' AND status = 'PENDING'`, walletID).Scan(&total)
	return total, err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, txType string, amount int64, status string, reference *string, metadata map[string]any) (*domain.LedgerTransaction, error) {
	raw, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO ledger_transactions (wallet_id, type, amount, status, reference, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + transactionColumns
	return scanTransaction(tx.QueryRow(ctx, query, walletID, txType, amount, status, reference, raw))
}

// HoldFunds reserves funds on a wallet. The hold reduces the available balance only;
// the settled balance is untouched until the hold settles.
func (r *PostgresRepository) HoldFunds(ctx context.Context, walletID uuid.UUID, amount int64, memo string) (*domain.LedgerTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	holdTx, err := holdFundsTx(ctx, tx, walletID, amount, memo)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return holdTx, nil
}

// holdFundsTx is the hold primitive, reused by CreateEscrowWithHold so that escrow
// creation and the hold commit or roll back together.
func holdFundsTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount int64, memo string) (*domain.LedgerTransaction, error) {
	wallet, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != domain.WalletStatusActive {
		return nil, ErrWalletInactive
	}

	heldTotal, err := openHoldTotal(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance-heldTotal < amount {
		return nil, ErrInsufficientFunds
	}

	metadata := map[string]any{}
	if memo != "" {
		metadata["memo"] = memo
	}
	return insertTransaction(ctx, tx, walletID, domain.TransactionTypeHold, amount, domain.TransactionStatusPending, nil, metadata)
}

// CancelHold reverses a pending hold by marking the transaction FAILED. The update is
// conditioned on the PENDING status, so a second cancel of the same hold reports an
// error instead of double-reversing.
func (r *PostgresRepository) CancelHold(ctx context.Context, holdTransactionID uuid.UUID, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := cancelHoldTx(ctx, tx, holdTransactionID, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func cancelHoldTx(ctx context.Context, tx pgx.Tx, holdTransactionID uuid.UUID, reason string) error {
	result, err := tx.Exec(ctx, `
		UPDATE ledger_transactions
		SET status = 'FAILED',
		    metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('cancel_reason', $2::text)
		WHERE id = $1 AND type = 'HOLD' AND status = 'PENDING'`, holdTransactionID, reason)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM ledger_transactions WHERE id = $1 AND type = 'HOLD')`, holdTransactionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTransactionNotFound
		}
		return ErrHoldNotPending
	}
	return nil
}

// DebitWallet performs an immediate debit with no hold phase.
func (r *PostgresRepository) DebitWallet(ctx context.Context, walletID uuid.UUID, amount int64, reference *string) (*domain.LedgerTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != domain.WalletStatusActive {
		return nil, ErrWalletInactive
	}
	if wallet.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	if reference != nil {
		existing, err := findTransactionByReferenceTx(ctx, tx, *reference)
		if err != nil && !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		if existing != nil {
			// Replayed debit: the original already moved the funds.
			return existing, nil
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $1, updated_at = NOW() WHERE id = $2`, amount, walletID); err != nil {
		return nil, err
	}

	debitTx, err := insertTransaction(ctx, tx, walletID, domain.TransactionTypeDebit, amount, domain.TransactionStatusSettled, reference, nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return debitTx, nil
}

// CreditWallet credits a wallet and records a CREDIT (or RELEASE) ledger row. When a
// reference is supplied the credit is idempotent: a replay with the same reference
// returns the original transaction and does not touch the balance a second time.
func (r *PostgresRepository) CreditWallet(ctx context.Context, walletID uuid.UUID, amount int64, txType string, reference *string, metadata map[string]any) (*domain.LedgerTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	credited, err := creditWalletTx(ctx, tx, walletID, amount, txType, reference, metadata)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return credited, nil
}

func creditWalletTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount int64, txType string, reference *string, metadata map[string]any) (*domain.LedgerTransaction, error) {
	wallet, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != domain.WalletStatusActive {
		return nil, ErrWalletInactive
	}

	if reference != nil {
		existing, err := findTransactionByReferenceTx(ctx, tx, *reference)
		if err != nil && !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	creditTx, err := insertTransaction(ctx, tx, walletID, txType, amount, domain.TransactionStatusSettled, reference, metadata)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2`, amount, walletID); err != nil {
		return nil, err
	}
	return creditTx, nil
}

func findTransactionByReferenceTx(ctx context.Context, tx pgx.Tx, reference string) (*domain.LedgerTransaction, error) {
	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE reference = $1`, reference)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}

// TransferFunds debits the source and credits the destination in one database
// transaction, with both wallet rows locked in a stable order to avoid deadlocks.
// Returns the source-side DEBIT transaction.
func (r *PostgresRepository) TransferFunds(ctx context.Context, sourceWalletID, destinationWalletID uuid.UUID, amount int64, reference *string) (*domain.LedgerTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	first, second := sourceWalletID, destinationWalletID
	if second.String() < first.String() {
		first, second = second, first
	}

	wallets := make(map[uuid.UUID]*domain.Wallet, 2)
	for _, id := range []uuid.UUID{first, second} {
		w, err := lockWallet(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}

	source := wallets[sourceWalletID]
	destination := wallets[destinationWalletID]
	if source.Status != domain.WalletStatusActive || destination.Status != domain.WalletStatusActive {
		return nil, ErrWalletInactive
	}
	if source.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	if reference != nil {
		existing, err := findTransactionByReferenceTx(ctx, tx, *reference)
		if err != nil && !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		if existing != nil {
			// Replayed transfer: the original already moved the funds.
			return existing, nil
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $1, updated_at = NOW() WHERE id = $2`, amount, sourceWalletID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2`, amount, destinationWalletID); err != nil {
		return nil, err
	}

	debitTx, err := insertTransaction(ctx, tx, sourceWalletID, domain.TransactionTypeDebit, amount, domain.TransactionStatusSettled, reference, map[string]any{
		"counterparty_wallet_id": destinationWalletID.String(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := insertTransaction(ctx, tx, destinationWalletID, domain.TransactionTypeCredit, amount, domain.TransactionStatusSettled, nil, map[string]any{
		"counterparty_wallet_id": sourceWalletID.String(),
		"debit_transaction_id":   debitTx.ID.String(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return debitTx, nil
}
