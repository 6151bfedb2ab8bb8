package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Entry describes one money movement. The ledger row and the balance
// update always commit together; the balance is never written directly.
type Entry struct {
	WalletID  string
	Amount    decimal.Decimal
	Type      domain.WalletTransactionType
	Purpose   string
	Reference string
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateWallet(ctx context.Context, partnerID, currencyCode string) (*domain.PartnerWallet, error) {
	wallet := &domain.PartnerWallet{
		ID:           uuid.New().String(),
		PartnerID:    partnerID,
		Balance:      decimal.Zero,
		CurrencyCode: currencyCode,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO partner_wallets (id, partner_id, balance, currency_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, wallet.ID, wallet.PartnerID, wallet.Balance, wallet.CurrencyCode, wallet.CreatedAt)
	if err != nil {
		return nil, err
	}

	return wallet, nil
}

func (r *Repository) GetWallet(ctx context.Context, id string) (*domain.PartnerWallet, error) {
	return r.getWallet(ctx, `WHERE id = $1`, id)
}

func (r *Repository) GetWalletByPartner(ctx context.Context, partnerID string) (*domain.PartnerWallet, error) {
	return r.getWallet(ctx, `WHERE partner_id = $1`, partnerID)
}

func (r *Repository) getWallet(ctx context.Context, where string, arg any) (*domain.PartnerWallet, error) {
	wallet := &domain.PartnerWallet{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, partner_id, balance, currency_code, created_at
		FROM partner_wallets `+where,
		arg,
	).Scan(&wallet.ID, &wallet.PartnerID, &wallet.Balance, &wallet.CurrencyCode, &wallet.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return wallet, nil
}

// Apply runs a single entry in its own transaction.
func (r *Repository) Apply(ctx context.Context, entry Entry) (*domain.WalletTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	wtx, err := r.ApplyTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return wtx, nil
}

// ApplyTx appends a ledger entry and adjusts the wallet balance inside a
// caller-owned transaction. The wallet row is locked first so the
// balance always equals the prior balance plus or minus the amount, and
// the signed ledger sum keeps reconciling with the stored balance.
func (r *Repository) ApplyTx(ctx context.Context, tx *sql.Tx, entry Entry) (*domain.WalletTransaction, error) {
	if !entry.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT balance FROM partner_wallets WHERE id = $1 FOR UPDATE
	`, entry.WalletID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	switch entry.Type {
	case domain.WalletCredit:
		balance = balance.Add(entry.Amount)
	case domain.WalletDebit:
		if balance.LessThan(entry.Amount) {
			return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, balance, entry.Amount)
		}
		balance = balance.Sub(entry.Amount)
	default:
		return nil, fmt.Errorf("unknown wallet transaction type %q", entry.Type)
	}

	wtx := &domain.WalletTransaction{
		ID:        uuid.New().String(),
		WalletID:  entry.WalletID,
		Amount:    entry.Amount,
		Type:      entry.Type,
		Purpose:   entry.Purpose,
		Reference: entry.Reference,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, amount, type, purpose, reference, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
	`, wtx.ID, wtx.WalletID, wtx.Amount, wtx.Type, wtx.Purpose, wtx.Reference, wtx.CreatedAt); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE partner_wallets SET balance = $1 WHERE id = $2
	`, balance, entry.WalletID); err != nil {
		return nil, err
	}

	return wtx, nil
}

// ListTransactions returns the wallet's ledger, newest first.
func (r *Repository) ListTransactions(ctx context.Context, walletID string) ([]domain.WalletTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, wallet_id, amount, type, COALESCE(purpose, ''), COALESCE(reference, ''), created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
	`, walletID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &t.Type, &t.Purpose, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return txs, nil
}

// ReconciliationReport compares the stored balance with the signed sum
// of all ledger entries.
type ReconciliationReport struct {
	WalletID   string          `json:"wallet_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Difference decimal.Decimal `json:"difference"`
	Consistent bool            `json:"consistent"`
}

func (r *Repository) Reconcile(ctx context.Context, walletID string) (*ReconciliationReport, error) {
	wallet, err := r.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}

	var sum decimal.Decimal
	err = r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1
	`, walletID).Scan(&sum)
	if err != nil {
		return nil, err
	}

	diff := wallet.Balance.Sub(sum)
	return &ReconciliationReport{
		WalletID:   walletID,
		Balance:    wallet.Balance,
		LedgerSum:  sum,
		Difference: diff,
		Consistent: diff.IsZero(),
	}, nil
}
