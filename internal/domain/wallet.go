package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WalletTransactionType string

const (
	WalletCredit WalletTransactionType = "credit"
	WalletDebit  WalletTransactionType = "debit"
)

// PartnerWallet holds a partner's balance. The balance is only ever
// mutated together with an appended WalletTransaction, so it always
// reconciles with the signed sum of the ledger.
type PartnerWallet struct {
	ID           string          `json:"id"`
	PartnerID    string          `json:"partner_id"`
	Balance      decimal.Decimal `json:"balance"`
	CurrencyCode string          `json:"currency_code"`
	CreatedAt    time.Time       `json:"created_at"`
}

// WalletTransaction is an immutable ledger entry. Corrections are made
// with a compensating entry, never by editing an existing one.
type WalletTransaction struct {
	ID        string                `json:"id"`
	WalletID  string                `json:"wallet_id"`
	Amount    decimal.Decimal       `json:"amount"`
	Type      WalletTransactionType `json:"type"`
	Purpose   string                `json:"purpose,omitempty"`
	Reference string                `json:"reference,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Signed returns the amount with the sign implied by the entry type.
func (t WalletTransaction) Signed() decimal.Decimal {
	if t.Type == WalletDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
