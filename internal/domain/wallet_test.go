package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWalletTransaction_Signed(t *testing.T) {
	credit := WalletTransaction{Amount: decimal.RequireFromString("25.00"), Type: WalletCredit}
	assert.True(t, credit.Signed().Equal(decimal.RequireFromString("25.00")))

	debit := WalletTransaction{Amount: decimal.RequireFromString("10.50"), Type: WalletDebit}
	assert.True(t, debit.Signed().Equal(decimal.RequireFromString("-10.50")))
}
