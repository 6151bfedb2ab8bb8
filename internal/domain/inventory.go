package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionAction string

const (
	ActionAdd    TransactionAction = "add"
	ActionRemove TransactionAction = "remove"
	ActionAdjust TransactionAction = "adjust"
	ActionOrder  TransactionAction = "order"
)

// InventoryItem is the sellable quantity of a herb at a partner's base.
// At most one item exists per (herb, base) pair.
type InventoryItem struct {
	ID                  string          `json:"id"`
	HerbID              string          `json:"herb_id"`
	BaseID              string          `json:"base_id"`
	QuantityKg          float64         `json:"quantity_kg"`
	PriceUSD            decimal.Decimal `json:"price_usd"`
	CurrencyCode        string          `json:"currency_code"`
	LowStockThresholdKg float64         `json:"low_stock_threshold_kg"`
	IsAvailable         bool            `json:"is_available"`
	CreatedAt           time.Time       `json:"created_at"`
}

// IsBelowThreshold reports whether on-hand stock has dropped below the
// item's configured low-stock threshold.
func (i InventoryItem) IsBelowThreshold() bool {
	return i.QuantityKg < i.LowStockThresholdKg
}

// InventoryTransaction is an immutable record of a single quantity change.
type InventoryTransaction struct {
	ID          string            `json:"id"`
	ItemID      string            `json:"item_id"`
	Action      TransactionAction `json:"action"`
	QuantityKg  float64           `json:"quantity_kg"`
	PerformedBy string            `json:"performed_by,omitempty"`
	Note        string            `json:"note,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// LowStockAlert flags an item that crossed below its threshold. It is
// raised at most once per item and never cleared automatically when
// stock is replenished; dismissal is a manual admin action.
type LowStockAlert struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	TriggeredAt time.Time `json:"triggered_at"`
	Notified    bool      `json:"notified"`
}
