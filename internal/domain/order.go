package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further status transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo validates a status change against the order lifecycle
// pending -> processing -> shipped -> delivered, with cancelled reachable
// from any non-terminal state.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == OrderStatusCancelled {
		return !s.IsTerminal()
	}
	switch s {
	case OrderStatusPending:
		return next == OrderStatusProcessing
	case OrderStatusProcessing:
		return next == OrderStatusShipped
	case OrderStatusShipped:
		return next == OrderStatusDelivered
	default:
		return false
	}
}

type Order struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	PartnerID            string          `json:"partner_id"`
	Status               OrderStatus     `json:"status"`
	TotalPrice           decimal.Decimal `json:"total_price"`
	Notes                string          `json:"notes,omitempty"`
	IsApprovedByCustomer bool            `json:"is_approved_by_customer"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
	EscrowReleased       bool            `json:"escrow_released"`
	ReleasedAt           *time.Time      `json:"released_at,omitempty"`
	Items                []OrderItem     `json:"items"`
	CreatedAt            time.Time       `json:"created_at"`
}

// OrderItem snapshots the herb name and unit price at order creation so
// history stays correct even if the inventory item is later deleted.
type OrderItem struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	InventoryItemID string          `json:"inventory_item_id,omitempty"`
	HerbName        string          `json:"herb_name"`
	QuantityKg      float64         `json:"quantity_kg"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
)

type Shipment struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	TrackingNumber string         `json:"tracking_number,omitempty"`
	Carrier        string         `json:"carrier,omitempty"`
	Status         ShipmentStatus `json:"status"`
	ShippedAt      *time.Time     `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
