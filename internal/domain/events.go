package domain

import "time"

type OrderPlacedEvent struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	PartnerID string      `json:"partner_id"`
	Items     []OrderItem `json:"items"`
	Timestamp time.Time   `json:"timestamp"`
}

type OrderProcessingEvent struct {
	OrderID   string    `json:"order_id"`
	PartnerID string    `json:"partner_id"`
	Timestamp time.Time `json:"timestamp"`
}

// LowStockEvent is published when a deduction pushes an item below its
// threshold and an alert is raised.
type LowStockEvent struct {
	AlertID     string    `json:"alert_id"`
	ItemID      string    `json:"item_id"`
	HerbName    string    `json:"herb_name"`
	BaseName    string    `json:"base_name"`
	PartnerID   string    `json:"partner_id"`
	RemainingKg float64   `json:"remaining_kg"`
	ThresholdKg float64   `json:"threshold_kg"`
	Timestamp   time.Time `json:"timestamp"`
}
