package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrAlreadyReleased      = errors.New("escrow already released")
	ErrNotApproved          = errors.New("order not approved by customer")
	ErrDanglingInventoryRef = errors.New("order item references missing inventory")
	ErrItemUnavailable      = errors.New("inventory item is not available")
	ErrBadLineTotal         = errors.New("line total exceeds quantity times unit price")
)

// NewItem is a line item request at order creation. UnitPrice and the
// herb name are snapshotted from the inventory item so the order's
// history does not depend on the inventory record surviving. TotalPrice
// may be supplied below the computed amount to express a discount; zero
// means derive it.
type NewItem struct {
	InventoryItemID string
	QuantityKg      float64
	TotalPrice      decimal.Decimal
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, order *domain.Order, items []NewItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	order.Status = domain.OrderStatusPending
	order.CreatedAt = time.Now().UTC()
	order.Items = order.Items[:0]
	order.TotalPrice = decimal.Zero

	for _, req := range items {
		var (
			herbName  string
			unitPrice decimal.Decimal
			available bool
		)
		err := tx.QueryRowContext(ctx, `
			SELECT h.name, i.price_usd, i.is_available
			FROM inventory_items i
			JOIN herbs h ON h.id = i.herb_id
			WHERE i.id = $1
		`, req.InventoryItemID).Scan(&herbName, &unitPrice, &available)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: %s", ErrDanglingInventoryRef, req.InventoryItemID)
			}
			return err
		}
		if !available {
			return fmt.Errorf("%w: %s", ErrItemUnavailable, req.InventoryItemID)
		}

		computed := unitPrice.Mul(decimal.NewFromFloat(req.QuantityKg)).Round(2)
		lineTotal := req.TotalPrice
		if lineTotal.IsZero() {
			lineTotal = computed
		}
		if lineTotal.IsNegative() || lineTotal.GreaterThan(computed) {
			return fmt.Errorf("%w: item %s", ErrBadLineTotal, req.InventoryItemID)
		}

		item := domain.OrderItem{
			ID:              uuid.New().String(),
			OrderID:         order.ID,
			InventoryItemID: req.InventoryItemID,
			HerbName:        herbName,
			QuantityKg:      req.QuantityKg,
			UnitPrice:       unitPrice,
			TotalPrice:      lineTotal,
		}
		order.Items = append(order.Items, item)
		order.TotalPrice = order.TotalPrice.Add(lineTotal)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, partner_id, status, total_price, notes, is_approved_by_customer, escrow_released, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), false, false, $7)
	`, order.ID, order.UserID, order.PartnerID, order.Status, order.TotalPrice, order.Notes, order.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, inventory_item_id, herb_name, quantity_kg, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.OrderID, item.InventoryItemID, item.HerbName, item.QuantityKg, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}
	var notes sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, partner_id, status, total_price, notes, is_approved_by_customer, approved_at, escrow_released, released_at, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.UserID, &order.PartnerID, &order.Status, &order.TotalPrice, &notes,
		&order.IsApprovedByCustomer, &order.ApprovedAt, &order.EscrowReleased, &order.ReleasedAt, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	order.Notes = notes.String

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, COALESCE(inventory_item_id::text, ''), herb_name, quantity_kg, unit_price, total_price
		FROM order_items
		WHERE order_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.InventoryItemID, &item.HerbName, &item.QuantityKg, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, partner_id, status, total_price, is_approved_by_customer, escrow_released, created_at
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.PartnerID, &order.Status, &order.TotalPrice, &order.IsApprovedByCustomer, &order.EscrowReleased, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, COALESCE(inventory_item_id::text, ''), herb_name, quantity_kg, unit_price, total_price
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var item domain.OrderItem
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.InventoryItemID, &item.HerbName, &item.QuantityKg, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		order := orderMap[item.OrderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// UpdateStatus moves an order to shipped, delivered or cancelled. The
// pending -> processing transition is excluded here on purpose: it
// carries the deduction side effect and only Service.ProcessOrder may
// perform it.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if status == domain.OrderStatusProcessing || status == domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: %s is not caller-settable", ErrInvalidTransition, status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.OrderStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM orders WHERE id = $1 FOR UPDATE
	`, id).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if !current.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1 WHERE id = $2
	`, status, id); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch status {
	case domain.OrderStatusShipped:
		if _, err := tx.ExecContext(ctx, `
			UPDATE shipments SET status = $1, shipped_at = $2 WHERE order_id = $3
		`, domain.ShipmentStatusInTransit, now, id); err != nil {
			return nil, err
		}
	case domain.OrderStatusDelivered:
		if _, err := tx.ExecContext(ctx, `
			UPDATE shipments SET status = $1, delivered_at = $2 WHERE order_id = $3
		`, domain.ShipmentStatusDelivered, now, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, id)
}

// Approve records the customer's delivery confirmation. Idempotent.
func (r *Repository) Approve(ctx context.Context, id string) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET is_approved_by_customer = true,
		    approved_at = COALESCE(approved_at, $1)
		WHERE id = $2
	`, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrOrderNotFound
	}

	return r.GetByID(ctx, id)
}

func (r *Repository) GetShipment(ctx context.Context, orderID string) (*domain.Shipment, error) {
	shipment := &domain.Shipment{}
	var tracking, carrier sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, tracking_number, carrier, status, shipped_at, delivered_at, created_at
		FROM shipments
		WHERE order_id = $1
	`, orderID).Scan(&shipment.ID, &shipment.OrderID, &tracking, &carrier, &shipment.Status, &shipment.ShippedAt, &shipment.DeliveredAt, &shipment.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	shipment.TrackingNumber = tracking.String
	shipment.Carrier = carrier.String

	return shipment, nil
}
