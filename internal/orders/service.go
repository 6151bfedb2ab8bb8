package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
	"github.com/varlamzhordania/terrapura.net/internal/inventory"
	"github.com/varlamzhordania/terrapura.net/internal/messaging"
	"github.com/varlamzhordania/terrapura.net/internal/wallet"
)

// Service owns the two state transitions that carry side effects:
// ProcessOrder (inventory deduction) and ReleaseEscrow (wallet credit).
// Each runs as one database transaction, so a failed step leaves no
// partial state behind.
type Service struct {
	db               *sql.DB
	repo             *Repository
	inventory        *inventory.Repository
	wallets          *wallet.Repository
	processingEvents *messaging.Producer
	lowStockEvents   *messaging.Producer
	logger           *slog.Logger
}

func NewService(db *sql.DB, repo *Repository, inv *inventory.Repository, wallets *wallet.Repository, processingEvents, lowStockEvents *messaging.Producer, logger *slog.Logger) *Service {
	return &Service{
		db:               db,
		repo:             repo,
		inventory:        inv,
		wallets:          wallets,
		processingEvents: processingEvents,
		lowStockEvents:   lowStockEvents,
		logger:           logger,
	}
}

// ProcessOrder moves a pending order to processing and deducts every
// line item from inventory. The transition is edge-triggered: the order
// row is locked and must still be pending, so the deduction fires
// exactly once no matter how often the call is repeated. Insufficient
// stock or a dangling inventory reference on any line aborts the whole
// transaction.
func (s *Service) ProcessOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status    domain.OrderStatus
		userID    string
		partnerID string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, user_id, partner_id FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&status, &userID, &partnerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, domain.OrderStatusProcessing)
	}

	// Lines are deducted in item-id order so two orders over the same
	// items always lock inventory rows in the same sequence and cannot
	// deadlock each other.
	rows, err := tx.QueryContext(ctx, `
		SELECT COALESCE(inventory_item_id::text, ''), herb_name, quantity_kg
		FROM order_items
		WHERE order_id = $1
		ORDER BY inventory_item_id
	`, orderID)
	if err != nil {
		return nil, err
	}

	type line struct {
		itemID   string
		herbName string
		qtyKg    float64
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.itemID, &l.herbName, &l.qtyKg); err != nil {
			_ = rows.Close()
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var raised []domain.LowStockAlert
	for _, l := range lines {
		if l.itemID == "" {
			return nil, fmt.Errorf("%w: line for %q", ErrDanglingInventoryRef, l.herbName)
		}

		result, err := s.inventory.ApplyTx(ctx, tx, inventory.Change{
			ItemID:      l.itemID,
			Action:      domain.ActionOrder,
			QuantityKg:  l.qtyKg,
			PerformedBy: userID,
			Note:        fmt.Sprintf("Deducted by order %s", orderID),
		})
		if err != nil {
			if errors.Is(err, inventory.ErrItemNotFound) {
				return nil, fmt.Errorf("%w: line for %q", ErrDanglingInventoryRef, l.herbName)
			}
			return nil, err
		}
		if result.RaisedAlert != nil {
			raised = append(raised, *result.RaisedAlert)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1 WHERE id = $2
	`, domain.OrderStatusProcessing, orderID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shipments (id, order_id, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING
	`, uuid.New().String(), orderID, domain.ShipmentStatusPending, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.publishProcessing(ctx, orderID, partnerID)
	for _, alert := range raised {
		s.publishLowStock(ctx, alert)
	}

	return s.repo.GetByID(ctx, orderID)
}

// ReleaseEscrow credits the partner's wallet with the order total. The
// escrow_released flag is one-way: a repeated release is rejected before
// any money moves, so the wallet can never be credited twice for the
// same order.
func (s *Service) ReleaseEscrow(ctx context.Context, orderID string) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status    domain.OrderStatus
		partnerID string
		approved  bool
		released  bool
		total     decimal.Decimal
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, partner_id, is_approved_by_customer, escrow_released, total_price
		FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&status, &partnerID, &approved, &released, &total)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if released {
		return nil, ErrAlreadyReleased
	}
	if status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order is cancelled", ErrInvalidTransition)
	}
	if !approved {
		return nil, ErrNotApproved
	}

	var walletID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM partner_wallets WHERE partner_id = $1
	`, partnerID).Scan(&walletID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, err
	}

	if _, err := s.wallets.ApplyTx(ctx, tx, wallet.Entry{
		WalletID:  walletID,
		Amount:    total,
		Type:      domain.WalletCredit,
		Purpose:   "escrow_release",
		Reference: "order:" + orderID,
	}); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET escrow_released = true, released_at = $1 WHERE id = $2
	`, time.Now().UTC(), orderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("escrow released", "order_id", orderID, "partner_id", partnerID, "amount", total)
	return s.repo.GetByID(ctx, orderID)
}

func (s *Service) publishProcessing(ctx context.Context, orderID, partnerID string) {
	if s.processingEvents == nil {
		return
	}

	event := domain.OrderProcessingEvent{
		OrderID:   orderID,
		PartnerID: partnerID,
		Timestamp: time.Now().UTC(),
	}
	if err := s.processingEvents.Publish(ctx, orderID, event); err != nil {
		s.logger.Error("failed to publish order processing event", "error", err, "order_id", orderID)
	}
}

func (s *Service) publishLowStock(ctx context.Context, alert domain.LowStockAlert) {
	if s.lowStockEvents == nil {
		return
	}

	herbName, baseName, partnerID, err := s.inventory.AlertContext(ctx, alert.ItemID)
	if err != nil {
		s.logger.Error("failed to resolve alert context", "error", err, "item_id", alert.ItemID)
		return
	}

	item, err := s.inventory.GetItem(ctx, alert.ItemID)
	if err != nil || item == nil {
		s.logger.Error("failed to load item for low stock event", "error", err, "item_id", alert.ItemID)
		return
	}

	event := domain.LowStockEvent{
		AlertID:     alert.ID,
		ItemID:      alert.ItemID,
		HerbName:    herbName,
		BaseName:    baseName,
		PartnerID:   partnerID,
		RemainingKg: item.QuantityKg,
		ThresholdKg: item.LowStockThresholdKg,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.lowStockEvents.Publish(ctx, alert.ItemID, event); err != nil {
		s.logger.Error("failed to publish low stock event", "error", err, "item_id", alert.ItemID)
	}
}
