package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemNotFound      = errors.New("inventory item not found")
	ErrDuplicateItem     = errors.New("inventory item already exists for herb and base")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Change describes one quantity mutation of an inventory item. Every
// change is committed together with its transaction log entry; the two
// can never diverge.
type Change struct {
	ItemID      string
	Action      domain.TransactionAction
	QuantityKg  float64
	PerformedBy string
	Note        string
}

// ChangeResult reports the item state after the change and the low-stock
// alert, if this change was the one that raised it.
type ChangeResult struct {
	Item        domain.InventoryItem
	RaisedAlert *domain.LowStockAlert
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateItem(ctx context.Context, item *domain.InventoryItem) error {
	item.ID = uuid.New().String()
	item.CreatedAt = time.Now().UTC()
	if item.LowStockThresholdKg == 0 {
		item.LowStockThresholdKg = 5.0
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, herb_id, base_id, quantity_kg, price_usd, currency_code, low_stock_threshold_kg, is_available, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.HerbID, item.BaseID, item.QuantityKg, item.PriceUSD, item.CurrencyCode, item.LowStockThresholdKg, item.IsAvailable, item.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateItem
		}
		return err
	}

	return nil
}

func (r *Repository) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	item := &domain.InventoryItem{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, herb_id, base_id, quantity_kg, price_usd, currency_code, low_stock_threshold_kg, is_available, created_at
		FROM inventory_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.HerbID, &item.BaseID, &item.QuantityKg, &item.PriceUSD, &item.CurrencyCode, &item.LowStockThresholdKg, &item.IsAvailable, &item.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return item, nil
}

func (r *Repository) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, herb_id, base_id, quantity_kg, price_usd, currency_code, low_stock_threshold_kg, is_available, created_at
		FROM inventory_items
		ORDER BY base_id, herb_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.InventoryItem
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.HerbID, &item.BaseID, &item.QuantityKg, &item.PriceUSD, &item.CurrencyCode, &item.LowStockThresholdKg, &item.IsAvailable, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// Apply runs a single change in its own transaction.
func (r *Repository) Apply(ctx context.Context, change Change) (*ChangeResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := r.ApplyTx(ctx, tx, change)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return result, nil
}

// ApplyTx runs a change inside a caller-owned transaction. The item row
// is locked so concurrent deductions serialize and the sufficiency check
// never reads a stale quantity. Validation, mutation, log append and
// threshold evaluation are one unit: on any error nothing is committed.
func (r *Repository) ApplyTx(ctx context.Context, tx *sql.Tx, change Change) (*ChangeResult, error) {
	if change.QuantityKg <= 0 {
		return nil, ErrInvalidQuantity
	}

	item := domain.InventoryItem{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, herb_id, base_id, quantity_kg, price_usd, currency_code, low_stock_threshold_kg, is_available, created_at
		FROM inventory_items
		WHERE id = $1
		FOR UPDATE
	`, change.ItemID).Scan(&item.ID, &item.HerbID, &item.BaseID, &item.QuantityKg, &item.PriceUSD, &item.CurrencyCode, &item.LowStockThresholdKg, &item.IsAvailable, &item.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	switch change.Action {
	case domain.ActionAdd:
		item.QuantityKg += change.QuantityKg
	case domain.ActionRemove, domain.ActionOrder:
		if item.QuantityKg < change.QuantityKg {
			return nil, fmt.Errorf("%w: item %s has %.2fkg, requested %.2fkg", ErrInsufficientStock, item.ID, item.QuantityKg, change.QuantityKg)
		}
		item.QuantityKg -= change.QuantityKg
	case domain.ActionAdjust:
		// Adjust records the corrected absolute quantity.
		item.QuantityKg = change.QuantityKg
	default:
		return nil, fmt.Errorf("unknown inventory action %q", change.Action)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_items SET quantity_kg = $1 WHERE id = $2
	`, item.QuantityKg, item.ID); err != nil {
		return nil, err
	}

	logID := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions (id, item_id, action, quantity_kg, performed_by, note, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
	`, logID, item.ID, change.Action, change.QuantityKg, change.PerformedBy, change.Note, time.Now().UTC()); err != nil {
		return nil, err
	}

	result := &ChangeResult{Item: item}

	// Every change re-evaluates the threshold; the only thing that
	// suppresses a new alert is one already existing. An item that was
	// below its threshold before the change still gets its alert here.
	if item.IsBelowThreshold() {
		alert, err := ensureAlertTx(ctx, tx, item.ID)
		if err != nil {
			return nil, err
		}
		result.RaisedAlert = alert
	}

	return result, nil
}

// ensureAlertTx creates the item's low-stock alert if none exists yet.
// Returns nil when an alert is already present, so re-triggering is
// suppressed by the existence check. Alerts are never cleared here.
func ensureAlertTx(ctx context.Context, tx *sql.Tx, itemID string) (*domain.LowStockAlert, error) {
	var existing string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM low_stock_alerts WHERE item_id = $1
	`, itemID).Scan(&existing)
	if err == nil {
		return nil, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	alert := &domain.LowStockAlert{
		ID:          uuid.New().String(),
		ItemID:      itemID,
		TriggeredAt: time.Now().UTC(),
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO low_stock_alerts (id, item_id, triggered_at, notified)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (item_id) DO NOTHING
	`, alert.ID, alert.ItemID, alert.TriggeredAt)
	if err != nil {
		return nil, err
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return nil, nil
	}

	return alert, nil
}

// SetThreshold updates an item's low-stock threshold and re-evaluates
// the stock against it, so a raised threshold surfaces an alert without
// waiting for the next stock change.
func (r *Repository) SetThreshold(ctx context.Context, itemID string, thresholdKg float64) (*ChangeResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	item := domain.InventoryItem{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, herb_id, base_id, quantity_kg, price_usd, currency_code, low_stock_threshold_kg, is_available, created_at
		FROM inventory_items
		WHERE id = $1
		FOR UPDATE
	`, itemID).Scan(&item.ID, &item.HerbID, &item.BaseID, &item.QuantityKg, &item.PriceUSD, &item.CurrencyCode, &item.LowStockThresholdKg, &item.IsAvailable, &item.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	item.LowStockThresholdKg = thresholdKg
	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_items SET low_stock_threshold_kg = $1 WHERE id = $2
	`, thresholdKg, itemID); err != nil {
		return nil, err
	}

	result := &ChangeResult{Item: item}
	if item.IsBelowThreshold() {
		alert, err := ensureAlertTx(ctx, tx, itemID)
		if err != nil {
			return nil, err
		}
		result.RaisedAlert = alert
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return result, nil
}

// ListTransactions returns the item's audit history, newest first.
func (r *Repository) ListTransactions(ctx context.Context, itemID string) ([]domain.InventoryTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, action, quantity_kg, COALESCE(performed_by, ''), COALESCE(note, ''), created_at
		FROM inventory_transactions
		WHERE item_id = $1
		ORDER BY created_at DESC
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []domain.InventoryTransaction
	for rows.Next() {
		var t domain.InventoryTransaction
		if err := rows.Scan(&t.ID, &t.ItemID, &t.Action, &t.QuantityKg, &t.PerformedBy, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return txs, nil
}

func (r *Repository) ListAlerts(ctx context.Context) ([]domain.LowStockAlert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, triggered_at, notified
		FROM low_stock_alerts
		ORDER BY triggered_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var alerts []domain.LowStockAlert
	for rows.Next() {
		var a domain.LowStockAlert
		if err := rows.Scan(&a.ID, &a.ItemID, &a.TriggeredAt, &a.Notified); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}

// DismissAlert is the manual-dismiss workflow; stock replenishment never
// clears an alert on its own.
func (r *Repository) DismissAlert(ctx context.Context, alertID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM low_stock_alerts WHERE id = $1`, alertID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

func (r *Repository) MarkAlertNotified(ctx context.Context, alertID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE low_stock_alerts SET notified = true WHERE id = $1`, alertID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// AlertContext resolves the display fields carried on a low-stock event.
func (r *Repository) AlertContext(ctx context.Context, itemID string) (herbName, baseName, partnerID string, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT h.name, b.name, b.partner_id
		FROM inventory_items i
		JOIN herbs h ON h.id = i.herb_id
		JOIN inventory_bases b ON b.id = i.base_id
		WHERE i.id = $1
	`, itemID).Scan(&herbName, &baseName, &partnerID)
	if err == sql.ErrNoRows {
		return "", "", "", ErrItemNotFound
	}
	return herbName, baseName, partnerID, err
}
