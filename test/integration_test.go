//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
	"github.com/varlamzhordania/terrapura.net/internal/inventory"
	"github.com/varlamzhordania/terrapura.net/internal/orders"
	"github.com/varlamzhordania/terrapura.net/internal/wallet"
	"github.com/varlamzhordania/terrapura.net/internal/worker"
)

type catalogFixture struct {
	PartnerID string
	HerbID    string
	BaseID    string
}

func seedCatalog(ctx context.Context, t *testing.T, db *sql.DB) catalogFixture {
	t.Helper()

	fx := catalogFixture{
		PartnerID: uuid.New().String(),
		HerbID:    uuid.New().String(),
		BaseID:    uuid.New().String(),
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO currencies (code, name, symbol) VALUES ('USD', 'US Dollar', '$')
		ON CONFLICT (code) DO NOTHING
	`); err != nil {
		t.Fatalf("failed to seed currency: %v", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO partners (id, name, country, verified) VALUES ($1, 'Mountain Roots Co', 'GE', true)
	`, fx.PartnerID); err != nil {
		t.Fatalf("failed to seed partner: %v", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO herbs (id, name, slug) VALUES ($1, 'Chamomile', 'chamomile-' || $1)
	`, fx.HerbID); err != nil {
		t.Fatalf("failed to seed herb: %v", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO inventory_bases (id, partner_id, name, country) VALUES ($1, $2, 'Kazbegi Base', 'GE')
	`, fx.BaseID, fx.PartnerID); err != nil {
		t.Fatalf("failed to seed base: %v", err)
	}

	return fx
}

func seedItem(ctx context.Context, t *testing.T, repo *inventory.Repository, fx catalogFixture, quantityKg, thresholdKg float64) *domain.InventoryItem {
	t.Helper()

	item := &domain.InventoryItem{
		HerbID:              fx.HerbID,
		BaseID:              fx.BaseID,
		QuantityKg:          quantityKg,
		PriceUSD:            decimal.RequireFromString("12.50"),
		CurrencyCode:        "USD",
		LowStockThresholdKg: thresholdKg,
		IsAvailable:         true,
	}
	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("failed to seed inventory item: %v", err)
	}

	return item
}

func TestInventoryItemCreation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := inventory.NewHandler(inventory.NewRepository(db), nil, logger)

	reqBody := `{"herb_id": "` + fx.HerbID + `", "base_id": "` + fx.BaseID + `", "quantity_kg": 10, "price_usd": "12.50", "currency_code": "USD", "low_stock_threshold_kg": 5}`
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.HandleCreateItem(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var item domain.InventoryItem
	if err := json.NewDecoder(rec.Body).Decode(&item); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}
	if item.ID == "" {
		t.Fatal("expected item ID to be set")
	}
	if item.QuantityKg != 10 {
		t.Fatalf("expected quantity 10, got %v", item.QuantityKg)
	}

	// Same herb at the same base again must be rejected.
	req = httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.HandleCreateItem(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d for duplicate item, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
}

func TestStockChangesAppendToLedger(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	repo := inventory.NewRepository(db)
	item := seedItem(ctx, t, repo, fx, 10, 5)

	result, err := repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionAdd, QuantityKg: 5, PerformedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("failed to add stock: %v", err)
	}
	if result.Item.QuantityKg != 15 {
		t.Fatalf("expected 15kg after add, got %v", result.Item.QuantityKg)
	}

	result, err = repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionRemove, QuantityKg: 2, PerformedBy: "admin-1", Note: "spoilage",
	})
	if err != nil {
		t.Fatalf("failed to remove stock: %v", err)
	}
	if result.Item.QuantityKg != 13 {
		t.Fatalf("expected 13kg after remove, got %v", result.Item.QuantityKg)
	}

	result, err = repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionAdjust, QuantityKg: 12.5, PerformedBy: "admin-1", Note: "stocktake",
	})
	if err != nil {
		t.Fatalf("failed to adjust stock: %v", err)
	}
	if result.Item.QuantityKg != 12.5 {
		t.Fatalf("expected 12.5kg after adjust, got %v", result.Item.QuantityKg)
	}

	txs, err := repo.ListTransactions(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(txs))
	}
	if txs[0].Action != domain.ActionAdjust {
		t.Fatalf("expected newest entry to be adjust, got %s", txs[0].Action)
	}
	if txs[0].Note != "stocktake" {
		t.Fatalf("expected note 'stocktake', got %q", txs[0].Note)
	}
}

func TestInsufficientStockLeavesNoTrace(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	repo := inventory.NewRepository(db)
	item := seedItem(ctx, t, repo, fx, 3, 1)

	// 5kg requested against 3kg on hand.
	_, err = repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionRemove, QuantityKg: 5,
	})
	if err == nil {
		t.Fatal("expected insufficient stock error")
	}

	fetched, err := repo.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	if fetched.QuantityKg != 3 {
		t.Fatalf("expected quantity unchanged at 3, got %v", fetched.QuantityKg)
	}

	txs, err := repo.ListTransactions(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no ledger entries after rejected change, got %d", len(txs))
	}
}

func TestLowStockAlertLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	repo := inventory.NewRepository(db)
	item := seedItem(ctx, t, repo, fx, 10, 5)

	// 10kg - 6kg = 4kg, dropping below the 5kg threshold.
	result, err := repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionRemove, QuantityKg: 6,
	})
	if err != nil {
		t.Fatalf("failed to remove stock: %v", err)
	}
	if result.RaisedAlert == nil {
		t.Fatal("expected alert to be raised when stock drops below the threshold")
	}

	// The existing alert suppresses a second one on a further drop.
	result, err = repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionRemove, QuantityKg: 2,
	})
	if err != nil {
		t.Fatalf("failed to remove stock: %v", err)
	}
	if result.RaisedAlert != nil {
		t.Fatal("expected no second alert while one is in place")
	}

	alerts, err := repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}

	// Replenishing never clears the alert on its own.
	if _, err := repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionAdd, QuantityKg: 20,
	}); err != nil {
		t.Fatalf("failed to add stock: %v", err)
	}

	alerts, err = repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected alert to survive replenishment, got %d alerts", len(alerts))
	}

	found, err := repo.DismissAlert(ctx, alerts[0].ID)
	if err != nil {
		t.Fatalf("failed to dismiss alert: %v", err)
	}
	if !found {
		t.Fatal("expected alert to exist for dismissal")
	}

	alerts, err = repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts after dismissal, got %d", len(alerts))
	}

	// A threshold edit re-evaluates but is a no-op while stock is healthy.
	result, err = repo.SetThreshold(ctx, item.ID, 10)
	if err != nil {
		t.Fatalf("failed to set threshold: %v", err)
	}
	if result.RaisedAlert != nil {
		t.Fatal("expected no alert while stock is above the new threshold")
	}

	// A fresh drop below after dismissal raises a new alert.
	result, err = repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionRemove, QuantityKg: 15,
	})
	if err != nil {
		t.Fatalf("failed to remove stock: %v", err)
	}
	if result.RaisedAlert == nil {
		t.Fatal("expected new alert after dismissal and a fresh drop below")
	}

	// Dismissing while stock is still below does not mute later changes:
	// the very next deduction re-raises, with no recovery in between.
	alerts, err = repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if _, err := repo.DismissAlert(ctx, alerts[0].ID); err != nil {
		t.Fatalf("failed to dismiss alert: %v", err)
	}

	result, err = repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionRemove, QuantityKg: 1,
	})
	if err != nil {
		t.Fatalf("failed to remove stock: %v", err)
	}
	if result.RaisedAlert == nil {
		t.Fatal("expected alert re-raised by a deduction while still below threshold")
	}

	alerts, err = repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
}

func TestAlertRaisedWhenStockStartsBelowThreshold(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	repo := inventory.NewRepository(db)

	// 3kg on hand against the 5kg threshold from the start: the first
	// deduction never crosses the threshold but must still raise the
	// alert.
	item := seedItem(ctx, t, repo, fx, 3, 5)

	result, err := repo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionOrder, QuantityKg: 1,
	})
	if err != nil {
		t.Fatalf("failed to deduct stock: %v", err)
	}
	if result.RaisedAlert == nil {
		t.Fatal("expected alert for an item that started below threshold")
	}

	alerts, err := repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
}

func TestThresholdEditReEvaluatesStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	repo := inventory.NewRepository(db)
	item := seedItem(ctx, t, repo, fx, 20, 5)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := inventory.NewHandler(repo, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /items/{itemId}/threshold", handler.HandleSetThreshold)

	// Raising the threshold above the current stock surfaces an alert
	// without any stock change.
	req := httptest.NewRequest(http.MethodPatch, "/items/"+item.ID+"/threshold", strings.NewReader(`{"low_stock_threshold_kg": 25}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var updated domain.InventoryItem
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}
	if updated.LowStockThresholdKg != 25 {
		t.Fatalf("expected threshold 25, got %v", updated.LowStockThresholdKg)
	}

	alerts, err := repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert after raising threshold above stock, got %d", len(alerts))
	}

	// Lowering it back does not clear the alert on its own.
	req = httptest.NewRequest(http.MethodPatch, "/items/"+item.ID+"/threshold", strings.NewReader(`{"low_stock_threshold_kg": 5}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	alerts, err = repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected alert to survive the threshold lowering, got %d", len(alerts))
	}
}

func TestOrderProcessingDeductsInventory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	invRepo := inventory.NewRepository(db)
	item := seedItem(ctx, t, invRepo, fx, 10, 5)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewRepository(db)
	walletRepo := wallet.NewRepository(db)
	service := orders.NewService(db, repo, invRepo, walletRepo, nil, nil, logger)
	handler := orders.NewHandler(repo, service, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", handler.HandleCreate)
	mux.HandleFunc("POST /orders/{id}/process", handler.HandleProcess)

	reqBody := `{"user_id": "user-1", "partner_id": "` + fx.PartnerID + `", "items": [{"inventory_item_id": "` + item.ID + `", "quantity_kg": 3}]}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var created domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if created.Status != domain.OrderStatusPending {
		t.Fatalf("expected status pending, got %s", created.Status)
	}
	if !created.TotalPrice.Equal(decimal.RequireFromString("37.50")) {
		t.Fatalf("expected total 37.50, got %s", created.TotalPrice)
	}
	if len(created.Items) != 1 || created.Items[0].HerbName != "Chamomile" {
		t.Fatalf("expected snapshotted herb name on line item, got %+v", created.Items)
	}

	// Creation alone must not touch stock.
	fetched, err := invRepo.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	if fetched.QuantityKg != 10 {
		t.Fatalf("expected 10kg before processing, got %v", fetched.QuantityKg)
	}

	req = httptest.NewRequest(http.MethodPost, "/orders/"+created.ID+"/process", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var processed domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&processed); err != nil {
		t.Fatalf("failed to decode processed order: %v", err)
	}
	if processed.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected status processing, got %s", processed.Status)
	}

	fetched, err = invRepo.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	if fetched.QuantityKg != 7 {
		t.Fatalf("expected 7kg after processing, got %v", fetched.QuantityKg)
	}

	txs, err := invRepo.ListTransactions(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 ledger entry for the deduction, got %d", len(txs))
	}
	if txs[0].Action != domain.ActionOrder {
		t.Fatalf("expected ledger action order, got %s", txs[0].Action)
	}

	// Processing again must not deduct a second time.
	req = httptest.NewRequest(http.MethodPost, "/orders/"+created.ID+"/process", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d on repeat processing, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}

	fetched, err = invRepo.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	if fetched.QuantityKg != 7 {
		t.Fatalf("expected quantity still 7kg after repeat processing, got %v", fetched.QuantityKg)
	}

	shipment, err := repo.GetShipment(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to get shipment: %v", err)
	}
	if shipment == nil {
		t.Fatal("expected shipment created on processing")
	}
	if shipment.Status != domain.ShipmentStatusPending {
		t.Fatalf("expected shipment status pending, got %s", shipment.Status)
	}
}

func TestOrderProcessingInsufficientStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	invRepo := inventory.NewRepository(db)
	item := seedItem(ctx, t, invRepo, fx, 10, 5)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewRepository(db)
	walletRepo := wallet.NewRepository(db)
	service := orders.NewService(db, repo, invRepo, walletRepo, nil, nil, logger)

	order := &domain.Order{UserID: "user-2", PartnerID: fx.PartnerID}
	if err := repo.Create(ctx, order, []orders.NewItem{
		{InventoryItemID: item.ID, QuantityKg: 15},
	}); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	if _, err := service.ProcessOrder(ctx, order.ID); err == nil {
		t.Fatal("expected insufficient stock error")
	}

	fetched, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if fetched.Status != domain.OrderStatusPending {
		t.Fatalf("expected order to stay pending, got %s", fetched.Status)
	}

	invItem, err := invRepo.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	if invItem.QuantityKg != 10 {
		t.Fatalf("expected quantity unchanged at 10, got %v", invItem.QuantityKg)
	}

	txs, err := invRepo.ListTransactions(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no ledger entries after failed processing, got %d", len(txs))
	}
}

func TestConcurrentOrdersOverSameItems(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	invRepo := inventory.NewRepository(db)
	itemA := seedItem(ctx, t, invRepo, fx, 50, 5)

	secondHerbID := uuid.New().String()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO herbs (id, name, slug) VALUES ($1, 'Valerian', 'valerian-' || $1)
	`, secondHerbID); err != nil {
		t.Fatalf("failed to seed herb: %v", err)
	}
	itemB := &domain.InventoryItem{
		HerbID:              secondHerbID,
		BaseID:              fx.BaseID,
		QuantityKg:          50,
		PriceUSD:            decimal.RequireFromString("8.00"),
		CurrencyCode:        "USD",
		LowStockThresholdKg: 5,
		IsAvailable:         true,
	}
	if err := invRepo.CreateItem(ctx, itemB); err != nil {
		t.Fatalf("failed to seed inventory item: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewRepository(db)
	walletRepo := wallet.NewRepository(db)
	service := orders.NewService(db, repo, invRepo, walletRepo, nil, nil, logger)

	// The two orders list the same items in opposite order; processing
	// both at once must not deadlock on the inventory row locks.
	orderOne := &domain.Order{UserID: "user-4", PartnerID: fx.PartnerID}
	if err := repo.Create(ctx, orderOne, []orders.NewItem{
		{InventoryItemID: itemA.ID, QuantityKg: 2},
		{InventoryItemID: itemB.ID, QuantityKg: 3},
	}); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	orderTwo := &domain.Order{UserID: "user-5", PartnerID: fx.PartnerID}
	if err := repo.Create(ctx, orderTwo, []orders.NewItem{
		{InventoryItemID: itemB.ID, QuantityKg: 4},
		{InventoryItemID: itemA.ID, QuantityKg: 1},
	}); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{orderOne.ID, orderTwo.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = service.ProcessOrder(ctx, id)
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("processing order %d failed: %v", i+1, err)
		}
	}

	fetchedA, err := invRepo.GetItem(ctx, itemA.ID)
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	if fetchedA.QuantityKg != 47 {
		t.Fatalf("expected 47kg left, got %v", fetchedA.QuantityKg)
	}

	fetchedB, err := invRepo.GetItem(ctx, itemB.ID)
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	if fetchedB.QuantityKg != 43 {
		t.Fatalf("expected 43kg left, got %v", fetchedB.QuantityKg)
	}
}

func TestEscrowReleaseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	invRepo := inventory.NewRepository(db)
	item := seedItem(ctx, t, invRepo, fx, 50, 5)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewRepository(db)
	walletRepo := wallet.NewRepository(db)
	service := orders.NewService(db, repo, invRepo, walletRepo, nil, nil, logger)
	handler := orders.NewHandler(repo, service, nil, logger)

	pw, err := walletRepo.CreateWallet(ctx, fx.PartnerID, "USD")
	if err != nil {
		t.Fatalf("failed to create wallet: %v", err)
	}

	// 8kg at 12.50/kg makes a 100.00 order.
	order := &domain.Order{UserID: "user-3", PartnerID: fx.PartnerID}
	if err := repo.Create(ctx, order, []orders.NewItem{
		{InventoryItemID: item.ID, QuantityKg: 8},
	}); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	if !order.TotalPrice.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected total 100.00, got %s", order.TotalPrice)
	}

	if _, err := service.ProcessOrder(ctx, order.ID); err != nil {
		t.Fatalf("failed to process order: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, order.ID, domain.OrderStatusShipped); err != nil {
		t.Fatalf("failed to ship order: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, order.ID, domain.OrderStatusDelivered); err != nil {
		t.Fatalf("failed to deliver order: %v", err)
	}

	// Release before customer approval must be rejected.
	if _, err := service.ReleaseEscrow(ctx, order.ID); err == nil {
		t.Fatal("expected release before approval to fail")
	}

	if _, err := repo.Approve(ctx, order.ID); err != nil {
		t.Fatalf("failed to approve order: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders/{id}/release-escrow", handler.HandleReleaseEscrow)

	req := httptest.NewRequest(http.MethodPost, "/orders/"+order.ID+"/release-escrow", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	released, err := walletRepo.GetWallet(ctx, pw.ID)
	if err != nil {
		t.Fatalf("failed to get wallet: %v", err)
	}
	if !released.Balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected balance 100.00 after release, got %s", released.Balance)
	}

	// Second release must be rejected before any money moves.
	req = httptest.NewRequest(http.MethodPost, "/orders/"+order.ID+"/release-escrow", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d on repeat release, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}

	released, err = walletRepo.GetWallet(ctx, pw.ID)
	if err != nil {
		t.Fatalf("failed to get wallet: %v", err)
	}
	if !released.Balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected balance still 100.00, got %s", released.Balance)
	}

	txs, err := walletRepo.ListTransactions(ctx, pw.ID)
	if err != nil {
		t.Fatalf("failed to list wallet transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected exactly 1 ledger entry, got %d", len(txs))
	}
	if txs[0].Reference != "order:"+order.ID {
		t.Fatalf("expected ledger entry referencing the order, got %q", txs[0].Reference)
	}

	report, err := walletRepo.Reconcile(ctx, pw.ID)
	if err != nil {
		t.Fatalf("failed to reconcile wallet: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("expected wallet to reconcile, difference %s", report.Difference)
	}
}

func TestWalletLedgerReconciles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	repo := wallet.NewRepository(db)

	pw, err := repo.CreateWallet(ctx, fx.PartnerID, "USD")
	if err != nil {
		t.Fatalf("failed to create wallet: %v", err)
	}

	entries := []wallet.Entry{
		{WalletID: pw.ID, Amount: decimal.RequireFromString("100.00"), Type: domain.WalletCredit, Purpose: "escrow_release"},
		{WalletID: pw.ID, Amount: decimal.RequireFromString("30.00"), Type: domain.WalletDebit, Purpose: "payout"},
		{WalletID: pw.ID, Amount: decimal.RequireFromString("5.50"), Type: domain.WalletCredit, Purpose: "adjustment"},
	}
	for _, entry := range entries {
		if _, err := repo.Apply(ctx, entry); err != nil {
			t.Fatalf("failed to apply entry: %v", err)
		}
	}

	fetched, err := repo.GetWallet(ctx, pw.ID)
	if err != nil {
		t.Fatalf("failed to get wallet: %v", err)
	}
	if !fetched.Balance.Equal(decimal.RequireFromString("75.50")) {
		t.Fatalf("expected balance 75.50, got %s", fetched.Balance)
	}

	// Overdraft must be rejected with the balance untouched.
	if _, err := repo.Apply(ctx, wallet.Entry{
		WalletID: pw.ID, Amount: decimal.RequireFromString("100.00"), Type: domain.WalletDebit, Purpose: "payout",
	}); err == nil {
		t.Fatal("expected insufficient funds error")
	}

	report, err := repo.Reconcile(ctx, pw.ID)
	if err != nil {
		t.Fatalf("failed to reconcile wallet: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("expected consistent ledger, difference %s", report.Difference)
	}
	if !report.LedgerSum.Equal(decimal.RequireFromString("75.50")) {
		t.Fatalf("expected ledger sum 75.50, got %s", report.LedgerSum)
	}
}

type emailCapture struct {
	mu     sync.Mutex
	emails []map[string]string
}

func (e *emailCapture) handler(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.emails = append(e.emails, req)
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":"sent"}`)
}

func (e *emailCapture) getEmails() []map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]map[string]string, len(e.emails))
	copy(result, e.emails)
	return result
}

func TestAlertNotifierDeliversEmail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	fx := seedCatalog(ctx, t, db)
	invRepo := inventory.NewRepository(db)
	item := seedItem(ctx, t, invRepo, fx, 10, 5)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	result, err := invRepo.Apply(ctx, inventory.Change{
		ItemID: item.ID, Action: domain.ActionRemove, QuantityKg: 6,
	})
	if err != nil {
		t.Fatalf("failed to remove stock: %v", err)
	}
	if result.RaisedAlert == nil {
		t.Fatal("expected alert to be raised")
	}

	inventoryHandler := inventory.NewHandler(invRepo, nil, logger)
	inventoryMux := http.NewServeMux()
	inventoryMux.HandleFunc("POST /alerts/{alertId}/notified", inventoryHandler.HandleMarkAlertNotified)
	inventoryServer := httptest.NewServer(inventoryMux)
	defer inventoryServer.Close()

	emailCap := &emailCapture{}
	emailMux := http.NewServeMux()
	emailMux.HandleFunc("POST /send", emailCap.handler)
	emailServer := httptest.NewServer(emailMux)
	defer emailServer.Close()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	notifier := worker.NewAlertNotifier(emailServer.URL, inventoryServer.URL, httpClient, logger)

	event := domain.LowStockEvent{
		AlertID:     result.RaisedAlert.ID,
		ItemID:      item.ID,
		HerbName:    "Chamomile",
		BaseName:    "Kazbegi Base",
		PartnerID:   fx.PartnerID,
		RemainingKg: 4,
		ThresholdKg: 5,
		Timestamp:   time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	if err := notifier.Handle(ctx, payload); err != nil {
		t.Fatalf("notifier failed: %v", err)
	}

	emails := emailCap.getEmails()
	if len(emails) != 1 {
		t.Fatalf("expected 1 email, got %d", len(emails))
	}
	if !strings.Contains(emails[0]["subject"], "Low stock: Chamomile") {
		t.Fatalf("unexpected email subject: %s", emails[0]["subject"])
	}
	if !strings.Contains(emails[0]["body"], "4.00kg") {
		t.Fatalf("expected remaining quantity in body, got: %s", emails[0]["body"])
	}

	alerts, err := invRepo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 || !alerts[0].Notified {
		t.Fatalf("expected alert marked notified, got %+v", alerts)
	}
}

func TestKafkaConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	if len(brokers) == 0 {
		t.Fatal("expected at least one broker")
	}

	t.Logf("kafka brokers: %v", brokers)
}
