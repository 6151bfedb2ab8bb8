package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
)

// AlertNotifier consumes low-stock events, notifies the owning partner
// through the email service and marks the alert as notified in the
// inventory service. Failures surface to the consumer so the event is
// redelivered.
type AlertNotifier struct {
	emailServiceURL     string
	inventoryServiceURL string
	httpClient          *http.Client
	logger              *slog.Logger
}

func NewAlertNotifier(emailServiceURL, inventoryServiceURL string, client *http.Client, logger *slog.Logger) *AlertNotifier {
	return &AlertNotifier{
		emailServiceURL:     emailServiceURL,
		inventoryServiceURL: inventoryServiceURL,
		httpClient:          client,
		logger:              logger,
	}
}

func (n *AlertNotifier) Handle(ctx context.Context, payload []byte) error {
	var event domain.LowStockEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal low stock event: %w", err)
	}

	n.logger.Info("processing low stock event", "alert_id", event.AlertID, "item_id", event.ItemID, "remaining_kg", event.RemainingKg)

	if err := n.sendAlertEmail(ctx, event); err != nil {
		n.logger.Error("failed to send low stock email", "error", err, "alert_id", event.AlertID)
		return fmt.Errorf("send low stock email: %w", err)
	}

	if err := n.markNotified(ctx, event.AlertID); err != nil {
		n.logger.Error("failed to mark alert notified", "error", err, "alert_id", event.AlertID)
		return fmt.Errorf("mark alert notified: %w", err)
	}

	n.logger.Info("low stock alert delivered", "alert_id", event.AlertID)
	return nil
}

func (n *AlertNotifier) sendAlertEmail(ctx context.Context, event domain.LowStockEvent) error {
	body := map[string]string{
		"to":      event.PartnerID + "@partners.terrapura.net",
		"subject": fmt.Sprintf("Low stock: %s at %s", event.HerbName, event.BaseName),
		"body": fmt.Sprintf("Stock for %s at %s is down to %.2fkg (threshold %.2fkg). Please restock.",
			event.HerbName, event.BaseName, event.RemainingKg, event.ThresholdKg),
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *AlertNotifier) markNotified(ctx context.Context, alertID string) error {
	url := fmt.Sprintf("%s/alerts/%s/notified", n.inventoryServiceURL, alertID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// A dismissed alert is gone by the time the event arrives; that is
	// not a delivery failure.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("inventory service returned status %d", resp.StatusCode)
	}

	return nil
}
