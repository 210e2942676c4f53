package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gallerio/internal/api"
	"gallerio/internal/repo"
)

// ReceiptUpdater changes the status of a stored receipt.
type ReceiptUpdater interface {
	UpdateReceiptStatus(ctx context.Context, orderID int64, status string, metadata map[string]any) error
}

// LedgerProcessor applies payment callbacks to local receipts.
type LedgerProcessor struct {
	receipts ReceiptUpdater
	logger   *slog.Logger
}

func NewLedgerProcessor(receipts ReceiptUpdater, logger *slog.Logger) *LedgerProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerProcessor{receipts: receipts, logger: logger.With("component", "receipts")}
}

// HandlePaymentEvent implements api.PaymentEventProcessor.
func (p *LedgerProcessor) HandlePaymentEvent(ctx context.Context, event api.PaymentEvent) error {
	received := event.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}
	metadata := map[string]any{"webhookReceivedAt": received.Format(time.RFC3339)}
	if len(event.Payload) > 0 {
		metadata["webhookPayload"] = string(event.Payload)
	}

	err := p.receipts.UpdateReceiptStatus(ctx, event.OrderID, string(event.Status), metadata)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("order %d: %w", event.OrderID, api.ErrUnknownOrder)
	}
	if err != nil {
		return fmt.Errorf("update receipt %d: %w", event.OrderID, err)
	}
	p.logger.Info("receipt updated", "order_id", event.OrderID, "status", event.Status)
	return nil
}
