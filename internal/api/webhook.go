package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gallerio/internal/domain"
	"gallerio/internal/metrics"
)

// ErrUnknownOrder is returned by processors that have no record of the event's order.
var ErrUnknownOrder = errors.New("unknown order")

// PaymentEvent is a payment-status callback for one order.
type PaymentEvent struct {
	OrderID    int64
	Status     domain.PaymentStatus
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// PaymentEventProcessor applies payment events.
type PaymentEventProcessor interface {
	HandlePaymentEvent(ctx context.Context, event PaymentEvent) error
}

// PaymentWebhookHandler authenticates payment callbacks and forwards them.
type PaymentWebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	username  string
	password  string
	processor PaymentEventProcessor
}

// NewPaymentWebhookHandler creates the handler. Empty credentials reject every request.
func NewPaymentWebhookHandler(logger *slog.Logger, metrics *metrics.Metrics, username, password string, processor PaymentEventProcessor) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		logger:    logger.With("component", "payment_webhook"),
		metrics:   metrics,
		username:  username,
		password:  password,
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *PaymentWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.validateAuth(r); err != nil {
		h.countError("payment_webhook_auth")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.countError("payment_webhook")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := parsePaymentEvent(body)
	if err != nil {
		h.countError("payment_webhook_payload")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(string(event.Status)).Inc()
	}

	if h.processor != nil {
		if err := h.processor.HandlePaymentEvent(r.Context(), event); err != nil {
			if errors.Is(err, ErrUnknownOrder) {
				h.logger.Warn("payment event for unknown order", "order_id", event.OrderID)
				http.Error(w, "unknown order", http.StatusNotFound)
				return
			}
			h.logger.Error("failed processing payment event", "error", err, "order_id", event.OrderID)
			h.countError("payment_webhook_process")
			http.Error(w, "failed to process", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *PaymentWebhookHandler) validateAuth(r *http.Request) error {
	if h.username == "" || h.password == "" {
		return fmt.Errorf("webhook credentials not configured")
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return fmt.Errorf("missing basic auth")
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1
	if !userOK || !passOK {
		return fmt.Errorf("invalid credentials")
	}
	return nil
}

func (h *PaymentWebhookHandler) countError(component string) {
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func parsePaymentEvent(body []byte) (PaymentEvent, error) {
	var payload struct {
		OrderID       flexInt `json:"orderId"`
		PaymentStatus string  `json:"paymentStatus"`
		Status        string  `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return PaymentEvent{}, fmt.Errorf("invalid payload: %w", err)
	}
	if payload.OrderID <= 0 {
		return PaymentEvent{}, fmt.Errorf("invalid payload: missing orderId")
	}
	raw := payload.PaymentStatus
	if raw == "" {
		raw = payload.Status
	}
	status, ok := domain.ParsePaymentStatus(raw)
	if !ok {
		return PaymentEvent{}, fmt.Errorf("invalid payload: unknown payment status %q", raw)
	}
	return PaymentEvent{
		OrderID:    int64(payload.OrderID),
		Status:     status,
		Payload:    body,
		ReceivedAt: time.Now(),
	}, nil
}
