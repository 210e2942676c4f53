package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"gallerio/internal/domain"
	"gallerio/internal/logging"
)

type recordingProcessor struct {
	mu     sync.Mutex
	events []PaymentEvent
	known  map[int64]bool
}

func (p *recordingProcessor) HandlePaymentEvent(_ context.Context, event PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.known[event.OrderID] {
		return fmt.Errorf("order %d: %w", event.OrderID, ErrUnknownOrder)
	}
	p.events = append(p.events, event)
	return nil
}

func TestPaymentWebhookHandler(t *testing.T) {
	proc := &recordingProcessor{known: map[int64]bool{12: true}}
	handler := NewPaymentWebhookHandler(logging.Discard(), nil, "hook", "s3cret", proc)

	cases := []struct {
		name     string
		method   string
		user     string
		pass     string
		body     string
		wantCode int
	}{
		{"wrong method", http.MethodGet, "hook", "s3cret", "", http.StatusMethodNotAllowed},
		{"no auth", http.MethodPost, "", "", `{"orderId":12,"paymentStatus":"PAID"}`, http.StatusUnauthorized},
		{"bad password", http.MethodPost, "hook", "nope", `{"orderId":12,"paymentStatus":"PAID"}`, http.StatusUnauthorized},
		{"bad json", http.MethodPost, "hook", "s3cret", `{`, http.StatusBadRequest},
		{"unknown status", http.MethodPost, "hook", "s3cret", `{"orderId":12,"paymentStatus":"REFUNDED"}`, http.StatusBadRequest},
		{"unknown order", http.MethodPost, "hook", "s3cret", `{"orderId":99,"paymentStatus":"PAID"}`, http.StatusNotFound},
		{"paid", http.MethodPost, "hook", "s3cret", `{"orderId":"12","paymentStatus":"paid"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/webhook/payments", strings.NewReader(tc.body))
			if tc.user != "" {
				req.SetBasicAuth(tc.user, tc.pass)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tc.wantCode, rec.Code, rec.Body.String())
			}
		})
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.events) != 1 {
		t.Fatalf("expected one processed event, got %d", len(proc.events))
	}
	if proc.events[0].OrderID != 12 || proc.events[0].Status != domain.StatusPaid {
		t.Fatalf("unexpected event: %+v", proc.events[0])
	}
}

func TestPaymentWebhookRejectsWhenUnconfigured(t *testing.T) {
	handler := NewPaymentWebhookHandler(logging.Discard(), nil, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/webhook/payments", strings.NewReader(`{"orderId":1,"paymentStatus":"PAID"}`))
	req.SetBasicAuth("", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
