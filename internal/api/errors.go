package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized is wrapped by every APIError carrying a 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is wrapped by every APIError carrying a 404.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the marketplace backend.
type APIError struct {
	Status   int
	Message  string
	Code     string
	Endpoint string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Endpoint, e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Temporary reports whether retrying the same request later may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Describe turns any error into a message safe to show to the user. Backend messages are
// preferred; transport errors and blank messages fall back to fallback.
func Describe(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if msg := strings.TrimSpace(apiErr.Message); msg != "" && !looksLikeHTML(msg) {
			return msg
		}
		if apiErr.Status == http.StatusUnauthorized {
			return "Your session has expired. Please log in again."
		}
		return fallback
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The server took too long to respond."
	}
	return fallback
}

// classifyHTTPError builds an APIError from a failed response body.
func classifyHTTPError(endpoint string, status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Endpoint: endpoint}

	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Code    any    `json:"code"`
	}
	trimmed := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case strings.TrimSpace(envelope.Message) != "":
			apiErr.Message = strings.TrimSpace(envelope.Message)
		case strings.TrimSpace(envelope.Detail) != "":
			apiErr.Message = strings.TrimSpace(envelope.Detail)
		case strings.TrimSpace(envelope.Error) != "":
			apiErr.Message = strings.TrimSpace(envelope.Error)
		}
		if envelope.Code != nil {
			apiErr.Code = strings.TrimSpace(fmt.Sprint(envelope.Code))
		}
	} else if trimmed != "" && !looksLikeHTML(trimmed) {
		apiErr.Message = truncate(trimmed, 200)
	}
	return apiErr
}

func looksLikeHTML(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "<")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
