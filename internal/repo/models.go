package repo

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Message directions as seen from the ledger owner.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// MessageRecord is a locally kept copy of a conversation message.
type MessageRecord struct {
	ID string
	// RemoteID is the backend message id; zero when unknown.
	RemoteID   int64
	OwnerID    int64
	PeerID     int64
	Direction  string
	Content    string
	RawPayload map[string]any
	CreatedAt  time.Time
}

// Receipt represents a row in the receipts table: one submitted order and its payment state.
type Receipt struct {
	ID            string         `json:"id"`
	OrderID       int64          `json:"orderId"`
	CustomerID    int64          `json:"customerId"`
	ArtworkID     int64          `json:"artworkId"`
	ArtworkTitle  string         `json:"artworkTitle,omitempty"`
	PhoneNumber   string         `json:"phoneNumber"`
	PaymentMethod string         `json:"paymentMethod"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}
