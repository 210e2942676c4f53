package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleGuest     Role = "GUEST"
	RoleArtist    Role = "ARTIST"
	RoleCollector Role = "COLLECTOR"
	RoleAdmin     Role = "ADMIN"
)

// ParseRole maps backend role strings (any case, optional ROLE_ prefix) to a Role.
// Unknown values map to RoleGuest.
func ParseRole(raw string) Role {
	role := strings.ToUpper(strings.TrimSpace(raw))
	role = strings.TrimPrefix(role, "ROLE_")
	switch Role(role) {
	case RoleArtist, RoleCollector, RoleAdmin:
		return Role(role)
	default:
		return RoleGuest
	}
}

// Identity is the authenticated user held for the duration of a session.
type Identity struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// UserSummary is the participant card embedded in messages.
type UserSummary struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	ProfilePhoto string `json:"profilePhoto,omitempty"`
}

// Name returns "First Last", trimmed.
func (u UserSummary) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Message struct {
	ID          int64       `json:"id"`
	SenderID    int64       `json:"senderId"`
	RecipientID int64       `json:"recipientId"`
	Sender      UserSummary `json:"sender"`
	Recipient   UserSummary `json:"recipient"`
	Subject     string      `json:"subject,omitempty"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"createdAt"`
	Read        bool        `json:"read"`
}

// Between reports whether the message was exchanged by exactly a and b.
func (m Message) Between(a, b int64) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

type PaymentMethod string

const (
	PaymentMTN    PaymentMethod = "mtn"
	PaymentAirtel PaymentMethod = "airtel"
)

// ParsePaymentMethod accepts "mtn" or "airtel" in any case.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentMTN:
		return PaymentMTN, true
	case PaymentAirtel:
		return PaymentAirtel, true
	default:
		return "", false
	}
}

// Label is the human readable provider name.
func (p PaymentMethod) Label() string {
	switch p {
	case PaymentMTN:
		return "MTN Mobile Money"
	case PaymentAirtel:
		return "Airtel Money"
	default:
		return string(p)
	}
}

type PaymentStatus string

const (
	StatusPendingPayment PaymentStatus = "PENDING_PAYMENT"
	StatusPaid           PaymentStatus = "PAID"
)

// ParsePaymentStatus normalises backend status strings. The second value is false for unknown input.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch PaymentStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusPendingPayment:
		return StatusPendingPayment, true
	case StatusPaid:
		return StatusPaid, true
	default:
		return "", false
	}
}

type Order struct {
	ID            int64         `json:"id"`
	ArtworkID     int64         `json:"artworkId"`
	ArtworkTitle  string        `json:"artworkTitle,omitempty"`
	CustomerID    int64         `json:"customerId"`
	PhoneNumber   string        `json:"phoneNumber"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// OrderRequest is the payload submitted by the order wizard.
type OrderRequest struct {
	ArtworkID     int64         `json:"artworkId"`
	PhoneNumber   string        `json:"phoneNumber"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}
