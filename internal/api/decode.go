package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gallerio/internal/domain"
)

// flexInt decodes ids sent either as JSON numbers or numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	if raw == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		fv, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return fmt.Errorf("invalid id %s: %w", raw, err)
		}
		n = int64(fv)
	}
	*f = flexInt(n)
	return nil
}

// Layouts accepted for timestamps. The backend serialises LocalDateTime without a zone; those
// values are read as UTC so ordering stays consistent.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// flexTime decodes timestamps as ISO strings (with or without zone) or epoch milliseconds.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = flexTime(time.Time{})
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		*f = flexTime(time.UnixMilli(ms).UTC())
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*f = flexTime(time.Time{})
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			*f = flexTime(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", raw)
}

type wireUser struct {
	ID           flexInt `json:"id"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	ProfilePhoto string  `json:"profilePhoto"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
}

func (u *wireUser) summary() domain.UserSummary {
	if u == nil {
		return domain.UserSummary{}
	}
	first := u.FirstName
	if first == "" && u.LastName == "" {
		first = u.Username
	}
	return domain.UserSummary{
		ID:           int64(u.ID),
		FirstName:    first,
		LastName:     u.LastName,
		ProfilePhoto: u.ProfilePhoto,
	}
}

type wireMessage struct {
	ID          flexInt   `json:"id"`
	Content     string    `json:"content"`
	Subject     string    `json:"subject"`
	CreatedAt   flexTime  `json:"createdAt"`
	Read        *bool     `json:"read"`
	IsRead      *bool     `json:"isRead"`
	Sender      *wireUser `json:"sender"`
	Recipient   *wireUser `json:"recipient"`
	SenderID    flexInt   `json:"senderId"`
	RecipientID flexInt   `json:"recipientId"`
}

func (w wireMessage) message() domain.Message {
	msg := domain.Message{
		ID:        int64(w.ID),
		Content:   w.Content,
		Subject:   w.Subject,
		CreatedAt: time.Time(w.CreatedAt),
		Sender:    w.Sender.summary(),
		Recipient: w.Recipient.summary(),
	}
	msg.SenderID = msg.Sender.ID
	if msg.SenderID == 0 {
		msg.SenderID = int64(w.SenderID)
		msg.Sender.ID = msg.SenderID
	}
	msg.RecipientID = msg.Recipient.ID
	if msg.RecipientID == 0 {
		msg.RecipientID = int64(w.RecipientID)
		msg.Recipient.ID = msg.RecipientID
	}
	switch {
	case w.Read != nil:
		msg.Read = *w.Read
	case w.IsRead != nil:
		msg.Read = *w.IsRead
	}
	return msg
}

func messagesFromWire(in []wireMessage) []domain.Message {
	out := make([]domain.Message, 0, len(in))
	for _, w := range in {
		out = append(out, w.message())
	}
	return out
}

type wireArtwork struct {
	ID    flexInt `json:"id"`
	Title string  `json:"title"`
}

type wireOrder struct {
	ID            flexInt      `json:"id"`
	Artwork       *wireArtwork `json:"artwork"`
	ArtworkID     flexInt      `json:"artworkId"`
	Customer      *wireUser    `json:"customer"`
	CustomerID    flexInt      `json:"customerId"`
	PhoneNumber   string       `json:"phoneNumber"`
	PaymentMethod string       `json:"paymentMethod"`
	PaymentStatus string       `json:"paymentStatus"`
	CreatedAt     flexTime     `json:"createdAt"`
}

func (w wireOrder) order() domain.Order {
	o := domain.Order{
		ID:            int64(w.ID),
		ArtworkID:     int64(w.ArtworkID),
		CustomerID:    int64(w.CustomerID),
		PhoneNumber:   w.PhoneNumber,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(w.PaymentMethod))),
		CreatedAt:     time.Time(w.CreatedAt),
	}
	if w.Artwork != nil {
		if o.ArtworkID == 0 {
			o.ArtworkID = int64(w.Artwork.ID)
		}
		o.ArtworkTitle = w.Artwork.Title
	}
	if w.Customer != nil && o.CustomerID == 0 {
		o.CustomerID = int64(w.Customer.ID)
	}
	if status, ok := domain.ParsePaymentStatus(w.PaymentStatus); ok {
		o.PaymentStatus = status
	} else {
		o.PaymentStatus = domain.StatusPendingPayment
	}
	return o
}

func ordersFromWire(in []wireOrder) []domain.Order {
	out := make([]domain.Order, 0, len(in))
	for _, w := range in {
		out = append(out, w.order())
	}
	return out
}

type wireAuth struct {
	Token    string  `json:"token"`
	ID       flexInt `json:"id"`
	UserID   flexInt `json:"userId"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Role     string  `json:"role"`
	Message  string  `json:"message"`
}

func (w wireAuth) identity() domain.Identity {
	id := int64(w.ID)
	if id == 0 {
		id = int64(w.UserID)
	}
	name := strings.TrimSpace(w.Username)
	if name == "" {
		name = w.Email
	}
	return domain.Identity{
		ID:          id,
		Email:       w.Email,
		Role:        domain.ParseRole(w.Role),
		DisplayName: name,
	}
}
