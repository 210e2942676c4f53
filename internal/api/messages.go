package api

import (
	"context"
	"net/http"

	"gallerio/internal/domain"
)

// Conversation returns the messages exchanged with peerID as the backend orders them.
func (c *Client) Conversation(ctx context.Context, peerID int64) ([]domain.Message, error) {
	var wire []wireMessage
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   idPath("/messages/conversation/%s", peerID),
		label:  "/messages/conversation/{peerId}",
	}, &wire)
	if err != nil {
		return nil, err
	}
	return messagesFromWire(wire), nil
}

// SendMessage posts a new message to recipientID.
func (c *Client) SendMessage(ctx context.Context, recipientID int64, content string) (*domain.Message, error) {
	var wire wireMessage
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/messages/send",
		label:  "/messages/send",
		body: map[string]any{
			"recipientId": recipientID,
			"content":     content,
		},
	}, &wire)
	if err != nil {
		return nil, err
	}
	msg := wire.message()
	return &msg, nil
}

// Inbox lists every message received by the current user.
func (c *Client) Inbox(ctx context.Context) ([]domain.Message, error) {
	var wire []wireMessage
	if err := c.do(ctx, request{method: http.MethodGet, path: "/messages", label: "/messages"}, &wire); err != nil {
		return nil, err
	}
	return messagesFromWire(wire), nil
}

// MarkRead flags a received message as read.
func (c *Client) MarkRead(ctx context.Context, messageID int64) error {
	return c.do(ctx, request{
		method: http.MethodPatch,
		path:   idPath("/messages/%s/read", messageID),
		label:  "/messages/{id}/read",
	}, nil)
}

// Reply answers the sender of messageID.
func (c *Client) Reply(ctx context.Context, messageID int64, content string) (*domain.Message, error) {
	var wire wireMessage
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   idPath("/messages/%s/reply", messageID),
		label:  "/messages/{id}/reply",
		body:   map[string]string{"content": content},
	}, &wire)
	if err != nil {
		return nil, err
	}
	msg := wire.message()
	return &msg, nil
}

// DeleteMessage removes a message for either party.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   idPath("/messages/%s", messageID),
		label:  "/messages/{id}",
	}, nil)
}
