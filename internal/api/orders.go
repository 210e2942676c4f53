package api

import (
	"context"
	"net/http"
	"net/url"

	"gallerio/internal/domain"
)

// CreateOrder submits an order for one artwork.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	var wire wireOrder
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/orders",
		label:  "/orders",
		body:   req,
	}, &wire)
	if err != nil {
		return nil, err
	}
	order := wire.order()
	if order.ArtworkID == 0 {
		order.ArtworkID = req.ArtworkID
	}
	if order.PhoneNumber == "" {
		order.PhoneNumber = req.PhoneNumber
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = req.PaymentMethod
	}
	return &order, nil
}

// CustomerOrders lists orders placed by the current user.
func (c *Client) CustomerOrders(ctx context.Context) ([]domain.Order, error) {
	return c.listOrders(ctx, "/orders/customer")
}

// ArtistOrders lists orders for artworks of the current artist.
func (c *Client) ArtistOrders(ctx context.Context) ([]domain.Order, error) {
	return c.listOrders(ctx, "/orders/artist")
}

// AdminOrders lists every order; admin only.
func (c *Client) AdminOrders(ctx context.Context) ([]domain.Order, error) {
	return c.listOrders(ctx, "/admin/orders")
}

// AdminUpdateOrderStatus moves an order to status; admin only.
func (c *Client) AdminUpdateOrderStatus(ctx context.Context, orderID int64, status domain.PaymentStatus) (*domain.Order, error) {
	var wire wireOrder
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   idPath("/admin/orders/%s/status", orderID),
		label:  "/admin/orders/{id}/status",
		query:  url.Values{"status": {string(status)}},
	}, &wire)
	if err != nil {
		return nil, err
	}
	order := wire.order()
	return &order, nil
}

func (c *Client) listOrders(ctx context.Context, path string) ([]domain.Order, error) {
	var wire []wireOrder
	if err := c.do(ctx, request{method: http.MethodGet, path: path, label: path}, &wire); err != nil {
		return nil, err
	}
	return ordersFromWire(wire), nil
}
