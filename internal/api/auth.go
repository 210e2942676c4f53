package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gallerio/internal/domain"
)

// ErrNoToken is returned when a login succeeds without issuing a token.
var ErrNoToken = errors.New("login response carried no token")

// Credentials identify a marketplace user.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token. It never touches the session; a 401 here means bad
// credentials, not an expired session.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, domain.Identity, error) {
	var wire wireAuth
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/login",
		label:     "/auth/login",
		body:      creds,
		anonymous: true,
	}, &wire)
	if err != nil {
		return "", domain.Identity{}, err
	}
	token := strings.TrimSpace(wire.Token)
	if token == "" {
		return "", domain.Identity{}, ErrNoToken
	}

	identity := wire.identity()
	if identity.Email == "" {
		identity.Email = creds.Email
	}
	if identity.ID == 0 {
		// The login payload omits the numeric id; verify fills it in.
		verified, err := c.Verify(ctx, token)
		if err != nil {
			return "", domain.Identity{}, fmt.Errorf("resolve identity: %w", err)
		}
		identity = verified
	}
	return token, identity, nil
}

// Verify checks token against the backend and returns the identity it belongs to.
func (c *Client) Verify(ctx context.Context, token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, ErrNoToken
	}
	var wire wireAuth
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/auth/verify",
		label:  "/auth/verify",
		bearer: token,
	}, &wire)
	if err != nil {
		return domain.Identity{}, err
	}
	identity := wire.identity()
	if identity.ID == 0 {
		return domain.Identity{}, fmt.Errorf("verify: %w", &APIError{
			Status:   http.StatusUnauthorized,
			Message:  strings.TrimSpace(wire.Message),
			Endpoint: "/auth/verify",
		})
	}
	return identity, nil
}
