package api

import (
	"context"

	"inboxsync/internal/security"
)

// LoginTokenSource logs in on every call, so each connection attempt
// presents a freshly issued token.
type LoginTokenSource struct {
	client   *Client
	username string
	password string
}

var _ security.TokenSource = (*LoginTokenSource)(nil)

func NewLoginTokenSource(c *Client, username, password string) *LoginTokenSource {
	return &LoginTokenSource{client: c, username: username, password: password}
}

func (s *LoginTokenSource) Token(ctx context.Context) (string, error) {
	return s.client.Login(ctx, s.username, s.password)
}
