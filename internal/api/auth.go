package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// Login exchanges credentials for a JWT.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp LoginResponse
	err := c.call(ctx, request{
		op:     "Login",
		method: http.MethodPost,
		path:   "/login",
		body:   credentialsBody{Username: username, Password: password},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if resp.JWT == "" {
		return "", fmt.Errorf("login: empty token in response")
	}
	return resp.JWT, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var resp UserResponse
	err := c.call(ctx, request{
		op:     "Me",
		method: http.MethodGet,
		path:   "/me",
	}, &resp)
	if err != nil {
		return model.User{}, fmt.Errorf("me: %w", err)
	}
	return resp.User, nil
}
