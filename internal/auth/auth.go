// Package auth resolves the acting identity from a server-issued JWT.
//
// Tokens are parsed without signature verification: the server verifies
// them on every request, the client only needs the username claim.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrNoToken      = errors.New("no token configured")
	ErrNoUsername   = errors.New("token has no username claim")
	ErrTokenExpired = errors.New("token expired")
	ErrMalformedJWT = errors.New("malformed token")
)

// Claims are the claims the server puts in its tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Credentials is the acting identity.
type Credentials struct {
	Token     string
	Username  string
	ExpiresAt time.Time // zero when the token has no exp claim
}

// Expired reports whether the token's exp claim is before now.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseToken extracts the claims of token without verifying its signature.
func ParseToken(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJWT, err)
	}
	return &claims, nil
}

// LoadCredentials resolves credentials from an inline token, falling back to
// tokenFile. A non-empty username overrides the token's claim.
func LoadCredentials(token, tokenFile, username string) (*Credentials, error) {
	if token == "" && tokenFile != "" {
		t, err := ReadToken(tokenFile)
		if err != nil {
			return nil, err
		}
		token = t
	}
	if token == "" {
		return nil, ErrNoToken
	}

	claims, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		Token:    token,
		Username: claims.Username,
	}
	if username != "" {
		creds.Username = username
	}
	if claims.ExpiresAt != nil {
		creds.ExpiresAt = claims.ExpiresAt.Time
	}

	if creds.Username == "" {
		return nil, ErrNoUsername
	}
	if creds.Expired(time.Now()) {
		return nil, fmt.Errorf("%w at %s", ErrTokenExpired, creds.ExpiresAt.Format(time.RFC3339))
	}

	return creds, nil
}

// ReadToken reads a token file, trimming surrounding whitespace.
func ReadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveToken writes token to path with owner-only permissions, creating the
// parent directory if needed.
func SaveToken(path, token string) error {
	if path == "" {
		return fmt.Errorf("token file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod token file: %w", err)
	}
	return nil
}
