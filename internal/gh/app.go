package gh

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gogithub "github.com/google/go-github/v80/github"
)

// TokenProvider exchanges an installation id for a short-lived access token.
// Tokens are minted per exchange; callers must not assume a token outlives
// the request flow it was minted for.
type TokenProvider interface {
	InstallationToken(ctx context.Context, installationID int64) (string, error)
}

// AppAuth authenticates as a GitHub App and mints installation tokens.
type AppAuth struct {
	appID   string
	key     *rsa.PrivateKey
	baseURL string // test override, empty in production
}

// NewAppAuth parses the App's PEM-encoded RSA private key.
func NewAppAuth(appID string, privateKeyPEM []byte) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}
	return &AppAuth{appID: appID, key: key}, nil
}

// InstallationToken signs a short-lived App JWT and exchanges it for an
// installation access token via the Apps API.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)), // clock skew allowance
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    a.appID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}

	client := gogithub.NewClient(&http.Client{Timeout: 30 * time.Second}).WithAuthToken(signed)
	if a.baseURL != "" {
		client, err = client.WithEnterpriseURLs(a.baseURL, a.baseURL)
		if err != nil {
			return "", err
		}
	}

	token, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("create installation token: %w", err)
	}
	return token.GetToken(), nil
}

// StaticTokenProvider serves a fixed personal access token. Used by the
// indexer CLI, where no App installation is involved.
type StaticTokenProvider struct {
	Token string
}

func (s *StaticTokenProvider) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	return s.Token, nil
}
