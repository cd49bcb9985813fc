// Package auth mints bearer tokens for the Vertex AI endpoint.
package auth

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenFunc produces a bearer token for one upstream connection attempt. The
// relay treats the implementation as opaque.
type TokenFunc func(ctx context.Context) (string, error)

// ServiceAccountTokenFunc reads a service account key file and returns a
// TokenFunc that mints cloud-platform scoped access tokens. The key file is
// read once; token refresh is handled by the underlying source.
func ServiceAccountTokenFunc(keyPath string) (TokenFunc, error) {
	keyJSON, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(keyJSON, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}

	return func(ctx context.Context) (string, error) {
		tok, err := cfg.TokenSource(ctx).Token()
		if err != nil {
			return "", fmt.Errorf("mint access token: %w", err)
		}
		return tok.AccessToken, nil
	}, nil
}

// DefaultTokenFunc uses Application Default Credentials when no key file is
// configured, matching gcloud-authenticated environments.
func DefaultTokenFunc() TokenFunc {
	return func(ctx context.Context) (string, error) {
		src, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return "", fmt.Errorf("default credentials: %w", err)
		}
		tok, err := src.Token()
		if err != nil {
			return "", fmt.Errorf("mint access token: %w", err)
		}
		return tok.AccessToken, nil
	}
}

// StaticTokenFunc returns the same token on every call; used by tests.
func StaticTokenFunc(token string) TokenFunc {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}
