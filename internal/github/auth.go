package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v66/github"
)

// AuthProvider defines the interface for acquiring a scoped access token
type AuthProvider interface {
	GetInstallationToken(ctx context.Context, repo string) (*InstallationToken, error)
}

// InstallationToken represents a repository-scoped access token
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// StaticToken is a pre-issued token (GITHUB_TOKEN on a runner or a PAT).
type StaticToken string

// GetInstallationToken returns the static token regardless of repo.
func (s StaticToken) GetInstallationToken(_ context.Context, _ string) (*InstallationToken, error) {
	if strings.TrimSpace(string(s)) == "" {
		return nil, errors.New("no GitHub token configured")
	}
	return &InstallationToken{Token: string(s)}, nil
}

// AppAuth holds GitHub App authentication configuration
type AppAuth struct {
	AppID      string
	PrivateKey string
	// APIURL overrides the REST endpoint; empty means api.github.com.
	APIURL string
	// Timeout bounds each request of the token exchange.
	Timeout time.Duration
}

// GenerateJWT creates a JWT token for GitHub App authentication
func (a *AppAuth) GenerateJWT() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}

	appID, err := strconv.ParseInt(a.AppID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid app ID: %w", err)
	}

	// Backdate iat to tolerate clock drift between runner and GitHub.
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(appID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// GetInstallationToken exchanges the App JWT for an installation token
// scoped to repo ("owner/name").
func (a *AppAuth) GetInstallationToken(ctx context.Context, repo string) (*InstallationToken, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}

	jwtToken, err := a.GenerateJWT()
	if err != nil {
		return nil, err
	}

	client := gh.NewClient(&http.Client{Timeout: a.Timeout}).WithAuthToken(jwtToken)
	if err := setBaseURL(client, a.APIURL); err != nil {
		return nil, err
	}

	inst, resp, err := client.Apps.FindRepositoryInstallation(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get installation: %w", wrapError("find installation for "+repo, resp, err))
	}

	tok, resp, err := client.Apps.CreateInstallationToken(ctx, inst.GetID(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", wrapError("create installation token", resp, err))
	}

	return &InstallationToken{
		Token:     tok.GetToken(),
		ExpiresAt: tok.GetExpiresAt().Time,
	}, nil
}

// SplitRepo splits "owner/name".
func SplitRepo(fullName string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(fullName), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format: %q (expected owner/repo)", fullName)
	}
	return parts[0], parts[1], nil
}
