package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// NewClient returns a go-github client authenticating with token.
// apiURL may point at a GitHub Enterprise endpoint (".../api/v3") or any
// other base; empty means the public API. A positive timeout bounds every
// single request.
func NewClient(ctx context.Context, token, apiURL string, timeout time.Duration) (*gh.Client, error) {
	httpClient := &http.Client{}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	if timeout > 0 {
		httpClient.Timeout = timeout
	}

	client := gh.NewClient(httpClient)
	if err := setBaseURL(client, apiURL); err != nil {
		return nil, err
	}
	return client, nil
}

func setBaseURL(client *gh.Client, apiURL string) error {
	apiURL = strings.TrimSpace(apiURL)
	if apiURL == "" || strings.TrimSuffix(apiURL, "/") == DefaultAPIURL {
		return nil
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
	}
	client.BaseURL = base
	client.UploadURL = base
	return nil
}
