// internal/meta/graph.go
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGraphBaseURL  = "https://graph.facebook.com"
	defaultDialogBaseURL = "https://www.facebook.com"
	defaultTimeout       = 15 * time.Second
	maxGraphBodyBytes    = 1 << 20
)

// exchangeError carries the raw provider payload for diagnostics.
type exchangeError struct {
	op     string
	status int
	body   string
}

func (e *exchangeError) Error() string {
	return fmt.Sprintf("meta: %s failed (status %d): %s", e.op, e.status, e.body)
}

// Detail returns the raw provider response, for surfacing to the caller.
func (e *exchangeError) Detail() string { return e.body }

// GraphClient drives the Graph API calls of the token exchange chain.
// Base URLs are configurable so tests can point it at a fake upstream.
type GraphClient struct {
	appID       string
	appSecret   string
	redirectURI string
	version     string // e.g. v19.0
	graphBase   string
	httpClient  *http.Client
}

// GraphConfig configures a GraphClient; zero values pick defaults.
type GraphConfig struct {
	AppID       string
	AppSecret   string
	RedirectURI string
	APIVersion  string
	GraphBase   string
	Timeout     time.Duration
}

func NewGraphClient(cfg GraphConfig) *GraphClient {
	if cfg.GraphBase == "" {
		cfg.GraphBase = defaultGraphBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &GraphClient{
		appID:       cfg.AppID,
		appSecret:   cfg.AppSecret,
		redirectURI: cfg.RedirectURI,
		version:     cfg.APIVersion,
		graphBase:   strings.TrimRight(cfg.GraphBase, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Token is a user access token as returned by the Graph API.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Page is an owned resource listed under /me/accounts, with the linked
// Instagram business account requested in the same call.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	IGAccount   *struct {
		ID string `json:"id"`
	} `json:"instagram_business_account"`
}

// ExchangeCode trades an authorization code for a short-lived user token.
// A single code is single-use at Meta; replay fails here like any other
// exchange error.
func (g *GraphClient) ExchangeCode(ctx context.Context, code string) (Token, error) {
	q := url.Values{}
	q.Set("client_id", g.appID)
	q.Set("client_secret", g.appSecret)
	q.Set("redirect_uri", g.redirectURI)
	q.Set("code", code)
	return g.fetchToken(ctx, "exchange code", q)
}

// ExtendToken trades a short-lived user token for a long-lived one
// (validity goes from hours to roughly sixty days).
func (g *GraphClient) ExtendToken(ctx context.Context, shortToken string) (Token, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", g.appID)
	q.Set("client_secret", g.appSecret)
	q.Set("fb_exchange_token", shortToken)
	return g.fetchToken(ctx, "extend token", q)
}

func (g *GraphClient) fetchToken(ctx context.Context, op string, q url.Values) (Token, error) {
	body, status, err := g.get(ctx, fmt.Sprintf("/%s/oauth/access_token", g.version), q)
	if err != nil {
		return Token{}, fmt.Errorf("meta: %s: %w", op, err)
	}
	var tok Token
	if jsonErr := json.Unmarshal(body, &tok); jsonErr != nil || tok.AccessToken == "" {
		return Token{}, &exchangeError{op: op, status: status, body: string(body)}
	}
	return tok, nil
}

// ListPages enumerates pages owned by the authenticated user, requesting
// page tokens and linked Instagram business accounts in one call. Order is
// the provider's; callers depend on it for deterministic selection.
func (g *GraphClient) ListPages(ctx context.Context, userToken string) ([]Page, error) {
	q := url.Values{}
	q.Set("fields", "id,name,access_token,instagram_business_account")
	q.Set("access_token", userToken)
	body, status, err := g.get(ctx, fmt.Sprintf("/%s/me/accounts", g.version), q)
	if err != nil {
		return nil, fmt.Errorf("meta: list pages: %w", err)
	}
	var out struct {
		Data []Page `json:"data"`
	}
	if jsonErr := json.Unmarshal(body, &out); jsonErr != nil {
		return nil, &exchangeError{op: "list pages", status: status, body: string(body)}
	}
	if status != http.StatusOK {
		return nil, &exchangeError{op: "list pages", status: status, body: string(body)}
	}
	return out.Data, nil
}

func (g *GraphClient) get(ctx context.Context, path string, q url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.graphBase+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGraphBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
