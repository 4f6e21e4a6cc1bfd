package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/config"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/logger"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/metrics"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/retry"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Token endpoint responses are small; anything larger is not a token.
const maxTokenResponse = 64 * 1024

// Minter turns the configured service account into bearer access tokens.
// It holds no per-request state and is safe for concurrent use.
type Minter struct {
	account  config.ServiceAccount
	tokenURL string
	scope    string
	client   *http.Client
	policy   retry.Policy
	cache    TokenCache
	now      func() time.Time
}

// Option configures a Minter.
type Option func(*Minter)

// WithTokenURL overrides the token endpoint (tests, emulators).
func WithTokenURL(u string) Option {
	return func(m *Minter) { m.tokenURL = u }
}

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Minter) { m.client = c }
}

// WithRetryPolicy bounds the token exchange.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Minter) { m.policy = p }
}

// WithCache enables token reuse across submissions.
func WithCache(c TokenCache) Option {
	return func(m *Minter) { m.cache = c }
}

// WithClock replaces time.Now for iat/exp.
func WithClock(now func() time.Time) Option {
	return func(m *Minter) { m.now = now }
}

// NewMinter creates a minter for the given service account.
func NewMinter(account config.ServiceAccount, opts ...Option) *Minter {
	m := &Minter{
		account:  account,
		tokenURL: config.DefaultTokenURL,
		scope:    SpreadsheetsScope,
		client:   http.DefaultClient,
		policy:   retry.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Mint returns an access token for the spreadsheet scope. Without a cache
// every call signs a new assertion and performs one exchange (plus at most
// one retry on a transient failure).
func (m *Minter) Mint(ctx context.Context) (*oauth2.Token, error) {
	if m.account.ClientEmail == "" || m.account.PrivateKey == "" {
		return nil, &ConfigurationError{Err: ErrMissingCredentials}
	}

	key := m.cacheKey()
	if m.cache != nil {
		tok, err := m.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("token cache read failed", map[string]interface{}{"error": err.Error()})
		} else if tok != nil && tok.Valid() {
			metrics.TokenCacheHitsTotal.Inc()
			return tok, nil
		}
	}

	signer, err := ParsePrivateKey(m.account.PrivateKey)
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("invalid service account private key: %w", err)}
	}
	assertion, err := SignAssertion(NewClaimSet(m.account.ClientEmail, m.scope, m.tokenURL, m.now()), signer)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	start := time.Now()
	policy := m.policy
	policy.OnRetry = func(err error) {
		metrics.UpstreamRetriesTotal.WithLabelValues("token").Inc()
		logger.Warn("retrying token exchange", map[string]interface{}{"error": err.Error()})
	}

	var tok *oauth2.Token
	err = policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		tok, callErr = m.exchange(ctx, assertion)
		return callErr
	})
	metrics.TokenExchangeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var terr *TokenExchangeError
		if !errors.As(err, &terr) {
			terr = &TokenExchangeError{Err: err}
		}
		logger.Error("token exchange failed", map[string]interface{}{
			"status": terr.StatusCode,
			"error":  terr.Error(),
		})
		return nil, terr
	}

	logger.Debug("minted access token", map[string]interface{}{
		"service_account": m.account.ClientEmail,
		"expiry":          tok.Expiry,
	})

	if m.cache != nil {
		if err := m.cache.Put(ctx, key, tok); err != nil {
			logger.Warn("token cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return tok, nil
}

// AccessToken is Mint reduced to the bearer string.
func (m *Minter) AccessToken(ctx context.Context) (string, error) {
	tok, err := m.Mint(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (m *Minter) exchange(ctx context.Context, assertion string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body), Err: errors.New("no access_token in response")}
	}

	tok := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: tr.TokenType}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

func (m *Minter) cacheKey() string {
	return m.account.ClientEmail + "|" + m.scope
}
