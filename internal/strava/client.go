package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Scope requested during authorization.
const Scope = "read_all,activity:read_all,activity:read,profile:read_all"

const (
	defaultRequestTimeout = 15 * time.Second
	maxErrorBodyBytes     = 2048
	endpointToken         = "token"
	endpointActivities    = "athlete/activities"
)

var (
	errMissingClientID     = errors.New("strava: client id is required")
	errMissingClientSecret = errors.New("strava: client secret is required")
	errMissingTokenURL     = errors.New("strava: token url is required")
	errMissingAPIBaseURL   = errors.New("strava: api base url is required")
	errMissingAccessToken  = errors.New("strava: token response missing access token")
	errMissingRefreshToken = errors.New("strava: token response missing refresh token")
	errInvalidGrant        = errors.New("strava: unsupported grant type")
)

// Client is the upstream capability used by ingestion and the OAuth callback.
type Client interface {
	FetchActivityPage(ctx context.Context, accessToken string, page, pageSize int) ([]ActivityRecord, error)
	ExchangeToken(ctx context.Context, request TokenRequest) (CredentialSet, error)
}

// ClientConfig configures the HTTP implementation of Client.
type ClientConfig struct {
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	AuthorizeURL      string
	TokenURL          string
	APIBaseURL        string
	HTTPClient        *http.Client
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// HTTPClient talks to the upstream REST API.
type HTTPClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	authorizeURL string
	tokenURL     string
	apiBaseURL   string
	timeout      time.Duration
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// NewHTTPClient validates configuration and constructs the upstream client.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingClientSecret
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errMissingTokenURL
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, errMissingAPIBaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPClient{
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		authorizeURL: cfg.AuthorizeURL,
		tokenURL:     cfg.TokenURL,
		apiBaseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		timeout:      timeout,
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(limit, 1),
		logger:       logger,
	}, nil
}

// AuthorizeURL returns the upstream consent page the user is redirected to.
// The state parameter is omitted when empty.
func (c *HTTPClient) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", c.redirectURI)
	params.Set("scope", Scope)
	if state != "" {
		params.Set("state", state)
	}
	return c.authorizeURL + "?" + params.Encode()
}

// ExchangeToken performs either the authorization code or the refresh token grant.
func (c *HTTPClient) ExchangeToken(ctx context.Context, request TokenRequest) (CredentialSet, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", request.GrantType)
	switch request.GrantType {
	case GrantTypeAuthorizationCode:
		form.Set("code", request.Code)
	case GrantTypeRefreshToken:
		form.Set("refresh_token", request.RefreshToken)
	default:
		return CredentialSet{}, fmt.Errorf("%w: %q", errInvalidGrant, request.GrantType)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return CredentialSet{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return CredentialSet{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var credentials CredentialSet
	if err := c.do(req, endpointToken, &credentials); err != nil {
		return CredentialSet{}, err
	}
	if credentials.AccessToken == "" {
		return CredentialSet{}, errMissingAccessToken
	}
	if credentials.RefreshToken == "" {
		return CredentialSet{}, errMissingRefreshToken
	}
	return credentials, nil
}

// FetchActivityPage returns one page of the authenticated athlete's activities.
// Pages are 1-indexed; an empty slice means the feed is exhausted.
func (c *HTTPClient) FetchActivityPage(ctx context.Context, accessToken string, page, pageSize int) ([]ActivityRecord, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.apiBaseURL + "/" + endpointActivities + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var records []ActivityRecord
	if err := c.do(req, endpointActivities, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *HTTPClient) do(req *http.Request, endpoint string, target any) error {
	started := time.Now()
	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	c.logger.Debug("strava request completed",
		zap.String("endpoint", endpoint),
		zap.Int("status", response.StatusCode),
		zap.Duration("duration", time.Since(started)))

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return &APIError{
			Endpoint:   endpoint,
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("strava: decode %s response: %w", endpoint, err)
	}
	return nil
}
