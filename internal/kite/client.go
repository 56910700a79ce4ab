// Package kite provides a client for the Kite Connect session and quote endpoints.
package kite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rewired-gh/niftyoracle/internal/models"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://api.kite.trade"
	DefaultInstrument = "NSE:NIFTY 50"
	DefaultTimeout    = 10 * time.Second

	apiVersion = "3"
)

// Config holds client construction parameters. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	APIKey     string
	Instrument string
	Timeout    time.Duration
	RatePerSec float64
}

// Client wraps the two Kite calls the feed needs.
type Client struct {
	baseURL    string
	apiKey     string
	instrument string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Kite client with a bounded request timeout and rate limit.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Instrument == "" {
		cfg.Instrument = DefaultInstrument
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		instrument: cfg.Instrument,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

// Instrument returns the instrument symbol quoted by FetchQuote.
func (c *Client) Instrument() string {
	return c.instrument
}

// Checksum is hex(sha256(apiKey + requestToken + apiSecret)).
func Checksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}

type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

type sessionData struct {
	AccessToken string `json:"access_token"`
}

type quoteData struct {
	LastPrice float64 `json:"last_price"`
	OHLC      struct {
		Close float64 `json:"close"`
	} `json:"ohlc"`
}

// ExchangeToken trades a request token and its checksum for an access token.
func (c *Client) ExchangeToken(ctx context.Context, requestToken, checksum string) (string, error) {
	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", checksum)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var data sessionData
	if err := c.do(req, &data); err != nil {
		return "", err
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("session response missing access_token")
	}
	return data.AccessToken, nil
}

// FetchQuote returns the last traded price and previous close for the configured instrument.
func (c *Client) FetchQuote(ctx context.Context, accessToken string) (models.Quote, error) {
	u, err := url.Parse(c.baseURL + "/quote")
	if err != nil {
		return models.Quote{}, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("i", c.instrument)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.Quote{}, fmt.Errorf("failed to build quote request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, accessToken))

	var data map[string]quoteData
	if err := c.do(req, &data); err != nil {
		return models.Quote{}, err
	}
	qd, ok := data[c.instrument]
	if !ok {
		return models.Quote{}, fmt.Errorf("quote response missing instrument %q", c.instrument)
	}
	return models.Quote{LastPrice: qd.LastPrice, ClosePrice: qd.OHLC.Close}, nil
}

// do sends req and decodes the "data" member of the response envelope into out.
// Non-2xx responses become *APIError carrying the upstream message when present.
func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = env.Message
			apiErr.ErrorType = env.ErrorType
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("response missing data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}
