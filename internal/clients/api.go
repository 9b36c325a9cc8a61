package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/azebets/walletsync/internal/domain"
)

const defaultTimeout = 10 * time.Second

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

// APIClient talks to the casino REST backend with a bearer token.
type APIClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPIClient creates a client for baseURL. A non-positive timeout uses 10s.
func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
	}
}

// SetToken replaces the bearer token, e.g. after a login.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *APIClient) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// FetchWallet returns the confirmed balance of coin.
func (c *APIClient) FetchWallet(ctx context.Context, coin string) (domain.WalletBalance, error) {
	var out domain.WalletBalance
	q := url.Values{"coin": {coin}}
	if err := c.do(ctx, http.MethodGet, "/api/user/wallet?"+q.Encode(), nil, &out); err != nil {
		return domain.WalletBalance{}, errors.Wrapf(err, "fetch wallet %s", coin)
	}
	return out, nil
}

// UpdateDisplayStatus stores which currencies the user has seen.
func (c *APIClient) UpdateDisplayStatus(ctx context.Context, statuses []domain.DisplayStatusEntry) error {
	body := struct {
		List []domain.DisplayStatusEntry `json:"list"`
	}{List: statuses}
	return errors.Wrap(c.do(ctx, http.MethodPost, "/api/user/amount/display", body, nil), "update display status")
}

// FetchRates returns USD to fiat exchange rates.
func (c *APIClient) FetchRates(ctx context.Context) (domain.Rates, error) {
	var out domain.Rates
	if err := c.do(ctx, http.MethodGet, "/api/currency/rates", nil, &out); err != nil {
		return nil, errors.Wrap(err, "fetch rates")
	}
	return out, nil
}

// FetchUSDPrices returns the unit USD price of each symbol the backend knows.
func (c *APIClient) FetchUSDPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	q := url.Values{"symbols": {strings.Join(symbols, ",")}}
	out := make(map[string]decimal.Decimal)
	if err := c.do(ctx, http.MethodGet, "/api/currency/usd-prices?"+q.Encode(), nil, &out); err != nil {
		return nil, errors.Wrap(err, "fetch usd prices")
	}
	return out, nil
}

// GameHistory returns one page of the user's bets in game as raw JSON.
func (c *APIClient) GameHistory(ctx context.Context, game string, page, size int) (json.RawMessage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	path := fmt.Sprintf("/api/user/%s-game/%s-history", game, game)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "%s history", game)
	}
	return out, nil
}

// RecordLostBet posts a lost bet and returns the stored record.
func (c *APIClient) RecordLostBet(ctx context.Context, game string, payload any) (json.RawMessage, error) {
	body := struct {
		Data any `json:"data"`
	}{Data: payload}

	var records []json.RawMessage
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/user/%s-game/lost-bet", game), body, &records); err != nil {
		return nil, errors.Wrapf(err, "%s lost bet", game)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(body, out), "failed to unmarshal response")
}

// errorMessage extracts {"error": "..."} or {"message": "..."} bodies.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(body))
}
