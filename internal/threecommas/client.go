// Package threecommas is a minimal signed HTTP client for the 3Commas
// bot API, covering the endpoints the trailing engine needs.
package threecommas

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production 3Commas API URL.
const DefaultBaseURL = "https://api.3commas.io"

const maxAttempts = 3

// Client talks to the 3Commas API. Requests are signed with
// HMAC-SHA256 over path and body; 429 and 5xx responses are retried
// with exponential backoff.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a Client. baseURL may be empty for production.
func NewClient(apiKey, apiSecret, baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		apiSecret:  strings.TrimSpace(apiSecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "threecommas").Logger(),
	}
}

// GetBot fetches a bot with its active deals included.
func (c *Client) GetBot(ctx context.Context, botID int64) (*Bot, error) {
	path := fmt.Sprintf("/public/api/ver1/bots/%d/show", botID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get bot %d: %w", botID, err)
	}

	var bot Bot
	if err := json.Unmarshal(body, &bot); err != nil {
		return nil, fmt.Errorf("get bot %d: decode: %w", botID, err)
	}
	return &bot, nil
}

// UpdateDeal pushes new SL/TP settings and returns the updated deal so
// callers can verify the platform accepted the values.
func (c *Client) UpdateDeal(ctx context.Context, dealID int64, update DealUpdate) (*Deal, error) {
	path := fmt.Sprintf("/public/api/ver1/deals/%d/update_deal", dealID)
	body, err := c.do(ctx, http.MethodPatch, path, update)
	if err != nil {
		return nil, fmt.Errorf("update deal %d: %w", dealID, err)
	}

	var deal Deal
	if err := json.Unmarshal(body, &deal); err != nil {
		return nil, fmt.Errorf("update deal %d: decode: %w", dealID, err)
	}
	return &deal, nil
}

// CloseDeal closes a deal at market (panic_sell).
func (c *Client) CloseDeal(ctx context.Context, dealID int64) error {
	path := fmt.Sprintf("/public/api/ver1/deals/%d/panic_sell", dealID)
	if _, err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("close deal %d: %w", dealID, err)
	}
	return nil
}

// CancelOrder cancels a manual safety order. It returns true only when
// the response confirms the order reached the cancelled state.
func (c *Client) CancelOrder(ctx context.Context, dealID int64, orderID string) (bool, error) {
	path := fmt.Sprintf("/public/api/ver1/deals/%d/cancel_order", dealID)
	payload := map[string]interface{}{
		"order_id": orderID,
		"deal_id":  dealID,
	}
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return false, fmt.Errorf("cancel order %s on deal %d: %w", orderID, dealID, err)
	}

	var orders []MarketOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return false, fmt.Errorf("cancel order %s on deal %d: decode: %w", orderID, dealID, err)
	}

	for _, order := range orders {
		if order.OrderID.String() == orderID && strings.EqualFold(order.StatusString, OrderStatusCancelled) {
			return true, nil
		}
	}
	return false, nil
}

// GetOrderStatus returns the status string of a specific order, or ""
// when the order is not listed.
func (c *Client) GetOrderStatus(ctx context.Context, dealID int64, orderID string) (string, error) {
	orders, err := c.marketOrders(ctx, dealID)
	if err != nil {
		return "", err
	}

	for _, order := range orders {
		if order.OrderID.String() == orderID {
			return order.StatusString, nil
		}
	}
	return "", nil
}

// GetOrderID returns the id of the first order matching the given type
// and status, or "" when none matches.
func (c *Client) GetOrderID(ctx context.Context, dealID int64, orderType, orderStatus string) (string, error) {
	orders, err := c.marketOrders(ctx, dealID)
	if err != nil {
		return "", err
	}

	for _, order := range orders {
		if strings.EqualFold(order.DealOrderType, orderType) && strings.EqualFold(order.StatusString, orderStatus) {
			return order.OrderID.String(), nil
		}
	}
	return "", nil
}

// AddFunds places a limit order adding funds to the deal.
func (c *Client) AddFunds(ctx context.Context, dealID int64, quantity, limitPrice float64) error {
	path := fmt.Sprintf("/public/api/ver1/deals/%d/add_funds", dealID)
	payload := map[string]interface{}{
		"quantity":  quantity,
		"is_market": false,
		"rate":      limitPrice,
		"deal_id":   dealID,
	}

	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return fmt.Errorf("add funds to deal %d: %w", dealID, err)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("add funds to deal %d: decode: %w", dealID, err)
	}
	if result.Status != "success" {
		return fmt.Errorf("add funds to deal %d: status %q", dealID, result.Status)
	}
	return nil
}

// GetFundingData fetches the exchange limit data needed to size an
// add-funds order.
func (c *Client) GetFundingData(ctx context.Context, dealID int64) (*FundingData, error) {
	path := fmt.Sprintf("/public/api/ver1/deals/%d/data_for_adding_funds", dealID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("funding data for deal %d: %w", dealID, err)
	}

	var data FundingData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("funding data for deal %d: decode: %w", dealID, err)
	}
	return &data, nil
}

// GetAccountMarketCode returns the exchange market code of the
// account a bot trades on, e.g. "binance".
func (c *Client) GetAccountMarketCode(ctx context.Context, accountID int64) (string, error) {
	path := fmt.Sprintf("/public/api/ver1/accounts/%d", accountID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("account %d: %w", accountID, err)
	}

	var account struct {
		MarketCode string `json:"market_code"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return "", fmt.Errorf("account %d: decode: %w", accountID, err)
	}
	return account.MarketCode, nil
}

func (c *Client) marketOrders(ctx context.Context, dealID int64) ([]MarketOrder, error) {
	path := fmt.Sprintf("/public/api/ver1/deals/%d/market_orders", dealID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("market orders for deal %d: %w", dealID, err)
	}

	var orders []MarketOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("market orders for deal %d: decode: %w", dealID, err)
	}
	return orders, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	retry := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := retry.Duration()
			c.logger.Debug().Str("path", path).Dur("wait", wait).Int("attempt", attempt).Msg("retrying request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		body, retryable, err := c.doOnce(ctx, method, path, reqBody)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, reqBody []byte) (body []byte, retryable bool, err error) {
	var reader io.Reader
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, false, err
	}

	req.Header.Set("APIKEY", c.apiKey)
	req.Header.Set("Signature", c.sign(path, reqBody))
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, false, nil
	}

	retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var apiErr apiError
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Message != "" {
		return nil, retryable, fmt.Errorf("http %d: %s", resp.StatusCode, apiErr.Message)
	}
	return nil, retryable, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// sign computes the HMAC-SHA256 signature over the request path and
// body, as required by the 3Commas API.
func (c *Client) sign(path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(path))
	if body != nil {
		mac.Write(body)
	}
	return hex.EncodeToString(mac.Sum(nil))
}
