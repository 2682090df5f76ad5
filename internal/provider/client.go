// Package provider содержит клиент поставщика цифровых товаров,
// который выдаёт товары типа api.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// ErrTimeout возвращается, если поставщик не ответил вовремя. Покупка при этом
// могла состояться.
var ErrTimeout = errors.New("provider timeout")

// RejectedError явный ответ {"ok": false}: покупка не состоялась.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "provider rejected purchase: " + e.Message
}

// Client обращается к API поставщика.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	priceClient *retryablehttp.Client
}

// PriceItem позиция актуального прайс-листа.
type PriceItem struct {
	TypeID string          `json:"type_id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

type envelope struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type buyRequest struct {
	TypeID  string `json:"type_id"`
	Account string `json:"account,omitempty"`
}

// NewClient создаёт клиента поставщика по адресу baseURL.
func NewClient(baseURL, apiKey string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	priceClient := retryablehttp.NewClient()
	priceClient.RetryMax = 2
	priceClient.RetryWaitMin = 200 * time.Millisecond
	priceClient.RetryWaitMax = time.Second
	priceClient.HTTPClient.Timeout = 5 * time.Second
	priceClient.Logger = nil

	return &Client{
		baseURL: base,
		apiKey:  apiKey,
		// Покупки ограничены контекстом вызывающего и не повторяются.
		httpClient:  &http.Client{},
		priceClient: priceClient,
	}
}

// Buy покупает одну единицу typeID. Возвращает данные выдачи, *RejectedError,
// ErrTimeout или иную ошибку, если исход неизвестен.
func (c *Client) Buy(ctx context.Context, typeID, account string) (json.RawMessage, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("provider client not configured")
	}

	body, err := json.Marshal(buyRequest{TypeID: typeID, Account: account})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/buy", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.OK {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RejectedError{Message: msg}
	}

	return env.Data, nil
}

// Prices загружает актуальный прайс-лист.
func (c *Client) Prices(ctx context.Context) ([]PriceItem, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("provider client not configured")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/products", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.priceClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.OK {
		return nil, fmt.Errorf("price feed unavailable: %s", env.Message)
	}

	var items []PriceItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, fmt.Errorf("decode price items: %w", err)
	}
	return items, nil
}

// PriceMap индексирует прайс-лист по типу товара.
func PriceMap(items []PriceItem) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		m[it.TypeID] = it.Price
	}
	return m
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
