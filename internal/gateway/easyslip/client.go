// Package easyslip проверяет слипы тайских банковских переводов через API EasySlip.
package easyslip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/digistore/internal/gateway"
)

// DefaultBaseURL адрес боевого API.
const DefaultBaseURL = "https://developer.easyslip.com"

// Slip проверенное содержимое слипа перевода.
type Slip struct {
	TransRef             string
	Amount               decimal.Decimal
	Date                 time.Time
	SenderName           string
	ReceiverName         string
	ReceiverBankAccount  string
	ReceiverProxyAccount string
}

// Client обращается к API проверки слипов.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиента. Пустой baseURL заменяется на DefaultBaseURL.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type accountName struct {
	TH string `json:"th"`
	EN string `json:"en"`
}

func (n accountName) String() string {
	if n.TH != "" {
		return n.TH
	}
	return n.EN
}

type party struct {
	Account struct {
		Name accountName `json:"name"`
		Bank *struct {
			Account string `json:"account"`
		} `json:"bank"`
		Proxy *struct {
			Type    string `json:"type"`
			Account string `json:"account"`
		} `json:"proxy"`
	} `json:"account"`
}

type verifyResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		TransRef string    `json:"transRef"`
		Date     time.Time `json:"date"`
		Amount   struct {
			Amount decimal.Decimal `json:"amount"`
		} `json:"amount"`
		Sender   party `json:"sender"`
		Receiver party `json:"receiver"`
	} `json:"data"`
}

// Verify загружает изображение слипа. Проверка дубликатов у провайдера
// запрашивается всегда, но решает локальная история пополнений.
func (c *Client) Verify(ctx context.Context, token, filename string, image io.Reader) (*Slip, error) {
	if token == "" {
		return nil, &gateway.Error{Reason: gateway.ReasonUnauthorized, Detail: "access token not configured"}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}
	if err := mw.WriteField("checkDuplicate", "true"); err != nil {
		return nil, fmt.Errorf("write field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/verify", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gateway.Unavailable(err)
	}
	defer resp.Body.Close()

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.Unavailable(fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}

	if out.Status != http.StatusOK || out.Data == nil {
		return nil, &gateway.Error{
			Reason:       mapMessage(out.Message),
			ProviderCode: out.Message,
			Detail:       fmt.Sprintf("status %d", out.Status),
		}
	}
	if out.Data.TransRef == "" {
		return nil, &gateway.Error{Reason: gateway.ReasonUnreadable, Detail: "missing transRef"}
	}

	slip := &Slip{
		TransRef:     out.Data.TransRef,
		Amount:       out.Data.Amount.Amount,
		Date:         out.Data.Date,
		SenderName:   out.Data.Sender.Account.Name.String(),
		ReceiverName: out.Data.Receiver.Account.Name.String(),
	}
	if b := out.Data.Receiver.Account.Bank; b != nil {
		slip.ReceiverBankAccount = b.Account
	}
	if p := out.Data.Receiver.Account.Proxy; p != nil {
		slip.ReceiverProxyAccount = p.Account
	}
	return slip, nil
}

func mapMessage(msg string) gateway.Reason {
	switch msg {
	case "duplicate_slip":
		return gateway.ReasonDuplicateSlip
	case "slip_not_found", "qrcode_not_found", "invalid_image", "invalid_payload":
		return gateway.ReasonUnreadable
	case "image_size_too_large":
		return gateway.ReasonImageTooLarge
	case "quota_exceeded":
		return gateway.ReasonQuotaExceeded
	case "unauthorized", "access_denied", "account_not_verified", "application_expired", "application_deactivated":
		return gateway.ReasonUnauthorized
	default:
		return gateway.ReasonRejected
	}
}
