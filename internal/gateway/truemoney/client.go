// Package truemoney активирует подарочные ваучеры TrueMoney (ссылки "angpao").
package truemoney

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/digistore/internal/gateway"
)

// DefaultBaseURL адрес публичного API ваучеров.
const DefaultBaseURL = "https://gift.truemoney.com"

const codeSuccess = "SUCCESS"

var codePattern = regexp.MustCompile(`^[0-9A-Za-z]{10,64}$`)

// Redemption описывает успешно активированный ваучер.
type Redemption struct {
	VoucherID string
	Code      string
	Amount    decimal.Decimal
	OwnerName string
}

// Client обращается к API ваучеров.
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
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type redeemRequest struct {
	Mobile      string `json:"mobile"`
	VoucherHash string `json:"voucher_hash"`
}

type redeemResponse struct {
	Status struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Data struct {
		Voucher struct {
			VoucherID  string          `json:"voucher_id"`
			AmountBaht decimal.Decimal `json:"amount_baht"`
		} `json:"voucher"`
		OwnerProfile struct {
			FullName string `json:"full_name"`
		} `json:"owner_profile"`
		MyTicket struct {
			AmountBaht decimal.Decimal `json:"amount_baht"`
		} `json:"my_ticket"`
	} `json:"data"`
}

// ParseCode принимает ссылку на ваучер (код в параметре "v")
// или сам код.
func ParseCode(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", &gateway.Error{Reason: gateway.ReasonInvalidVoucher, Detail: "empty voucher"}
	}

	if strings.Contains(s, "://") || strings.Contains(s, "?") {
		u, err := url.Parse(s)
		if err != nil {
			return "", &gateway.Error{Reason: gateway.ReasonInvalidVoucher, Err: err}
		}
		s = u.Query().Get("v")
	}

	if !codePattern.MatchString(s) {
		return "", &gateway.Error{Reason: gateway.ReasonInvalidVoucher, Detail: "malformed voucher code"}
	}
	return s, nil
}

// Redeem активирует ваучер на кошелёк с номером mobile.
func (c *Client) Redeem(ctx context.Context, mobile, voucher string) (*Redemption, error) {
	code, err := ParseCode(voucher)
	if err != nil {
		return nil, err
	}
	if mobile == "" {
		return nil, &gateway.Error{Reason: gateway.ReasonUnauthorized, Detail: "receiver phone not configured"}
	}

	body, err := json.Marshal(redeemRequest{Mobile: mobile, VoucherHash: code})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/campaign/vouchers/%s/redeem", c.baseURL, url.PathEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gateway.Unavailable(err)
	}
	defer resp.Body.Close()

	var out redeemResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.Unavailable(fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}

	if out.Status.Code != codeSuccess {
		return nil, &gateway.Error{
			Reason:       mapStatus(out.Status.Code),
			ProviderCode: out.Status.Code,
			Detail:       out.Status.Message,
		}
	}

	amount := out.Data.MyTicket.AmountBaht
	if amount.IsZero() {
		amount = out.Data.Voucher.AmountBaht
	}
	if !amount.IsPositive() {
		return nil, &gateway.Error{Reason: gateway.ReasonRejected, ProviderCode: out.Status.Code, Detail: "zero amount"}
	}

	id := out.Data.Voucher.VoucherID
	if id == "" {
		id = code
	}

	return &Redemption{
		VoucherID: id,
		Code:      code,
		Amount:    amount,
		OwnerName: out.Data.OwnerProfile.FullName,
	}, nil
}

func mapStatus(code string) gateway.Reason {
	switch code {
	case "VOUCHER_OUT_OF_STOCK", "VOUCHER_REDEEMED":
		return gateway.ReasonAlreadyRedeemed
	case "VOUCHER_NOT_FOUND":
		return gateway.ReasonNotFound
	case "VOUCHER_EXPIRED":
		return gateway.ReasonExpired
	case "CANNOT_GET_OWN_VOUCHER":
		return gateway.ReasonOwnVoucher
	case "INVALID_VOUCHER", "INVALID_VOUCHER_HASH":
		return gateway.ReasonInvalidVoucher
	case "TARGET_USER_NOT_FOUND", "INVALID_MOBILE":
		return gateway.ReasonUnauthorized
	default:
		return gateway.ReasonRejected
	}
}
