// Package handler содержит HTTP-обработчики API digistore.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/digistore/internal/apperr"
	"github.com/mmeshcher/digistore/internal/idempotency"
	"github.com/mmeshcher/digistore/internal/middleware"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/service"
	"github.com/mmeshcher/digistore/internal/validation"
)

const maxJSONBody = 1 << 20

// Service описывает бизнес-логику, используемую обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*service.OrderResult, error)
	GetOrdersByUser(ctx context.Context, shopID model.ShopID, userID int64) ([]model.Order, error)
	GetBalance(ctx context.Context, shopID model.ShopID, userID int64) (*model.Balance, error)
	RedeemVoucher(ctx context.Context, shopID model.ShopID, userID int64, voucher string) (*service.TopupResult, error)
	VerifySlip(ctx context.Context, shopID model.ShopID, userID int64, filename string, image io.Reader) (*service.TopupResult, error)
	GetTopupsByUser(ctx context.Context, shopID model.ShopID, userID int64) ([]model.Topup, error)
	ResolveAPIOrder(ctx context.Context, shopID model.ShopID, orderID int64, outcome service.ResolveOutcome, data json.RawMessage) (*model.Order, error)
	ProvisionShop(ctx context.Context, req service.ProvisionRequest) (*service.RentalResult, error)
	RenewShop(ctx context.Context, userID int64, shopID model.ShopID, months int) (*service.RentalResult, error)
}

// Handler реализует HTTP API digistore.
type Handler struct {
	service Service
	guard   idempotency.Guard
	logger  *zap.Logger
	auth    *middleware.AuthMiddleware
	tenant  *middleware.TenantMiddleware
	metrics http.Handler
}

// NewHandler создаёт HTTP-обработчики. metrics может быть nil.
func NewHandler(s Service, guard idempotency.Guard, logger *zap.Logger, auth *middleware.AuthMiddleware, tenant *middleware.TenantMiddleware, metrics http.Handler) *Handler {
	if guard == nil {
		guard = idempotency.NewMemoryGuard(idempotency.DefaultWindow)
	}
	return &Handler{
		service: s,
		guard:   guard,
		logger:  logger,
		auth:    auth,
		tenant:  tenant,
		metrics: metrics,
	}
}

type caller struct {
	shopID model.ShopID
	userID int64
}

func callerFrom(r *http.Request) (caller, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return caller{}, false
	}
	shopID, ok := middleware.GetShopIDFromContext(r.Context())
	if !ok {
		return caller{}, false
	}
	return caller{shopID: shopID, userID: userID}, true
}

// money выводит сумму как JSON-число с двумя знаками после запятой.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := apperr.Body(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	h.writeJSON(w, status, body)
}

// decodeJSON читает JSON-тело ограниченного размера и валидирует его.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return service.ErrInvalidRequest.WithCause(err)
	}
	if fields := validation.Struct(dst); fields != nil {
		return service.ErrInvalidRequest.WithDetails(map[string]any{"fields": fields})
	}
	return nil
}

type placeOrderRequest struct {
	ProductID     int64            `json:"productId" validate:"required,gt=0"`
	Quantity      int              `json:"quantity" validate:"required,min=1,max=100"`
	FormData      map[string]any   `json:"formData"`
	RequestID     string           `json:"requestId" validate:"max=128"`
	ExpectedPrice *decimal.Decimal `json:"expectedPrice"`
}

type placeOrderResponse struct {
	OrderID int64              `json:"orderId"`
	Message string             `json:"message,omitempty"`
	Warning string             `json:"warning,omitempty"`
	Status  string             `json:"status"`
	Total   json.Number        `json:"total"`
	Data    model.OrderPayload `json:"data"`
}

const (
	msgOrderCompleted  = "สั่งซื้อสำเร็จ"
	msgOrderPending    = "สั่งซื้อสำเร็จ รอร้านค้าดำเนินการ"
	msgOrderProcessing = "ระบบกำลังดำเนินการสั่งซื้อ กรุณาตรวจสอบประวัติคำสั่งซื้อภายหลัง"
	statusProcessing   = "processing"
)

// PlaceOrder оформляет покупку товара текущим пользователем.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		h.writeError(w, r, apperr.Unauthorized)
		return
	}

	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.RequestID != "" {
		res, err := h.guard.CheckAndRecord(r.Context(), c.userID, req.RequestID)
		switch {
		case err != nil:
			// пропускаем запрос, уникальность в БД всё равно проверяется
			h.logger.Warn("idempotency guard unavailable", zap.Error(err))
		case !res.Fresh:
			h.writeError(w, r, service.ErrDuplicateRequest.WithDetails(map[string]any{
				"firstSeenAt": res.FirstSeenAt.UTC().Format(time.RFC3339),
			}))
			return
		}
	}

	result, err := h.service.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		ShopID:        c.shopID,
		UserID:        c.userID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		FormData:      req.FormData,
		ExpectedPrice: req.ExpectedPrice,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if result.Processing {
		h.writeJSON(w, http.StatusAccepted, placeOrderResponse{
			OrderID: result.OrderID,
			Warning: msgOrderProcessing,
			Status:  statusProcessing,
			Total:   money(result.Total),
		})
		return
	}

	msg := msgOrderCompleted
	if result.Status == model.OrderStatusPending {
		msg = msgOrderPending
	}
	h.writeJSON(w, http.StatusOK, placeOrderResponse{
		OrderID: result.OrderID,
		Message: msg,
		Status:  string(result.Status),
		Total:   money(result.Total),
		Data:    result.Data,
	})
}

type orderResponse struct {
	ID          int64              `json:"id"`
	ProductID   int64              `json:"productId"`
	ProductName string             `json:"productName"`
	Price       json.Number        `json:"price"`
	Quantity    int                `json:"quantity"`
	Total       json.Number        `json:"total"`
	Status      string             `json:"status"`
	Data        model.OrderPayload `json:"data"`
	CreatedAt   string             `json:"createdAt"`
}

// displayStatus показывает заказы, ожидающие поставщика, как processing.
func displayStatus(s model.OrderStatus) string {
	if s == model.OrderStatusAPIPending {
		return statusProcessing
	}
	return string(s)
}

// GetOrders возвращает заказы пользователя в магазине.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		h.writeError(w, r, apperr.Unauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), c.shopID, c.userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			ID:          o.ID,
			ProductID:   o.ProductID,
			ProductName: o.ProductName,
			Price:       money(o.Price),
			Quantity:    o.Quantity,
			Total:       money(o.Total()),
			Status:      displayStatus(o.Status),
			Data:        o.Data,
			CreatedAt:   o.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type balanceResponse struct {
	Credit json.Number `json:"credit"`
}

// GetBalance возвращает баланс пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		h.writeError(w, r, apperr.Unauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), c.shopID, c.userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Credit: money(balance.Credit)})
}

// Healthz сообщает, доступна ли БД.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isMaxBytesError(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
