package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/digistore/internal/apperr"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/service"
)

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, service.ErrInvalidRequest.WithDetails(map[string]any{"fields": map[string]string{name: "invalid"}})
	}
	return id, nil
}

type resolveRequest struct {
	Outcome string          `json:"outcome" validate:"required,oneof=completed refund"`
	Data    json.RawMessage `json:"data"`
}

// ResolveOrder позволяет владельцу магазина урегулировать api-заказ,
// зависший в ожидании поставщика.
func (h *Handler) ResolveOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		h.writeError(w, r, apperr.Unauthorized)
		return
	}

	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.ResolveAPIOrder(r.Context(), c.shopID, orderID, service.ResolveOutcome(req.Outcome), req.Data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, orderResponse{
		ID:          order.ID,
		ProductID:   order.ProductID,
		ProductName: order.ProductName,
		Price:       money(order.Price),
		Quantity:    order.Quantity,
		Total:       money(order.Total()),
		Status:      displayStatus(order.Status),
		Data:        order.Data,
		CreatedAt:   order.CreatedAt.Format(time.RFC3339),
	})
}

type provisionRequest struct {
	Subdomain string `json:"subdomain" validate:"required,subdomain"`
	Name      string `json:"name" validate:"required,max=100"`
	Months    int    `json:"months" validate:"required,min=1,max=12"`
}

type renewRequest struct {
	Months int `json:"months" validate:"required,min=1,max=12"`
}

type rentalResponse struct {
	ShopID    int64       `json:"shopId"`
	Subdomain string      `json:"subdomain"`
	Name      string      `json:"name"`
	ExpiresAt string      `json:"expiresAt"`
	Price     json.Number `json:"price"`
	Balance   json.Number `json:"balance"`
}

func newRentalResponse(res *service.RentalResult) rentalResponse {
	return rentalResponse{
		ShopID:    int64(res.Shop.ID),
		Subdomain: res.Shop.Subdomain,
		Name:      res.Shop.Name,
		ExpiresAt: res.Shop.ExpiresAt.UTC().Format(time.RFC3339),
		Price:     money(res.Price),
		Balance:   money(res.Balance),
	}
}

// masterCaller возвращает вызывающего, если запрос пришёл на мастер-домен.
func (h *Handler) masterCaller(w http.ResponseWriter, r *http.Request) (caller, bool) {
	c, ok := callerFrom(r)
	if !ok {
		h.writeError(w, r, apperr.Unauthorized)
		return caller{}, false
	}
	if !c.shopID.IsMaster() {
		h.writeError(w, r, service.ErrMasterOnly)
		return caller{}, false
	}
	return c, true
}

// ProvisionShop сдаёт новый магазин в аренду текущему пользователю мастер-домена.
func (h *Handler) ProvisionShop(w http.ResponseWriter, r *http.Request) {
	c, ok := h.masterCaller(w, r)
	if !ok {
		return
	}

	var req provisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.ProvisionShop(r.Context(), service.ProvisionRequest{
		UserID:    c.userID,
		Subdomain: req.Subdomain,
		Name:      req.Name,
		Months:    req.Months,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newRentalResponse(res))
}

// RenewShop продлевает аренду магазина за счёт текущего пользователя мастер-домена.
func (h *Handler) RenewShop(w http.ResponseWriter, r *http.Request) {
	c, ok := h.masterCaller(w, r)
	if !ok {
		return
	}

	shopID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req renewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.RenewShop(r.Context(), c.userID, model.ShopID(shopID), req.Months)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newRentalResponse(res))
}
