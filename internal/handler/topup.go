package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/mmeshcher/digistore/internal/apperr"
	"github.com/mmeshcher/digistore/internal/service"
)

const (
	maxSlipSize = 5 << 20
	slipField   = "file"
)

var (
	errSlipMissing     = apperr.New(apperr.CodeValidation, "slip_missing", "กรุณาแนบรูปสลิป")
	errSlipTooLarge    = apperr.New(apperr.CodeValidation, "slip_too_large", "ไฟล์สลิปต้องมีขนาดไม่เกิน 5MB")
	errSlipUnsupported = apperr.New(apperr.CodeValidation, "slip_unsupported", "รองรับเฉพาะไฟล์ JPEG PNG หรือ WEBP")
)

var slipMimeTypes = []string{"image/jpeg", "image/png", "image/webp"}

type topupResponse struct {
	Amount   json.Number `json:"amount"`
	Message  string      `json:"message"`
	Balance  json.Number `json:"balance"`
	TransRef string      `json:"transRef"`
}

func newTopupResponse(res *service.TopupResult) topupResponse {
	return topupResponse{
		Amount:   money(res.Amount),
		Message:  "เติมเงินสำเร็จ " + res.Amount.StringFixed(2) + " บาท",
		Balance:  money(res.Balance),
		TransRef: res.TransRef,
	}
}

type voucherRequest struct {
	VoucherURL string `json:"voucherUrl" validate:"required,max=512"`
}

// RedeemVoucher пополняет баланс пользователя ваучером TrueMoney.
func (h *Handler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		h.writeError(w, r, apperr.Unauthorized)
		return
	}

	var req voucherRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.RedeemVoucher(r.Context(), c.shopID, c.userID, req.VoucherURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTopupResponse(res))
}

// VerifySlip пополняет баланс пользователя по слипу перевода
// из multipart-поля "file".
func (h *Handler) VerifySlip(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		h.writeError(w, r, apperr.Unauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSlipSize+(1<<20))
	if err := r.ParseMultipartForm(maxSlipSize); err != nil {
		if isMaxBytesError(err) {
			h.writeError(w, r, errSlipTooLarge)
			return
		}
		h.writeError(w, r, service.ErrInvalidRequest.WithCause(err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("remove multipart files", zap.Error(err))
		}
	}()

	file, header, err := r.FormFile(slipField)
	if err != nil {
		h.writeError(w, r, errSlipMissing)
		return
	}
	defer file.Close()

	if header.Size > maxSlipSize {
		h.writeError(w, r, errSlipTooLarge)
		return
	}

	mt, err := mimetype.DetectReader(file)
	if err != nil {
		h.writeError(w, r, service.ErrInvalidRequest.WithCause(err))
		return
	}
	if !mimetype.EqualsAny(mt.String(), slipMimeTypes...) {
		h.writeError(w, r, errSlipUnsupported.WithDetails(map[string]any{"detected": mt.String()}))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		h.writeError(w, r, apperr.Internal.WithCause(err))
		return
	}

	res, err := h.service.VerifySlip(r.Context(), c.shopID, c.userID, header.Filename, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTopupResponse(res))
}

type topupHistoryResponse struct {
	ID        int64       `json:"id"`
	Method    string      `json:"method"`
	TransRef  string      `json:"transRef"`
	Amount    json.Number `json:"amount"`
	Sender    string      `json:"sender,omitempty"`
	Status    string      `json:"status"`
	CreatedAt string      `json:"createdAt"`
}

// GetTopups возвращает историю пополнений пользователя в магазине.
func (h *Handler) GetTopups(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(r)
	if !ok {
		h.writeError(w, r, apperr.Unauthorized)
		return
	}

	topups, err := h.service.GetTopupsByUser(r.Context(), c.shopID, c.userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(topups) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]topupHistoryResponse, 0, len(topups))
	for _, t := range topups {
		resp = append(resp, topupHistoryResponse{
			ID:        t.ID,
			Method:    string(t.Method),
			TransRef:  t.TransRef,
			Amount:    money(t.Amount),
			Sender:    t.SenderName,
			Status:    t.Status,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}
