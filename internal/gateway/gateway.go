// Package gateway содержит общий словарь ошибок клиентов платёжных шлюзов.
// Каждый клиент сводит коды своего провайдера к Reason.
package gateway

import (
	"errors"
	"fmt"
)

// Reason класс отказа, не зависящий от провайдера.
type Reason string

const (
	// ReasonAlreadyRedeemed: ваучер уже активирован.
	ReasonAlreadyRedeemed Reason = "already_redeemed"
	// ReasonNotFound: ваучер не существует.
	ReasonNotFound        Reason = "not_found"
	// ReasonExpired: срок действия ваучера истёк.
	ReasonExpired         Reason = "expired"
	// ReasonOwnVoucher: ваучер создан тем же кошельком, что его получает.
	ReasonOwnVoucher      Reason = "own_voucher"
	// ReasonInvalidVoucher: ссылка или код ваучера имеют неверный формат.
	ReasonInvalidVoucher  Reason = "invalid_voucher"
	// ReasonUnreadable: данные слипа не удалось прочитать.
	ReasonUnreadable      Reason = "unreadable"
	// ReasonDuplicateSlip: провайдер уже проверял этот слип.
	ReasonDuplicateSlip   Reason = "duplicate_slip"
	// ReasonImageTooLarge: файл слипа превышает лимит провайдера.
	ReasonImageTooLarge   Reason = "image_too_large"
	// ReasonQuotaExceeded: исчерпана квота проверок у провайдера.
	ReasonQuotaExceeded   Reason = "quota_exceeded"
	// ReasonUnauthorized: ключ доступа к провайдеру неверен или не задан.
	ReasonUnauthorized    Reason = "unauthorized"
	// ReasonRejected: прочий отказ провайдера.
	ReasonRejected        Reason = "rejected"
	// ReasonUnavailable: провайдер недоступен или ответ не разобран.
	ReasonUnavailable     Reason = "unavailable"
)

// Error возвращается клиентами шлюзов при любом неуспешном исходе.
// ProviderCode и Detail предназначены только для логов.
type Error struct {
	Reason       Reason
	ProviderCode string
	Detail       string
	Err          error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway: %s", e.Reason)
	if e.ProviderCode != "" {
		msg += " (" + e.ProviderCode + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Unavailable оборачивает транспортную ошибку. Вызывающий считает её окончательной.
func Unavailable(err error) *Error {
	return &Error{Reason: ReasonUnavailable, Err: err}
}

// ReasonOf извлекает Reason из err. Для чужих ошибок возвращает ReasonUnavailable.
func ReasonOf(err error) Reason {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Reason
	}
	return ReasonUnavailable
}
