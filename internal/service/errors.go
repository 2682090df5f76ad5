package service

import (
	"errors"

	"github.com/mmeshcher/digistore/internal/apperr"
	"github.com/mmeshcher/digistore/internal/gateway"
	"github.com/mmeshcher/digistore/internal/ledger"
	"github.com/mmeshcher/digistore/internal/repository"
)

var (
	// ErrInvalidRequest возвращается, если тело запроса не прошло разбор или валидацию.
	ErrInvalidRequest       = apperr.New(apperr.CodeValidation, "invalid_request", "ข้อมูลไม่ถูกต้อง")
	// ErrInvalidQuantity возвращается, если количество вне допустимого диапазона.
	ErrInvalidQuantity      = apperr.New(apperr.CodeValidation, "invalid_quantity", "จำนวนสินค้าไม่ถูกต้อง")
	// ErrMissingFormData возвращается, если для товара-формы не заполнены обязательные поля.
	ErrMissingFormData      = apperr.New(apperr.CodeValidation, "missing_form_data", "กรุณากรอกข้อมูลให้ครบถ้วน")
	// ErrProductNotFound возвращается, если товар не найден в магазине.
	ErrProductNotFound      = apperr.New(apperr.CodeNotFound, "product_not_found", "ไม่พบสินค้า")
	// ErrProductNotAvailable возвращается, если товар снят с продажи.
	ErrProductNotAvailable  = apperr.New(apperr.CodeNotFound, "product_not_available", "สินค้านี้ไม่พร้อมจำหน่าย")
	// ErrUserNotFound возвращается, если пользователь не найден в магазине.
	ErrUserNotFound         = apperr.New(apperr.CodeNotFound, "user_not_found", "ไม่พบผู้ใช้")
	// ErrOrderNotFound возвращается, если заказ не найден в магазине.
	ErrOrderNotFound        = apperr.New(apperr.CodeNotFound, "order_not_found", "ไม่พบคำสั่งซื้อ")
	// ErrShopNotFound возвращается, если магазин не существует.
	ErrShopNotFound         = apperr.New(apperr.CodeNotFound, "shop_not_found", "ไม่พบร้านค้า")
	// ErrPriceChanged возвращается, если цена отличается от ожидаемой клиентом.
	ErrPriceChanged         = apperr.New(apperr.CodeConflict, "price_changed", "ราคาสินค้ามีการเปลี่ยนแปลง กรุณาตรวจสอบอีกครั้ง")
	// ErrPriceUnavailable возвращается, если актуальную цену у поставщика получить не удалось.
	ErrPriceUnavailable     = apperr.New(apperr.CodeConflict, "price_unavailable", "ไม่สามารถดึงราคาสินค้าได้ในขณะนี้")
	// ErrInsufficientCredit возвращается, если баланса не хватает на покупку.
	ErrInsufficientCredit   = apperr.New(apperr.CodeConflict, "insufficient_credit", "ยอดเงินคงเหลือไม่เพียงพอ")
	// ErrOutOfStock возвращается, если на складе меньше строк, чем заказано.
	ErrOutOfStock           = apperr.New(apperr.CodeConflict, "out_of_stock", "สินค้าหมด")
	// ErrMisconfiguredProduct возвращается, если у api-товара не задан тип у поставщика.
	ErrMisconfiguredProduct = apperr.New(apperr.CodeConflict, "misconfigured_product", "สินค้านี้ยังไม่ได้ตั้งค่าการจัดส่ง")
	// ErrOrderNotPending возвращается при попытке урегулировать заказ не в статусе api_pending.
	ErrOrderNotPending      = apperr.New(apperr.CodeConflict, "order_not_pending", "คำสั่งซื้อนี้ไม่ได้อยู่ในสถานะรอดำเนินการ")
	// ErrProviderRejected возвращается, если поставщик явно отказал в покупке.
	ErrProviderRejected     = apperr.New(apperr.CodeGateway, "provider_rejected", "สั่งซื้อไม่สำเร็จ")
	// ErrDuplicateRequest возвращается при повторной отправке того же запроса.
	ErrDuplicateRequest     = apperr.New(apperr.CodeDuplicate, "duplicate_request", "คำสั่งนี้กำลังดำเนินการอยู่ กรุณารอสักครู่")
	// ErrAlreadyUsed возвращается, если платёж с этой ссылкой уже зачислен.
	ErrAlreadyUsed          = apperr.New(apperr.CodeDuplicate, "already_used", "รายการนี้ถูกใช้งานไปแล้ว")
	// ErrTopupNotConfigured возвращается, если у магазина нет реквизитов для пополнения.
	ErrTopupNotConfigured   = apperr.New(apperr.CodeConflict, "topup_not_configured", "ร้านค้ายังไม่ได้ตั้งค่าช่องทางเติมเงิน")
	// ErrSlipExpired возвращается, если слип старше 24 часов.
	ErrSlipExpired          = apperr.New(apperr.CodeConflict, "slip_expired", "สลิปนี้เกิน 24 ชั่วโมงแล้ว")
	// ErrReceiverMismatch возвращается, если получатель в слипе не совпадает со счётом магазина.
	ErrReceiverMismatch     = apperr.New(apperr.CodeConflict, "receiver_mismatch", "บัญชีผู้รับเงินในสลิปไม่ตรงกับบัญชีของร้านค้า")
	// ErrAmountTooLow возвращается, если сумма пополнения ниже минимальной.
	ErrAmountTooLow         = apperr.New(apperr.CodeConflict, "amount_too_low", "ยอดเติมเงินขั้นต่ำ 10 บาท")
	// ErrUnreconciled возвращается, если шлюз подтвердил платёж, а зачислить его не удалось.
	ErrUnreconciled         = apperr.New(apperr.CodeUnreconciled, "payment_unreconciled", "ได้รับการชำระเงินแล้วแต่บันทึกยอดไม่สำเร็จ กรุณาติดต่อผู้ดูแลพร้อมหลักฐาน")
	// ErrSubdomainTaken возвращается, если поддомен или имя владельца уже заняты.
	ErrSubdomainTaken       = apperr.New(apperr.CodeConflict, "subdomain_taken", "ชื่อร้านค้านี้ถูกใช้งานแล้ว")
	// ErrMasterOnly возвращается при вызове операции мастер-реестра с домена магазина.
	ErrMasterOnly           = apperr.New(apperr.CodeForbidden, "master_only", "ใช้งานได้เฉพาะระบบหลักเท่านั้น")
)

var gatewayErrors = map[gateway.Reason]*apperr.Error{
	gateway.ReasonAlreadyRedeemed: apperr.New(apperr.CodeGateway, "voucher_already_redeemed", "ซองของขวัญนี้ถูกใช้งานไปแล้ว"),
	gateway.ReasonNotFound:        apperr.New(apperr.CodeGateway, "voucher_not_found", "ไม่พบซองของขวัญนี้"),
	gateway.ReasonExpired:         apperr.New(apperr.CodeGateway, "voucher_expired", "ซองของขวัญนี้หมดอายุแล้ว"),
	gateway.ReasonOwnVoucher:      apperr.New(apperr.CodeGateway, "voucher_own", "ไม่สามารถรับซองของขวัญของตัวเองได้"),
	gateway.ReasonInvalidVoucher:  apperr.New(apperr.CodeValidation, "voucher_invalid", "ลิงก์ซองของขวัญไม่ถูกต้อง"),
	gateway.ReasonUnreadable:      apperr.New(apperr.CodeGateway, "slip_unreadable", "ไม่สามารถอ่านข้อมูลจากสลิปได้"),
	gateway.ReasonDuplicateSlip:   apperr.New(apperr.CodeGateway, "slip_duplicate", "สลิปนี้ถูกใช้งานไปแล้ว"),
	gateway.ReasonImageTooLarge:   apperr.New(apperr.CodeGateway, "image_too_large", "ไฟล์รูปภาพมีขนาดใหญ่เกินไป"),
	gateway.ReasonQuotaExceeded:   apperr.New(apperr.CodeGateway, "quota_exceeded", "โควต้าการตรวจสอบสลิปหมดแล้ว กรุณาติดต่อผู้ดูแล"),
	gateway.ReasonUnauthorized:    apperr.New(apperr.CodeGateway, "gateway_unauthorized", "ระบบชำระเงินของร้านค้ายังไม่ได้ตั้งค่า กรุณาติดต่อผู้ดูแล"),
	gateway.ReasonRejected:        apperr.New(apperr.CodeGateway, "gateway_rejected", "ไม่สามารถทำรายการได้"),
	gateway.ReasonUnavailable:     apperr.New(apperr.CodeGateway, "gateway_unavailable", "ระบบชำระเงินไม่พร้อมใช้งาน กรุณาลองใหม่ภายหลัง"),
}

func mapGatewayError(err error) error {
	mapped, ok := gatewayErrors[gateway.ReasonOf(err)]
	if !ok {
		mapped = gatewayErrors[gateway.ReasonUnavailable]
	}
	return mapped.WithCause(err)
}

// mapRepoError преобразует ошибки репозитория и ledger в значения apperr.
// Уже классифицированные ошибки возвращаются как есть.
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if apperr.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		return ErrProductNotFound.WithCause(err)
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound.WithCause(err)
	case errors.Is(err, repository.ErrOrderNotFound):
		return ErrOrderNotFound.WithCause(err)
	case errors.Is(err, repository.ErrShopNotFound):
		return ErrShopNotFound.WithCause(err)
	case errors.Is(err, repository.ErrSubdomainTaken), errors.Is(err, repository.ErrUsernameTaken):
		return ErrSubdomainTaken.WithCause(err)
	case errors.Is(err, repository.ErrDuplicateTransRef):
		return ErrAlreadyUsed.WithCause(err)
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return ErrInsufficientCredit.WithCause(err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return ErrInvalidRequest.WithCause(err)
	default:
		return apperr.Internal.WithCause(err)
	}
}
