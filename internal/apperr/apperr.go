// Package apperr определяет классификацию ошибок сервисов витрины
// и её отображение в HTTP-ответы.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code классифицирует ошибку для транспорта и повторов.
type Code string

const (
	CodeValidation   Code = "VALIDATION"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeDuplicate    Code = "DUPLICATE"
	CodeGateway      Code = "GATEWAY"
	CodeInternal     Code = "INTERNAL"
	CodeUnreconciled Code = "UNRECONCILED"
)

// Metadata описывает, как код отдаётся вызывающим.
type Metadata struct {
	HTTPStatus int
	Retryable  bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:   {HTTPStatus: http.StatusBadRequest},
	CodeUnauthorized: {HTTPStatus: http.StatusUnauthorized},
	CodeForbidden:    {HTTPStatus: http.StatusForbidden},
	CodeNotFound:     {HTTPStatus: http.StatusNotFound},
	CodeConflict:     {HTTPStatus: http.StatusBadRequest},
	CodeDuplicate:    {HTTPStatus: http.StatusConflict, Retryable: true},
	CodeGateway:      {HTTPStatus: http.StatusBadRequest},
	CodeInternal:     {HTTPStatus: http.StatusInternalServerError, Retryable: true},
	CodeUnreconciled: {HTTPStatus: http.StatusInternalServerError},
}

// MetadataFor возвращает метаданные code, по умолчанию CodeInternal.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error классифицированная ошибка со стабильным ключом и сообщением для пользователя.
type Error struct {
	code    Code
	key     string
	message string
	details map[string]any
	cause   error
}

// New создаёт ошибку. key стабильный машинный идентификатор, message показывается пользователю.
func New(code Code, key, message string) *Error {
	return &Error{code: code, key: key, message: message}
}

// Wrap создаёт ошибку с исходной причиной.
func Wrap(code Code, key string, err error, message string) *Error {
	return &Error{code: code, key: key, message: message, cause: err}
}

// Code возвращает класс ошибки.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

// Key возвращает стабильный идентификатор.
func (e *Error) Key() string {
	if e == nil {
		return ""
	}
	return e.key
}

// Message возвращает сообщение для пользователя.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details возвращает дополнительные поля ответа.
func (e *Error) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// HTTPStatus возвращает HTTP-статус, соответствующий коду.
func (e *Error) HTTPStatus() int {
	return MetadataFor(e.Code()).HTTPStatus
}

// WithDetails возвращает копию e с дополнительными полями.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil {
		return nil
	}
	c := *e
	c.details = details
	return &c
}

// WithCause возвращает копию e, оборачивающую err.
func (e *Error) WithCause(err error) *Error {
	if e == nil {
		return nil
	}
	c := *e
	c.cause = err
	return &c
}

// WithMessage возвращает копию e с другим сообщением для пользователя.
func (e *Error) WithMessage(message string) *Error {
	if e == nil {
		return nil
	}
	c := *e
	c.message = message
	return &c
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.code, e.key, e.message, e.cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.code, e.key, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is сравнивает ошибки по ключу, поэтому копии из WithDetails совпадают с исходной.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.key == t.key
}

// As извлекает *Error из цепочки ошибок.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// Internal возвращается при непредвиденных сбоях. Подробности остаются в логах.
var Internal = New(CodeInternal, "internal_error", "เกิดข้อผิดพลาดภายในระบบ กรุณาลองใหม่อีกครั้ง")

// Unauthorized возвращается, если сессия отсутствует или недействительна.
var Unauthorized = New(CodeUnauthorized, "unauthorized", "กรุณาเข้าสู่ระบบ")

// Forbidden возвращается, если у вызывающего нет нужной роли.
var Forbidden = New(CodeForbidden, "forbidden", "ไม่มีสิทธิ์เข้าถึง")
