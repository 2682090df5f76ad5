package apperr

import (
	"encoding/json"
	"net/http"
)

// Body формирует JSON-тело ошибки {"error", "code", ...details}.
// Неклассифицированные ошибки становятся Internal, причина клиенту не отдаётся.
func Body(err error) (int, map[string]any) {
	typed := As(err)
	if typed == nil {
		typed = Internal
	}

	body := make(map[string]any, len(typed.Details())+2)
	for k, v := range typed.Details() {
		body[k] = v
	}
	body["error"] = typed.Message()
	body["code"] = typed.Key()
	return typed.HTTPStatus(), body
}

// Write отправляет err как JSON-ответ.
func Write(w http.ResponseWriter, err error) {
	status, body := Body(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
