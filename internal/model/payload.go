package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadKind помечает содержимое колонки data заказа.
type PayloadKind string

const (
	PayloadCredentials PayloadKind = "credentials"
	PayloadForm        PayloadKind = "form"
	PayloadFulfillment PayloadKind = "fulfillment"
	PayloadNone        PayloadKind = ""
)

// OrderPayload данные, выданные по заказу. Вид определяется полем Kind.
type OrderPayload struct {
	Kind        PayloadKind
	Lines       []string
	Form        map[string]any
	Fulfillment json.RawMessage
}

// CredentialPayload содержит выданные строки учётных данных.
func CredentialPayload(lines []string) OrderPayload {
	return OrderPayload{Kind: PayloadCredentials, Lines: lines}
}

// FormPayload содержит данные формы, введённые покупателем.
func FormPayload(form map[string]any) OrderPayload {
	return OrderPayload{Kind: PayloadForm, Form: form}
}

// FulfillmentPayload содержит ответ поставщика.
func FulfillmentPayload(raw json.RawMessage) OrderPayload {
	return OrderPayload{Kind: PayloadFulfillment, Fulfillment: raw}
}

// Encode приводит данные к виду для хранения в колонке. Учётные данные
// сохраняются построчно, остальные виды в JSON.
func (p OrderPayload) Encode() (string, error) {
	switch p.Kind {
	case PayloadNone:
		return "", nil
	case PayloadCredentials:
		return strings.Join(p.Lines, "\n"), nil
	case PayloadForm:
		b, err := json.Marshal(p.Form)
		if err != nil {
			return "", fmt.Errorf("encode form payload: %w", err)
		}
		return string(b), nil
	case PayloadFulfillment:
		if len(p.Fulfillment) == 0 {
			return "null", nil
		}
		return string(p.Fulfillment), nil
	default:
		return "", fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}

// DecodePayload восстанавливает данные по метке вида и значению колонки.
func DecodePayload(kind PayloadKind, data string) (OrderPayload, error) {
	switch kind {
	case PayloadNone:
		return OrderPayload{}, nil
	case PayloadCredentials:
		return CredentialPayload(SplitLines(data)), nil
	case PayloadForm:
		form := map[string]any{}
		if err := json.Unmarshal([]byte(data), &form); err != nil {
			return OrderPayload{}, fmt.Errorf("decode form payload: %w", err)
		}
		return FormPayload(form), nil
	case PayloadFulfillment:
		return FulfillmentPayload(json.RawMessage(data)), nil
	default:
		return OrderPayload{}, fmt.Errorf("unknown payload kind %q", kind)
	}
}

// MarshalJSON отдаёт данные в ответах API.
func (p OrderPayload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PayloadCredentials:
		return json.Marshal(p.Lines)
	case PayloadForm:
		return json.Marshal(p.Form)
	case PayloadFulfillment:
		if len(p.Fulfillment) == 0 {
			return []byte("null"), nil
		}
		return p.Fulfillment, nil
	default:
		return []byte("null"), nil
	}
}

// SplitLines возвращает непустые строки учётных данных в исходном порядке.
func SplitLines(blob string) []string {
	raw := strings.Split(strings.ReplaceAll(blob, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}
