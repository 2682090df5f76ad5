// Package validation проверяет входные данные запросов до бизнес-логики.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate         = newValidator()
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,30}[a-z0-9])?$`)
	reservedNames    = map[string]struct{}{"www": {}, "api": {}, "admin": {}, "master": {}, "mail": {}}
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("subdomain", func(fl validator.FieldLevel) bool {
		return IsValidSubdomain(fl.Field().String())
	})
	return v
}

// Struct валидирует s и возвращает поле -> сообщение или nil, если s корректна.
func Struct(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "required"
		case "min", "gte":
			out[field] = "must be at least " + fe.Param()
		case "max", "lte":
			out[field] = "must be at most " + fe.Param()
		case "gt":
			out[field] = "must be greater than " + fe.Param()
		case "oneof":
			out[field] = "must be one of: " + fe.Param()
		case "subdomain":
			out[field] = "invalid subdomain"
		default:
			out[field] = "invalid value"
		}
	}
	return out
}

// IsValidSubdomain сообщает, можно ли использовать name как поддомен магазина.
func IsValidSubdomain(name string) bool {
	if _, reserved := reservedNames[name]; reserved {
		return false
	}
	return subdomainPattern.MatchString(name)
}
