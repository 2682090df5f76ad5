// Package middleware содержит HTTP middleware сервиса digistore.
package middleware

import (
	"context"
	"crypto/rand"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/digistore/internal/apperr"
	"github.com/mmeshcher/digistore/internal/model"
)

type contextKey string

const (
	userIDKey    contextKey = "userID"
	roleKey      contextKey = "role"
	shopIDKey    contextKey = "shopID"
	requestIDKey contextKey = "requestID"
)

const authCookieName = "auth_token"

var signingMethod = jwt.SigningMethodHS256

// Claims содержит утверждения токена сессии. Subject хранит идентификатор пользователя.
type Claims struct {
	Role   model.Role `json:"role"`
	ShopID int64      `json:"shop_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет токен сессии, выданный сервисом учётных записей.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware. Пустой секрет заменяется случайным,
// и тогда любой токен отклоняется.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет токен из cookie или заголовка Authorization и кладёт
// идентификатор и роль пользователя в контекст. Магазин токена должен
// совпадать с магазином запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			apperr.Write(w, apperr.Unauthorized)
			return
		}

		claims, err := a.parse(raw)
		if err != nil {
			apperr.Write(w, apperr.Unauthorized.WithCause(err))
			return
		}

		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || userID <= 0 {
			apperr.Write(w, apperr.Unauthorized)
			return
		}

		shopID, ok := GetShopIDFromContext(r.Context())
		if !ok || model.ShopID(claims.ShopID) != shopID {
			apperr.Write(w, apperr.Unauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, roleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthMiddleware) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(token *jwt.Token) (any, error) {
			return a.secretKey, nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(authCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireRole пропускает только пользователей с одной из ролей roles.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRoleFromContext(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			apperr.Write(w, apperr.Forbidden)
		})
	}
}

// GetUserIDFromContext возвращает идентификатор аутентифицированного пользователя.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// GetRoleFromContext возвращает роль аутентифицированного пользователя.
func GetRoleFromContext(ctx context.Context) model.Role {
	role, _ := ctx.Value(roleKey).(model.Role)
	return role
}

// WithUser сохраняет аутентифицированного пользователя в ctx.
func WithUser(ctx context.Context, userID int64, role model.Role) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}
