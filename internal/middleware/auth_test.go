package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/digistore/internal/model"
)

const testShop model.ShopID = 7

func issueToken(a *AuthMiddleware, userID int64, shopID model.ShopID, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(signingMethod, Claims{
		Role:   role,
		ShopID: int64(shopID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString(a.secretKey)
}

func tenantRequest(shopID model.ShopID) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	return r.WithContext(WithShopID(r.Context(), shopID))
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		if id != 42 {
			t.Fatalf("user id from context = %d, want 42", id)
		}
		if role := GetRoleFromContext(r.Context()); role != model.RoleAgent {
			t.Fatalf("role from context = %q, want agent", role)
		}
	})

	token, err := issueToken(m, 42, testShop, model.RoleAgent, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	r := tenantRequest(testShop)
	r.AddCookie(&http.Cookie{Name: authCookieName, Value: token})

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithBearerHeader(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	token, err := issueToken(m, 42, model.MasterShopID, model.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { nextCalled = true })

	r := tenantRequest(model.MasterShopID)
	r.Header.Set("Authorization", "Bearer "+token)
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	valid, _ := issueToken(m, 42, testShop, model.RoleUser, time.Hour)
	otherShop, _ := issueToken(m, 42, testShop+1, model.RoleUser, time.Hour)
	expired, _ := issueToken(m, 42, testShop, model.RoleUser, -time.Minute)
	forged, _ := issueToken(other, 42, testShop, model.RoleUser, time.Hour)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ShopID:           int64(testShop),
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))

	tests := []struct {
		name   string
		token  string
		tenant bool
	}{
		{name: "no token", tenant: true},
		{name: "garbage", token: "not-a-jwt", tenant: true},
		{name: "other shop", token: otherShop, tenant: true},
		{name: "expired", token: expired, tenant: true},
		{name: "forged", token: forged, tenant: true},
		{name: "no subject", token: noSubject, tenant: true},
		{name: "no tenant", token: valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.tenant {
				r = tenantRequest(testShop)
			}
			if tt.token != "" {
				r.AddCookie(&http.Cookie{Name: authCookieName, Value: tt.token})
			}

			w := httptest.NewRecorder()
			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(model.RoleOwner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodPost, "/admin", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r.WithContext(WithUser(r.Context(), 1, model.RoleUser)))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, r.WithContext(WithUser(r.Context(), 1, model.RoleOwner)))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
