package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/digistore/internal/apperr"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/repository"
)

var (
	errShopNotFound = apperr.New(apperr.CodeNotFound, "shop_not_found", "ไม่พบร้านค้า")
	errShopExpired  = apperr.New(apperr.CodeForbidden, "shop_expired", "ร้านค้านี้หมดอายุการใช้งาน กรุณาติดต่อเจ้าของร้าน")
)

// ShopResolver находит магазин по поддомену.
type ShopResolver interface {
	GetShopBySubdomain(ctx context.Context, subdomain string) (*model.Shop, error)
}

// TenantMiddleware сопоставляет хост запроса с магазином. Мастер-домен
// и его алиас www относятся к мастер-реестру.
type TenantMiddleware struct {
	shops        ShopResolver
	masterDomain string
	logger       *zap.Logger
	now          func() time.Time
}

// NewTenantMiddleware создаёт TenantMiddleware для хостов под masterDomain.
func NewTenantMiddleware(shops ShopResolver, masterDomain string, logger *zap.Logger) *TenantMiddleware {
	return &TenantMiddleware{
		shops:        shops,
		masterDomain: strings.ToLower(strings.TrimSuffix(masterDomain, ".")),
		logger:       logger,
		now:          time.Now,
	}
}

// Middleware определяет магазин и кладёт его идентификатор в контекст запроса.
func (t *TenantMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := t.subdomain(r.Host)
		if !ok {
			apperr.Write(w, errShopNotFound)
			return
		}

		if sub == "" {
			next.ServeHTTP(w, r.WithContext(WithShopID(r.Context(), model.MasterShopID)))
			return
		}

		shop, err := t.shops.GetShopBySubdomain(r.Context(), sub)
		if err != nil {
			if errors.Is(err, repository.ErrShopNotFound) {
				apperr.Write(w, errShopNotFound)
				return
			}
			t.logger.Error("resolve tenant", zap.String("subdomain", sub), zap.Error(err))
			apperr.Write(w, apperr.Internal)
			return
		}
		if shop.Expired(t.now()) {
			apperr.Write(w, errShopExpired)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithShopID(r.Context(), shop.ID)))
	})
}

// subdomain возвращает "" для мастер-домена и false для чужих хостов.
func (t *TenantMiddleware) subdomain(hostport string) (string, bool) {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if host == t.masterDomain || host == "www."+t.masterDomain {
		return "", true
	}

	sub, found := strings.CutSuffix(host, "."+t.masterDomain)
	if !found || sub == "" || strings.Contains(sub, ".") {
		return "", false
	}
	return sub, true
}

// GetShopIDFromContext возвращает определённый магазин.
func GetShopIDFromContext(ctx context.Context) (model.ShopID, bool) {
	id, ok := ctx.Value(shopIDKey).(model.ShopID)
	return id, ok
}

// WithShopID сохраняет магазин в ctx.
func WithShopID(ctx context.Context, id model.ShopID) context.Context {
	return context.WithValue(ctx, shopIDKey, id)
}
