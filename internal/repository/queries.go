package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/digistore/internal/model"
)

// GetProduct возвращает товар без блокировки.
func (r *PostgresRepository) GetProduct(ctx context.Context, shopID model.ShopID, productID int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND shop_id = $2`,
		productID, int64(shopID),
	)
	return scanProduct(row)
}

// GetUser возвращает пользователя магазина.
func (r *PostgresRepository) GetUser(ctx context.Context, shopID model.ShopID, userID int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND shop_id IS NOT DISTINCT FROM $2::bigint`,
		userID, shopParam(shopID),
	)
	return scanUser(row)
}

// GetOrdersByUser возвращает заказы пользователя в магазине, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, shopID model.ShopID, userID int64, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o JOIN products p ON p.id = o.product_id
		 WHERE o.shop_id = $1 AND o.user_id = $2
		 ORDER BY o.created_at DESC, o.id DESC
		 LIMIT $3`,
		int64(shopID), userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetTopupsByUser возвращает зачисленные пополнения пользователя, новые первыми.
func (r *PostgresRepository) GetTopupsByUser(ctx context.Context, shopID model.ShopID, userID int64, limit int) ([]model.Topup, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, method, trans_ref, amount::text, sender_name, receiver_name, status, created_at
		 FROM topup_history
		 WHERE shop_id IS NOT DISTINCT FROM $1::bigint AND user_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		shopParam(shopID), userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select topups: %w", err)
	}
	defer rows.Close()

	var res []model.Topup
	for rows.Next() {
		var (
			t         model.Topup
			method    string
			amountStr string
		)
		if err := rows.Scan(&t.ID, &method, &t.TransRef, &amountStr, &t.SenderName, &t.ReceiverName, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan topup: %w", err)
		}
		t.ShopID = shopID
		t.UserID = userID
		t.Method = model.TopupMethod(method)
		if t.Amount, err = parseDecimal(amountStr); err != nil {
			return nil, err
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetShopBySubdomain находит магазин по поддомену.
func (r *PostgresRepository) GetShopBySubdomain(ctx context.Context, subdomain string) (*model.Shop, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+shopColumns+` FROM shops WHERE lower(subdomain) = $1`,
		strings.ToLower(subdomain),
	)
	return scanShop(row)
}

// GetShopSettings возвращает реквизиты получателя пополнений магазина.
func (r *PostgresRepository) GetShopSettings(ctx context.Context, shopID model.ShopID) (*model.ShopSettings, error) {
	s := model.ShopSettings{ShopID: shopID}
	err := r.pool.QueryRow(ctx,
		`SELECT truemoney_phone, easyslip_token, receiver_account FROM shop_settings WHERE shop_id = $1`,
		int64(shopID),
	).Scan(&s.TrueMoneyPhone, &s.EasySlipToken, &s.ReceiverAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("get shop settings: %w", err)
	}
	return &s, nil
}

// StalePendingOrder описывает api-заказ, всё ещё ожидающий выдачи.
type StalePendingOrder struct {
	ID               int64
	ShopID           model.ShopID
	UserID           int64
	APITransactionID string
	RetryCount       int
	LastError        string
	CreatedAt        time.Time
}

// CountStalePendingOrders считает заказы api_pending, созданные раньше before.
func (r *PostgresRepository) CountStalePendingOrders(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE status = $1 AND created_at < $2`,
		string(model.OrderStatusAPIPending), before,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale pending orders: %w", err)
	}
	return n, nil
}

// GetStalePendingOrders возвращает заказы api_pending, созданные раньше before, старые первыми.
func (r *PostgresRepository) GetStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]StalePendingOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, shop_id, user_id, COALESCE(api_transaction_id, ''), retry_count, last_error, created_at
		 FROM orders
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3`,
		string(model.OrderStatusAPIPending), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale pending orders: %w", err)
	}
	defer rows.Close()

	var res []StalePendingOrder
	for rows.Next() {
		var (
			o      StalePendingOrder
			shopID int64
		)
		if err := rows.Scan(&o.ID, &shopID, &o.UserID, &o.APITransactionID, &o.RetryCount, &o.LastError, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		o.ShopID = model.ShopID(shopID)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
