package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/digistore/internal/model"
)

var errBeginTx = errors.New("begin tx")

// Tx набор операций, доступных внутри транзакции. Каждый метод Lock*
// выполняет SELECT ... FOR UPDATE.
type Tx interface {
	LockProduct(ctx context.Context, shopID model.ShopID, productID int64) (*model.Product, error)
	UpdateProductAccount(ctx context.Context, productID int64, account string) error

	LockUser(ctx context.Context, shopID model.ShopID, userID int64) (*model.User, error)
	SetUserCredit(ctx context.Context, userID int64, credit decimal.Decimal) error
	InsertUser(ctx context.Context, u *model.User) (int64, error)

	InsertOrder(ctx context.Context, o *model.Order) (int64, error)
	LockOrder(ctx context.Context, shopID model.ShopID, orderID int64) (*model.Order, error)
	DeleteOrder(ctx context.Context, orderID int64) error
	SetOrderResult(ctx context.Context, orderID int64, status model.OrderStatus, data model.OrderPayload) error
	RecordOrderAttempt(ctx context.Context, orderID int64, lastError string) error

	TopupRefExists(ctx context.Context, shopID model.ShopID, transRef string) (bool, error)
	InsertTopup(ctx context.Context, t *model.Topup) (int64, error)

	LockShop(ctx context.Context, shopID model.ShopID) (*model.Shop, error)
	InsertShop(ctx context.Context, s *model.Shop) (model.ShopID, error)
	SetShopOwner(ctx context.Context, shopID model.ShopID, ownerID int64) error
	SetShopExpiry(ctx context.Context, shopID model.ShopID, expiresAt time.Time) error
	InsertShopSettings(ctx context.Context, s *model.ShopSettings) error
	InsertRental(ctx context.Context, r *model.ShopRental) (int64, error)
}

// WithTx выполняет fn в транзакции. Tx действителен только внутри fn.
// Транзакция откатывается при ошибке или панике fn, иначе фиксируется.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		return r.runTx(ctx, fn)
	})
}

func (r *PostgresRepository) runTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: %w", errBeginTx, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// shopParam отображает мастер-реестр в NULL shop_id.
func shopParam(id model.ShopID) *int64 {
	if id.IsMaster() {
		return nil
	}
	v := int64(id)
	return &v
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

const productColumns = `id, shop_id, name, type, price::text, account, is_active, is_auto_price, api_type_id`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p        model.Product
		shopID   int64
		typ      string
		priceStr string
	)
	err := row.Scan(&p.ID, &shopID, &p.Name, &typ, &priceStr, &p.Account, &p.IsActive, &p.IsAutoPrice, &p.APITypeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.ShopID = model.ShopID(shopID)
	p.Type = model.ProductType(typ)
	if p.Price, err = parseDecimal(priceStr); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) LockProduct(ctx context.Context, shopID model.ShopID, productID int64) (*model.Product, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND shop_id = $2 FOR UPDATE`,
		productID, int64(shopID),
	)
	return scanProduct(row)
}

func (t *pgTx) UpdateProductAccount(ctx context.Context, productID int64, account string) error {
	_, err := t.tx.Exec(ctx, `UPDATE products SET account = $2 WHERE id = $1`, productID, account)
	if err != nil {
		return fmt.Errorf("update product account: %w", err)
	}
	return nil
}

const userColumns = `id, shop_id, username, credit::text, role, agent_discount::text, is_active, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u           model.User
		shopID      *int64
		role        string
		creditStr   string
		discountStr string
	)
	err := row.Scan(&u.ID, &shopID, &u.Username, &creditStr, &role, &discountStr, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if shopID != nil {
		u.ShopID = model.ShopID(*shopID)
	}
	u.Role = model.Role(role)
	if u.Credit, err = parseDecimal(creditStr); err != nil {
		return nil, err
	}
	if u.AgentDiscount, err = parseDecimal(discountStr); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *pgTx) LockUser(ctx context.Context, shopID model.ShopID, userID int64) (*model.User, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE id = $1 AND shop_id IS NOT DISTINCT FROM $2::bigint AND is_active
		 FOR UPDATE`,
		userID, shopParam(shopID),
	)
	return scanUser(row)
}

func (t *pgTx) SetUserCredit(ctx context.Context, userID int64, credit decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET credit = $2::numeric WHERE id = $1`, userID, money(credit))
	if err != nil {
		return fmt.Errorf("update credit: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrUserNotFound
	}
	return nil
}

func (t *pgTx) InsertUser(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO users (shop_id, username, credit, role, agent_discount)
		 VALUES ($1::bigint, $2, $3::numeric, $4, $5::numeric)
		 RETURNING id`,
		shopParam(u.ShopID), u.Username, money(u.Credit), string(u.Role), money(u.AgentDiscount),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) (int64, error) {
	data, err := o.Data.Encode()
	if err != nil {
		return 0, err
	}

	var id int64
	err = t.tx.QueryRow(ctx,
		`INSERT INTO orders (shop_id, user_id, product_id, price, quantity, data_kind, data, status, api_transaction_id)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
		 RETURNING id`,
		int64(o.ShopID), o.UserID, o.ProductID, money(o.Price), o.Quantity,
		string(o.Data.Kind), data, string(o.Status), nullIfEmpty(o.APITransactionID),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

const orderColumns = `o.id, o.shop_id, o.user_id, o.product_id, p.name, o.price::text, o.quantity,
	o.data_kind, o.data, o.status, COALESCE(o.api_transaction_id, ''), o.retry_count, o.last_error, o.created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o        model.Order
		shopID   int64
		priceStr string
		kind     string
		data     string
		status   string
	)
	err := row.Scan(&o.ID, &shopID, &o.UserID, &o.ProductID, &o.ProductName, &priceStr, &o.Quantity,
		&kind, &data, &status, &o.APITransactionID, &o.RetryCount, &o.LastError, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.ShopID = model.ShopID(shopID)
	o.Status = model.OrderStatus(status)
	if o.Price, err = parseDecimal(priceStr); err != nil {
		return nil, err
	}
	if o.Data, err = model.DecodePayload(model.PayloadKind(kind), data); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) LockOrder(ctx context.Context, shopID model.ShopID, orderID int64) (*model.Order, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o JOIN products p ON p.id = o.product_id
		 WHERE o.id = $1 AND o.shop_id = $2
		 FOR UPDATE OF o`,
		orderID, int64(shopID),
	)
	return scanOrder(row)
}

func (t *pgTx) DeleteOrder(ctx context.Context, orderID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) SetOrderResult(ctx context.Context, orderID int64, status model.OrderStatus, data model.OrderPayload) error {
	encoded, err := data.Encode()
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, data_kind = $3, data = $4 WHERE id = $1`,
		orderID, string(status), string(data.Kind), encoded,
	)
	if err != nil {
		return fmt.Errorf("update order result: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) RecordOrderAttempt(ctx context.Context, orderID int64, lastError string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE orders SET retry_count = retry_count + 1, last_error = $2 WHERE id = $1`,
		orderID, lastError,
	)
	if err != nil {
		return fmt.Errorf("record order attempt: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) TopupRefExists(ctx context.Context, shopID model.ShopID, transRef string) (bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM topup_history
		 WHERE COALESCE(shop_id, 0) = $1 AND trans_ref = $2
		 FOR UPDATE`,
		int64(shopID), transRef,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check trans ref: %w", err)
	}
	return true, nil
}

func (t *pgTx) InsertTopup(ctx context.Context, tp *model.Topup) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO topup_history (shop_id, user_id, method, trans_ref, amount, sender_name, receiver_name, status)
		 VALUES ($1::bigint, $2, $3, $4, $5::numeric, $6, $7, $8)
		 RETURNING id`,
		shopParam(tp.ShopID), tp.UserID, string(tp.Method), tp.TransRef, money(tp.Amount),
		tp.SenderName, tp.ReceiverName, tp.Status,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateTransRef, tp.TransRef)
		}
		return 0, fmt.Errorf("insert topup: %w", err)
	}
	return id, nil
}

const shopColumns = `id, subdomain, name, COALESCE(owner_id, 0), expires_at, created_at`

func scanShop(row pgx.Row) (*model.Shop, error) {
	var (
		s  model.Shop
		id int64
	)
	if err := row.Scan(&id, &s.Subdomain, &s.Name, &s.OwnerID, &s.ExpiresAt, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("scan shop: %w", err)
	}
	s.ID = model.ShopID(id)
	return &s, nil
}

func (t *pgTx) LockShop(ctx context.Context, shopID model.ShopID) (*model.Shop, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1 FOR UPDATE`, int64(shopID))
	return scanShop(row)
}

func (t *pgTx) InsertShop(ctx context.Context, s *model.Shop) (model.ShopID, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO shops (subdomain, name, expires_at) VALUES ($1, $2, $3) RETURNING id`,
		s.Subdomain, s.Name, s.ExpiresAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrSubdomainTaken, s.Subdomain)
		}
		return 0, fmt.Errorf("insert shop: %w", err)
	}
	return model.ShopID(id), nil
}

func (t *pgTx) SetShopOwner(ctx context.Context, shopID model.ShopID, ownerID int64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE shops SET owner_id = $2 WHERE id = $1`, int64(shopID), ownerID); err != nil {
		return fmt.Errorf("set shop owner: %w", err)
	}
	return nil
}

func (t *pgTx) SetShopExpiry(ctx context.Context, shopID model.ShopID, expiresAt time.Time) error {
	if _, err := t.tx.Exec(ctx, `UPDATE shops SET expires_at = $2 WHERE id = $1`, int64(shopID), expiresAt); err != nil {
		return fmt.Errorf("set shop expiry: %w", err)
	}
	return nil
}

func (t *pgTx) InsertShopSettings(ctx context.Context, s *model.ShopSettings) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO shop_settings (shop_id, truemoney_phone, easyslip_token, receiver_account)
		 VALUES ($1, $2, $3, $4)`,
		int64(s.ShopID), s.TrueMoneyPhone, s.EasySlipToken, s.ReceiverAccount,
	)
	if err != nil {
		return fmt.Errorf("insert shop settings: %w", err)
	}
	return nil
}

func (t *pgTx) InsertRental(ctx context.Context, rent *model.ShopRental) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO shop_rentals (shop_id, user_id, kind, price, days)
		 VALUES ($1, $2, $3, $4::numeric, $5)
		 RETURNING id`,
		int64(rent.ShopID), rent.UserID, string(rent.Kind), money(rent.Price), rent.Days,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert rental: %w", err)
	}
	return id, nil
}
