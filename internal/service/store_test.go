package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/digistore/internal/events"
	"github.com/mmeshcher/digistore/internal/gateway/easyslip"
	"github.com/mmeshcher/digistore/internal/gateway/truemoney"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/provider"
	"github.com/mmeshcher/digistore/internal/repository"
)

// memStore реализует Repository в памяти. Вызовы WithTx выполняются по одному
// и при ошибке или панике fn откатываются к снимку.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]model.User
	products map[int64]model.Product
	orders   map[int64]model.Order
	topups   map[int64]model.Topup
	shops    map[model.ShopID]model.Shop
	settings map[model.ShopID]model.ShopSettings
	rentals  []model.ShopRental

	fail    map[string]error
	txCount int
	now     func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		nextID:   1000,
		users:    map[int64]model.User{},
		products: map[int64]model.Product{},
		orders:   map[int64]model.Order{},
		topups:   map[int64]model.Topup{},
		shops:    map[model.ShopID]model.Shop{},
		settings: map[model.ShopID]model.ShopSettings{},
		fail:     map[string]error{},
		now:      time.Now,
	}
}

type memSnapshot struct {
	nextID   int64
	users    map[int64]model.User
	products map[int64]model.Product
	orders   map[int64]model.Order
	topups   map[int64]model.Topup
	shops    map[model.ShopID]model.Shop
	settings map[model.ShopID]model.ShopSettings
	rentals  []model.ShopRental
}

func (s *memStore) snapshot() memSnapshot {
	return memSnapshot{
		nextID:   s.nextID,
		users:    maps.Clone(s.users),
		products: maps.Clone(s.products),
		orders:   maps.Clone(s.orders),
		topups:   maps.Clone(s.topups),
		shops:    maps.Clone(s.shops),
		settings: maps.Clone(s.settings),
		rentals:  append([]model.ShopRental(nil), s.rentals...),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.nextID = snap.nextID
	s.users = snap.users
	s.products = snap.products
	s.orders = snap.orders
	s.topups = snap.topups
	s.shops = snap.shops
	s.settings = snap.settings
	s.rentals = snap.rentals
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) failure(op string) error {
	return s.fail[op]
}

// setFail нельзя вызывать во время транзакции.
func (s *memStore) setFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(&memTx{s: s}); err != nil {
		return err
	}
	if err := s.failure("Commit"); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *memStore) Close() error { return nil }
func (s *memStore) Ping(ctx context.Context) error { return s.failure("Ping") }

func (s *memStore) GetProduct(ctx context.Context, shopID model.ShopID, productID int64) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok || p.ShopID != shopID {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (s *memStore) GetUser(ctx context.Context, shopID model.ShopID, userID int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.ShopID != shopID {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (s *memStore) GetOrdersByUser(ctx context.Context, shopID model.ShopID, userID int64, limit int) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Order
	for _, o := range s.orders {
		if o.ShopID == shopID && o.UserID == userID {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *memStore) GetTopupsByUser(ctx context.Context, shopID model.ShopID, userID int64, limit int) ([]model.Topup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Topup
	for _, t := range s.topups {
		if t.ShopID == shopID && t.UserID == userID {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *memStore) GetShopSettings(ctx context.Context, shopID model.ShopID) (*model.ShopSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[shopID]
	if !ok {
		return nil, repository.ErrShopNotFound
	}
	return &st, nil
}

func (s *memStore) CountStalePendingOrders(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.Status == model.OrderStatusAPIPending && o.CreatedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]repository.StalePendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []repository.StalePendingOrder
	for _, o := range s.orders {
		if o.Status == model.OrderStatusAPIPending && o.CreatedAt.Before(before) {
			res = append(res, repository.StalePendingOrder{
				ID: o.ID, ShopID: o.ShopID, UserID: o.UserID,
				APITransactionID: o.APITransactionID, RetryCount: o.RetryCount,
				LastError: o.LastError, CreatedAt: o.CreatedAt,
			})
		}
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// вспомогательные методы для тестов вне транзакций

func (s *memStore) addUser(u model.User) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.id()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	u.IsActive = true
	s.users[u.ID] = u
	return u.ID
}

func (s *memStore) addProduct(p model.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.products[p.ID] = p
	return p.ID
}

func (s *memStore) user(id int64) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memStore) product(id int64) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memStore) order(id int64) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) topupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topups)
}

func (s *memStore) transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

type memTx struct {
	s *memStore
}

func (t *memTx) LockProduct(ctx context.Context, shopID model.ShopID, productID int64) (*model.Product, error) {
	p, ok := t.s.products[productID]
	if !ok || p.ShopID != shopID {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (t *memTx) UpdateProductAccount(ctx context.Context, productID int64, account string) error {
	if err := t.s.failure("UpdateProductAccount"); err != nil {
		return err
	}
	p := t.s.products[productID]
	p.Account = account
	t.s.products[productID] = p
	return nil
}

func (t *memTx) LockUser(ctx context.Context, shopID model.ShopID, userID int64) (*model.User, error) {
	u, ok := t.s.users[userID]
	if !ok || u.ShopID != shopID || !u.IsActive {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (t *memTx) SetUserCredit(ctx context.Context, userID int64, credit decimal.Decimal) error {
	if credit.IsNegative() {
		return errors.New("violates check constraint users_credit_check")
	}
	u, ok := t.s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Credit = credit
	t.s.users[userID] = u
	return nil
}

func (t *memTx) InsertUser(ctx context.Context, u *model.User) (int64, error) {
	for _, existing := range t.s.users {
		if existing.ShopID == u.ShopID && strings.EqualFold(existing.Username, u.Username) {
			return 0, fmt.Errorf("%w: %s", repository.ErrUsernameTaken, u.Username)
		}
	}
	nu := *u
	nu.ID = t.s.id()
	nu.IsActive = true
	t.s.users[nu.ID] = nu
	return nu.ID, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *model.Order) (int64, error) {
	if err := t.s.failure("InsertOrder"); err != nil {
		return 0, err
	}
	if _, err := o.Data.Encode(); err != nil {
		return 0, err
	}
	no := *o
	no.ID = t.s.id()
	no.CreatedAt = t.s.now()
	t.s.orders[no.ID] = no
	return no.ID, nil
}

func (t *memTx) LockOrder(ctx context.Context, shopID model.ShopID, orderID int64) (*model.Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok || o.ShopID != shopID {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (t *memTx) DeleteOrder(ctx context.Context, orderID int64) error {
	if _, ok := t.s.orders[orderID]; !ok {
		return repository.ErrOrderNotFound
	}
	delete(t.s.orders, orderID)
	return nil
}

func (t *memTx) SetOrderResult(ctx context.Context, orderID int64, status model.OrderStatus, data model.OrderPayload) error {
	if err := t.s.failure("SetOrderResult"); err != nil {
		return err
	}
	o, ok := t.s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	o.Data = data
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) RecordOrderAttempt(ctx context.Context, orderID int64, lastError string) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.RetryCount++
	o.LastError = lastError
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) TopupRefExists(ctx context.Context, shopID model.ShopID, transRef string) (bool, error) {
	for _, tp := range t.s.topups {
		if tp.ShopID == shopID && tp.TransRef == transRef {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertTopup(ctx context.Context, tp *model.Topup) (int64, error) {
	if err := t.s.failure("InsertTopup"); err != nil {
		return 0, err
	}
	if exists, _ := t.TopupRefExists(ctx, tp.ShopID, tp.TransRef); exists {
		return 0, fmt.Errorf("%w: %s", repository.ErrDuplicateTransRef, tp.TransRef)
	}
	nt := *tp
	nt.ID = t.s.id()
	nt.CreatedAt = t.s.now()
	t.s.topups[nt.ID] = nt
	return nt.ID, nil
}

func (t *memTx) LockShop(ctx context.Context, shopID model.ShopID) (*model.Shop, error) {
	sh, ok := t.s.shops[shopID]
	if !ok {
		return nil, repository.ErrShopNotFound
	}
	return &sh, nil
}

func (t *memTx) InsertShop(ctx context.Context, sh *model.Shop) (model.ShopID, error) {
	for _, existing := range t.s.shops {
		if strings.EqualFold(existing.Subdomain, sh.Subdomain) {
			return 0, fmt.Errorf("%w: %s", repository.ErrSubdomainTaken, sh.Subdomain)
		}
	}
	ns := *sh
	ns.ID = model.ShopID(t.s.id())
	ns.CreatedAt = t.s.now()
	t.s.shops[ns.ID] = ns
	return ns.ID, nil
}

func (t *memTx) SetShopOwner(ctx context.Context, shopID model.ShopID, ownerID int64) error {
	sh := t.s.shops[shopID]
	sh.OwnerID = ownerID
	t.s.shops[shopID] = sh
	return nil
}

func (t *memTx) SetShopExpiry(ctx context.Context, shopID model.ShopID, expiresAt time.Time) error {
	sh := t.s.shops[shopID]
	sh.ExpiresAt = expiresAt
	t.s.shops[shopID] = sh
	return nil
}

func (t *memTx) InsertShopSettings(ctx context.Context, st *model.ShopSettings) error {
	if err := t.s.failure("InsertShopSettings"); err != nil {
		return err
	}
	t.s.settings[st.ShopID] = *st
	return nil
}

func (t *memTx) InsertRental(ctx context.Context, r *model.ShopRental) (int64, error) {
	nr := *r
	nr.ID = t.s.id()
	t.s.rentals = append(t.s.rentals, nr)
	return nr.ID, nil
}

type fakeProvider struct {
	mu        sync.Mutex
	buy       func(ctx context.Context, typeID, account string) (json.RawMessage, error)
	prices    []provider.PriceItem
	pricesErr error
	calls     []string
}

func (p *fakeProvider) Buy(ctx context.Context, typeID, account string) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls = append(p.calls, typeID+"|"+account)
	p.mu.Unlock()
	return p.buy(ctx, typeID, account)
}

func (p *fakeProvider) Prices(ctx context.Context) ([]provider.PriceItem, error) {
	return p.prices, p.pricesErr
}

type fakeVouchers struct {
	calls  int
	mobile string
	redeem func(voucher string) (*truemoney.Redemption, error)
}

func (v *fakeVouchers) Redeem(ctx context.Context, mobile, voucher string) (*truemoney.Redemption, error) {
	v.calls++
	v.mobile = mobile
	return v.redeem(voucher)
}

type fakeSlips struct {
	calls int
	token string
	slip  *easyslip.Slip
	err   error
}

func (f *fakeSlips) Verify(ctx context.Context, token, filename string, image io.Reader) (*easyslip.Slip, error) {
	f.calls++
	f.token = token
	if f.err != nil {
		return nil, f.err
	}
	s := *f.slip
	return &s, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []events.OrderEvent
	topups []events.TopupEvent
}

func (p *recordingPublisher) OrderPlaced(_ context.Context, e events.OrderEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, e)
}

func (p *recordingPublisher) TopupCredited(_ context.Context, e events.TopupEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topups = append(p.topups, e)
}
