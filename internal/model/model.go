// Package model содержит доменные сущности витрины digistore.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShopID ограничивает каждый запрос арендатора. MasterShopID обозначает мастер-реестр.
type ShopID int64

// MasterShopID идентификатор арендатора мастер-домена.
const MasterShopID ShopID = 0

// IsMaster сообщает, относится ли идентификатор к мастер-реестру.
func (id ShopID) IsMaster() bool { return id == MasterShopID }

// Role описывает права пользователя внутри магазина.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleOwner Role = "owner"
)

// User учётная запись магазина или мастер-домена с кредитным балансом.
type User struct {
	ID            int64
	ShopID        ShopID
	Username      string
	Credit        decimal.Decimal
	Role          Role
	AgentDiscount decimal.Decimal
	IsActive      bool
	CreatedAt     time.Time
}

// Shop граница арендатора, обслуживаемая на собственном поддомене.
type Shop struct {
	ID        ShopID
	Subdomain string
	Name      string
	OwnerID   int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired сообщает, истекла ли аренда магазина к моменту now.
func (s *Shop) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// ShopSettings содержит реквизиты получателя для пополнений магазина.
type ShopSettings struct {
	ShopID          ShopID
	TrueMoneyPhone  string
	EasySlipToken   string
	ReceiverAccount string
}

// ProductType определяет способ выдачи товара.
type ProductType string

const (
	ProductTypeAccount ProductType = "account"
	ProductTypeForm    ProductType = "form"
	ProductTypeAPI     ProductType = "api"
)

// Product принадлежит ровно одному магазину.
type Product struct {
	ID          int64
	ShopID      ShopID
	Name        string
	Type        ProductType
	Price       decimal.Decimal
	Account     string
	IsActive    bool
	IsAutoPrice bool
	APITypeID   string
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusAPIPending OrderStatus = "api_pending"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid сообщает, является ли s известным статусом.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAPIPending, OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// Order запись об одной покупке.
type Order struct {
	ID               int64
	ShopID           ShopID
	UserID           int64
	ProductID        int64
	ProductName      string
	Price            decimal.Decimal
	Quantity         int
	Data             OrderPayload
	Status           OrderStatus
	APITransactionID string
	RetryCount       int
	LastError        string
	CreatedAt        time.Time
}

// Total возвращает price * quantity.
func (o *Order) Total() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// TopupMethod определяет внешний шлюз, через который прошло пополнение.
type TopupMethod string

const (
	TopupMethodVoucher TopupMethod = "truemoney"
	TopupMethodSlip    TopupMethod = "slip"
)

// Topup зачисленный внешний платёж.
type Topup struct {
	ID           int64
	ShopID       ShopID
	UserID       int64
	Method       TopupMethod
	TransRef     string
	Amount       decimal.Decimal
	SenderName   string
	ReceiverName string
	Status       string
	CreatedAt    time.Time
}

// RentalKind отличает создание магазина от продления.
type RentalKind string

const (
	RentalKindCreate RentalKind = "create"
	RentalKindRenew  RentalKind = "renew"
)

// ShopRental запись аренды, парная списанию в мастер-реестре.
type ShopRental struct {
	ID        int64
	ShopID    ShopID
	UserID    int64
	Kind      RentalKind
	Price     decimal.Decimal
	Days      int
	CreatedAt time.Time
}

// Balance содержит текущий баланс пользователя.
type Balance struct {
	Credit decimal.Decimal `json:"credit"`
}
