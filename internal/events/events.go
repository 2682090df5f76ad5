// Package events публикует доменные события магазина после фиксации транзакции.
// Ошибки публикации логируются и не доходят до вызывающего.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const subjectPrefix = "digistore."

// OrderEvent публикуется, когда заказ переходит в статус.
type OrderEvent struct {
	OrderID   int64           `json:"order_id"`
	ShopID    int64           `json:"shop_id"`
	UserID    int64           `json:"user_id"`
	ProductID int64           `json:"product_id"`
	Status    string          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	At        time.Time       `json:"at"`
}

// TopupEvent публикуется при зачислении платежа.
type TopupEvent struct {
	ShopID   int64           `json:"shop_id"`
	UserID   int64           `json:"user_id"`
	Method   string          `json:"method"`
	TransRef string          `json:"trans_ref"`
	Amount   decimal.Decimal `json:"amount"`
	At       time.Time       `json:"at"`
}

// Publisher публикует доменные события.
type Publisher interface {
	OrderPlaced(ctx context.Context, e OrderEvent)
	TopupCredited(ctx context.Context, e TopupEvent)
}

// NopPublisher отбрасывает все события.
type NopPublisher struct{}

func (NopPublisher) OrderPlaced(context.Context, OrderEvent) {}
func (NopPublisher) TopupCredited(context.Context, TopupEvent) {}

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher публикует события в JSON в темы NATS.
type NATSPublisher struct {
	conn   msgPublisher
	logger *zap.Logger
}

// Connect подключается к url и возвращает издателя вместе с соединением.
func Connect(url string, logger *zap.Logger) (*NATSPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("digistore"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSPublisher(nc, logger), nc, nil
}

func newNATSPublisher(conn msgPublisher, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, logger: logger}
}

// OrderPlaced публикует в digistore.order.<status>.
func (p *NATSPublisher) OrderPlaced(_ context.Context, e OrderEvent) {
	id := fmt.Sprintf("order-%d-%s", e.OrderID, e.Status)
	p.publish(subjectPrefix+"order."+e.Status, id, e)
}

// TopupCredited публикует в digistore.topup.credited.
func (p *NATSPublisher) TopupCredited(_ context.Context, e TopupEvent) {
	id := fmt.Sprintf("topup-%d-%s", e.ShopID, e.TransRef)
	p.publish(subjectPrefix+"topup.credited", id, e)
}

func (p *NATSPublisher) publish(subject, msgID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("encode event", zap.String("subject", subject), zap.Error(err))
		return
	}

	msg := &nats.Msg{Subject: subject, Data: body, Header: nats.Header{}}
	msg.Header.Set(nats.MsgIdHdr, msgID)

	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.Warn("publish event",
			zap.String("subject", subject),
			zap.String("msg_id", msgID),
			zap.Error(err),
		)
	}
}
