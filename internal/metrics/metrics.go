// Package metrics содержит метрики Prometheus для денежных операций.
// Нулевой *Metrics допустим и ничего не записывает.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics объединяет счётчики и датчики магазина.
type Metrics struct {
	orders       *prometheus.CounterVec
	topups       *prometheus.CounterVec
	unreconciled *prometheus.CounterVec
	stalePending prometheus.Gauge
}

// New регистрирует метрики в reg. При nil reg возвращает пустой Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digistore",
		Name:      "orders_total",
		Help:      "Order placement attempts by product type and outcome.",
	}, []string{"type", "outcome"})
	topups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digistore",
		Name:      "topups_total",
		Help:      "Topup attempts by method and outcome.",
	}, []string{"method", "outcome"})
	unreconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digistore",
		Name:      "unreconciled_payments_total",
		Help:      "Gateway-confirmed payments that failed to commit locally.",
	}, []string{"method"})
	stalePending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "digistore",
		Name:      "stale_api_pending_orders",
		Help:      "API orders still awaiting provider confirmation past the staleness threshold.",
	})
	reg.MustRegister(orders, topups, unreconciled, stalePending)
	return &Metrics{
		orders:       orders,
		topups:       topups,
		unreconciled: unreconciled,
		stalePending: stalePending,
	}
}

// ObserveOrder учитывает одну попытку оформления заказа.
func (m *Metrics) ObserveOrder(productType, outcome string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues(normalizeLabel(productType), normalizeLabel(outcome)).Inc()
}

// ObserveTopup учитывает одну попытку пополнения.
func (m *Metrics) ObserveTopup(method, outcome string) {
	if m == nil || m.topups == nil {
		return
	}
	m.topups.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

// IncUnreconciled учитывает платёж, требующий ручной сверки.
func (m *Metrics) IncUnreconciled(method string) {
	if m == nil || m.unreconciled == nil {
		return
	}
	m.unreconciled.WithLabelValues(normalizeLabel(method)).Inc()
}

// SetStalePending задаёт число зависших заказов api_pending.
func (m *Metrics) SetStalePending(n int) {
	if m == nil || m.stalePending == nil {
		return
	}
	m.stalePending.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
