// Package observe holds the Prometheus instrumentation for the token and
// budget engine.
package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts token lifecycle and budget events. A nil *Metrics is a
// no-op so instrumented code never has to guard its calls.
type Metrics struct {
	tokensCreated  *prometheus.CounterVec
	tokensRedeemed *prometheus.CounterVec
	tokensExpired  *prometheus.CounterVec
	tokensSwept    prometheus.Counter
	budgetRejected prometheus.Counter
	ordersPlaced   prometheus.Counter
}

// New registers the skygate collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tokensCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "skygate_tokens_created_total",
			Help: "Ephemeral tokens issued, by kind.",
		}, []string{"kind"}),
		tokensRedeemed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "skygate_tokens_redeemed_total",
			Help: "Tokens redeemed exactly once, by kind.",
		}, []string{"kind"}),
		tokensExpired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "skygate_tokens_expired_total",
			Help: "Tokens that lapsed before redemption, by kind.",
		}, []string{"kind"}),
		tokensSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "skygate_tokens_swept_total",
			Help: "Tokens evicted by the expiry sweeper.",
		}),
		budgetRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "skygate_budget_rejections_total",
			Help: "Reservations rejected by a budget ceiling.",
		}),
		ordersPlaced: f.NewCounter(prometheus.CounterOpts{
			Name: "skygate_orders_placed_total",
			Help: "Orders successfully placed upstream.",
		}),
	}
}

// TokenCreated records an issued token.
func (m *Metrics) TokenCreated(kind string) {
	if m == nil {
		return
	}
	m.tokensCreated.WithLabelValues(kind).Inc()
}

// TokenRedeemed records a successful redemption.
func (m *Metrics) TokenRedeemed(kind string) {
	if m == nil {
		return
	}
	m.tokensRedeemed.WithLabelValues(kind).Inc()
}

// TokenExpired records a token that lapsed.
func (m *Metrics) TokenExpired(kind string) {
	if m == nil {
		return
	}
	m.tokensExpired.WithLabelValues(kind).Inc()
}

// TokensSwept records n tokens evicted by the sweeper.
func (m *Metrics) TokensSwept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.tokensSwept.Add(float64(n))
}

// BudgetRejected records a reservation rejected by a ceiling.
func (m *Metrics) BudgetRejected() {
	if m == nil {
		return
	}
	m.budgetRejected.Inc()
}

// OrderPlaced records an order placed upstream.
func (m *Metrics) OrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}
