package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"curvePool/internal/model"
	"curvePool/internal/pool"
	"curvePool/internal/pricing"
	"curvePool/internal/units"
)

// Metrics exports pool activity to Prometheus. It is both an event sink and a
// rejection observer.
type Metrics struct {
	Events     *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Volume     *prometheus.CounterVec
	Fees       *prometheus.CounterVec
	Reserve    *prometheus.GaugeVec
	Supply     *prometheus.GaugeVec
	SpotPrice  *prometheus.GaugeVec

	mu       sync.RWMutex
	decimals map[string]pricing.Decimals
}

// New registers the pool collectors with reg.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_events_total",
			Help:      "Committed pool events by name.",
		}, []string{"pool", "event"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_rejections_total",
			Help:      "Failed pool operations by error kind.",
		}, []string{"pool", "op", "kind"}),
		Volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_reserve_volume_total",
			Help:      "Reserve asset traded, in whole units.",
		}, []string{"pool", "side"}),
		Fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_trade_fees_total",
			Help:      "Trade fees charged, in whole reserve units.",
		}, []string{"pool"}),
		Reserve: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_reserve",
			Help:      "Reserve balance after the last commit, in whole units.",
		}, []string{"pool"}),
		Supply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_supply",
			Help:      "Circulating supply after the last commit, in whole tokens.",
		}, []string{"pool"}),
		SpotPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_spot_price",
			Help:      "Spot price after the last commit, reserve units per token.",
		}, []string{"pool"}),
		decimals: make(map[string]pricing.Decimals),
	}
	for _, c := range []prometheus.Collector{m.Events, m.Rejections, m.Volume, m.Fees, m.Reserve, m.Supply, m.SpotPrice} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Track records the unit scale of a pool so gauges report whole units.
func (m *Metrics) Track(poolID string, d pricing.Decimals) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decimals[poolID] = d
}

func (m *Metrics) decimalsOf(poolID string) pricing.Decimals {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.decimals[poolID]
}

// Publish updates counters and gauges from a committed event.
func (m *Metrics) Publish(_ context.Context, event model.PoolEvent) error {
	d := m.decimalsOf(event.PoolID)
	m.Events.WithLabelValues(event.PoolID, event.Name).Inc()

	switch data := event.Data.(type) {
	case model.BuyEventData:
		m.Volume.WithLabelValues(event.PoolID, "buy").Add(units.Float(data.ReserveIn, d.Reserve))
		m.Fees.WithLabelValues(event.PoolID).Add(units.Float(data.Fee, d.Reserve))
	case model.SellEventData:
		m.Volume.WithLabelValues(event.PoolID, "sell").Add(units.Float(data.ReserveOut, d.Reserve))
		m.Fees.WithLabelValues(event.PoolID).Add(units.Float(data.Fee, d.Reserve))
	}

	m.Reserve.WithLabelValues(event.PoolID).Set(units.Float(event.State.Reserve, d.Reserve))
	m.Supply.WithLabelValues(event.PoolID).Set(units.Float(event.State.Supply, d.Token))
	m.SpotPrice.WithLabelValues(event.PoolID).Set(units.Float(event.State.SpotPrice, pricing.PriceDecimals))
	return nil
}

// ObserveRejection counts a failed operation.
func (m *Metrics) ObserveRejection(poolID, op string, kind pool.Kind) {
	m.Rejections.WithLabelValues(poolID, op, kind.String()).Inc()
}
