package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"curvePool/internal/model"
	"curvePool/internal/pool"
	"curvePool/internal/pricing"
)

func TestPublishUpdatesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "crrpool")
	require.NoError(t, err)
	m.Track("0x01", pricing.Decimals{Reserve: 6, Token: 18})

	state := model.PoolState{
		Reserve:   "10990000000",
		Supply:    "1026424287658280726829672",
		SpotPrice: "35690000000000000",
	}
	require.NoError(t, m.Publish(context.Background(), model.PoolEvent{
		PoolID: "0x01",
		Name:   model.EventBuy,
		Data:   model.BuyEventData{ReserveIn: "1000000000", Fee: "10000000"},
		State:  state,
	}))
	require.NoError(t, m.Publish(context.Background(), model.PoolEvent{
		PoolID: "0x01",
		Name:   model.EventSell,
		Data:   model.SellEventData{ReserveOut: "500000000", Fee: "5000000"},
		State:  state,
	}))

	require.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("0x01", model.EventBuy)))
	require.InDelta(t, 1000.0, testutil.ToFloat64(m.Volume.WithLabelValues("0x01", "buy")), 1e-9)
	require.InDelta(t, 500.0, testutil.ToFloat64(m.Volume.WithLabelValues("0x01", "sell")), 1e-9)
	require.InDelta(t, 15.0, testutil.ToFloat64(m.Fees.WithLabelValues("0x01")), 1e-9)
	require.InDelta(t, 10990.0, testutil.ToFloat64(m.Reserve.WithLabelValues("0x01")), 1e-9)
	require.InDelta(t, 1026424.287, testutil.ToFloat64(m.Supply.WithLabelValues("0x01")), 1e-3)
	require.InDelta(t, 0.03569, testutil.ToFloat64(m.SpotPrice.WithLabelValues("0x01")), 1e-12)
}

func TestObserveRejection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "crrpool")
	require.NoError(t, err)

	m.ObserveRejection("0x01", "sell", pool.KindState)
	m.ObserveRejection("0x01", "sell", pool.KindState)
	m.ObserveRejection("0x01", "set parameters", pool.KindAccess)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Rejections.WithLabelValues("0x01", "sell", "state error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("0x01", "set parameters", "access denied")))
	require.Equal(t, 2, testutil.CollectAndCount(m.Rejections))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, "crrpool")
	require.NoError(t, err)
	_, err = New(reg, "crrpool")
	require.Error(t, err)
}
