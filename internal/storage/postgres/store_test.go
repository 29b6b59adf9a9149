package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"curvePool/internal/model"
)

// These tests need a disposable database named by CRRPOOL_TEST_PG_DSN.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CRRPOOL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("CRRPOOL_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	_, err = store.pool.Exec(ctx, `TRUNCATE pools, pool_events, sink_state`)
	require.NoError(t, err)
	return store
}

func record(version uint64, reserve string) model.PoolRecord {
	return model.PoolRecord{
		PoolID:              "0x01",
		Asset:               "0xc001",
		Address:             "0xb001",
		Reserve:             reserve,
		Supply:              "1000000000000000000000000",
		FeesOwedTreasury:    "0",
		FeesOwedProtocol:    "0",
		RatioPPM:            300_000,
		TradeFeeBps:         100,
		ProtocolFeeBps:      2_000,
		MaxTradeFractionBps: 1_000,
		IBREndTimestamp:     1_704_672_000,
		Owner:               "0xa1",
		Governance:          "0xa2",
		FeeRouter:           "0xa3",
		Treasury:            "0xa4",
		ProtocolTreasury:    "0xa5",
		ReserveDecimals:     6,
		TokenDecimals:       18,
		Version:             version,
		Seq:                 version - 1,
	}
}

func TestNewStoreRequiresDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
}

func TestUpsertPoolsKeepsNewestVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPools(ctx, []model.PoolRecord{record(3, "10990000000")}))
	require.NoError(t, store.UpsertPools(ctx, []model.PoolRecord{record(2, "10500000000")}))

	pools, err := store.LoadPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, record(3, "10990000000"), pools[0])
}

func TestPutEventBatchSkipsReplays(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	event := model.PoolEvent{
		PoolID:  "0x01",
		Seq:     1,
		Version: 2,
		Name:    model.EventPaused,
		Data:    model.PauseEventData{Account: "0xa1"},
		State:   model.PoolState{Reserve: "1", Supply: "1", SpotPrice: "0"},
	}
	require.NoError(t, store.PutEventBatch(ctx, []model.PoolEvent{event}))
	require.NoError(t, store.PutEventBatch(ctx, []model.PoolEvent{event}))

	var count int
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT count(*) FROM pool_events`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.LoadState(ctx, "pool:0x01")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveState(ctx, "pool:0x01", 42))
	seq, ok, err := store.LoadState(ctx, "pool:0x01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), seq)
}
