package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"curvePool/internal/model"
)

// Schema creates the tables the store writes to. Amounts are NUMERIC(78,0) so any
// uint256 fits.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_id                 TEXT PRIMARY KEY,
	asset                   TEXT NOT NULL UNIQUE,
	pool_address            TEXT NOT NULL,
	reserve                 NUMERIC(78,0) NOT NULL,
	supply                  NUMERIC(78,0) NOT NULL,
	fees_owed_treasury      NUMERIC(78,0) NOT NULL,
	fees_owed_protocol      NUMERIC(78,0) NOT NULL,
	crr_ppm                 INTEGER NOT NULL,
	trade_fee_bps           INTEGER NOT NULL,
	protocol_fee_bps        INTEGER NOT NULL,
	max_trade_fraction_bps  INTEGER NOT NULL,
	ibr_end_ts              BIGINT NOT NULL,
	paused                  BOOLEAN NOT NULL,
	owner                   TEXT NOT NULL,
	governance              TEXT NOT NULL,
	fee_router              TEXT NOT NULL,
	treasury                TEXT NOT NULL,
	protocol_treasury       TEXT NOT NULL,
	reserve_decimals        SMALLINT NOT NULL,
	token_decimals          SMALLINT NOT NULL,
	version                 BIGINT NOT NULL,
	seq                     BIGINT NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pool_events (
	pool_id       TEXT NOT NULL,
	seq           BIGINT NOT NULL,
	version       BIGINT NOT NULL,
	event_name    TEXT NOT NULL,
	event_ts      BIGINT NOT NULL,
	data          JSONB NOT NULL,
	reserve       NUMERIC(78,0) NOT NULL,
	supply        NUMERIC(78,0) NOT NULL,
	spot_price    NUMERIC(78,0) NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pool_id, seq)
);

CREATE TABLE IF NOT EXISTS sink_state (
	name        TEXT PRIMARY KEY,
	last_seq    BIGINT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for pools and their events.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertPools inserts or updates pool records. A record never overwrites a newer
// version of the same pool.
func (s *Store) UpsertPools(ctx context.Context, records []model.PoolRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO pools (
				pool_id, asset, pool_address, reserve, supply, fees_owed_treasury, fees_owed_protocol,
				crr_ppm, trade_fee_bps, protocol_fee_bps, max_trade_fraction_bps, ibr_end_ts, paused,
				owner, governance, fee_router, treasury, protocol_treasury,
				reserve_decimals, token_decimals, version, seq, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,now(),now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				reserve = EXCLUDED.reserve,
				supply = EXCLUDED.supply,
				fees_owed_treasury = EXCLUDED.fees_owed_treasury,
				fees_owed_protocol = EXCLUDED.fees_owed_protocol,
				crr_ppm = EXCLUDED.crr_ppm,
				trade_fee_bps = EXCLUDED.trade_fee_bps,
				protocol_fee_bps = EXCLUDED.protocol_fee_bps,
				paused = EXCLUDED.paused,
				treasury = EXCLUDED.treasury,
				version = EXCLUDED.version,
				seq = EXCLUDED.seq,
				updated_at = now()
			WHERE pools.version <= EXCLUDED.version
		`,
			rec.PoolID,
			rec.Asset,
			rec.Address,
			rec.Reserve,
			rec.Supply,
			rec.FeesOwedTreasury,
			rec.FeesOwedProtocol,
			int32(rec.RatioPPM),
			int32(rec.TradeFeeBps),
			int32(rec.ProtocolFeeBps),
			int32(rec.MaxTradeFractionBps),
			int64(rec.IBREndTimestamp),
			rec.Paused,
			rec.Owner,
			rec.Governance,
			rec.FeeRouter,
			rec.Treasury,
			rec.ProtocolTreasury,
			int16(rec.ReserveDecimals),
			int16(rec.TokenDecimals),
			int64(rec.Version),
			int64(rec.Seq),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadPools returns every stored pool record.
func (s *Store) LoadPools(ctx context.Context) ([]model.PoolRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_id, asset, pool_address, reserve::text, supply::text,
			fees_owed_treasury::text, fees_owed_protocol::text,
			crr_ppm, trade_fee_bps, protocol_fee_bps, max_trade_fraction_bps, ibr_end_ts, paused,
			owner, governance, fee_router, treasury, protocol_treasury,
			reserve_decimals, token_decimals, version, seq
		FROM pools
		ORDER BY created_at, pool_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PoolRecord
	for rows.Next() {
		var (
			rec                                  model.PoolRecord
			crr, tradeFee, protocolFee, fraction int32
			ibrEnd, version, seq                 int64
			reserveDecimals, tokenDecimals       int16
		)
		if err := rows.Scan(
			&rec.PoolID, &rec.Asset, &rec.Address, &rec.Reserve, &rec.Supply,
			&rec.FeesOwedTreasury, &rec.FeesOwedProtocol,
			&crr, &tradeFee, &protocolFee, &fraction, &ibrEnd, &rec.Paused,
			&rec.Owner, &rec.Governance, &rec.FeeRouter, &rec.Treasury, &rec.ProtocolTreasury,
			&reserveDecimals, &tokenDecimals, &version, &seq,
		); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		rec.RatioPPM = uint32(crr)
		rec.TradeFeeBps = uint32(tradeFee)
		rec.ProtocolFeeBps = uint32(protocolFee)
		rec.MaxTradeFractionBps = uint32(fraction)
		rec.IBREndTimestamp = uint64(ibrEnd)
		rec.ReserveDecimals = uint8(reserveDecimals)
		rec.TokenDecimals = uint8(tokenDecimals)
		rec.Version = uint64(version)
		rec.Seq = uint64(seq)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutEventBatch appends events. Replayed events with a known (pool_id, seq) are skipped.
func (s *Store) PutEventBatch(ctx context.Context, events []model.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal %s data: %w", ev.Name, err)
		}
		batch.Queue(`
			INSERT INTO pool_events (
				pool_id, seq, version, event_name, event_ts, data, reserve, supply, spot_price, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
			ON CONFLICT (pool_id, seq) DO NOTHING
		`,
			ev.PoolID,
			int64(ev.Seq),
			int64(ev.Version),
			ev.Name,
			int64(ev.Timestamp),
			string(data),
			ev.State.Reserve,
			ev.State.Supply,
			ev.State.SpotPrice,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_seq for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var seq int64
	row := s.pool.QueryRow(ctx, `SELECT last_seq FROM sink_state WHERE name=$1`, name)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(seq), true, nil
}

// SaveState upserts last_seq for a name.
func (s *Store) SaveState(ctx context.Context, name string, seq uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sink_state (name, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_seq = EXCLUDED.last_seq, updated_at = now()
	`, name, int64(seq))
	return err
}
