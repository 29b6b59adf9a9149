package pool

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"curvePool/internal/model"
	"curvePool/internal/pricing"
)

// Record returns the persisted form of the pool.
func (p *Pool) Record() model.PoolRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	return model.PoolRecord{
		PoolID:              p.id.Hex(),
		Asset:               p.asset.Hex(),
		Address:             p.address.Hex(),
		Reserve:             p.ledger.reserve.Dec(),
		Supply:              p.ledger.supply.Dec(),
		FeesOwedTreasury:    p.ledger.owedTreasury.Dec(),
		FeesOwedProtocol:    p.ledger.owedProtocol.Dec(),
		RatioPPM:            p.params.RatioPPM,
		TradeFeeBps:         p.params.TradeFeeBps,
		ProtocolFeeBps:      p.params.ProtocolFeeBps,
		MaxTradeFractionBps: p.params.MaxTradeFractionBps,
		IBREndTimestamp:     unixSeconds(p.ibrEnd),
		Paused:              p.status == StatusPaused,
		Owner:               p.roles.Owner.Hex(),
		Governance:          p.roles.Governance.Hex(),
		FeeRouter:           p.roles.FeeRouter.Hex(),
		Treasury:            p.roles.Treasury.Hex(),
		ProtocolTreasury:    p.roles.ProtocolTreasury.Hex(),
		ReserveDecimals:     p.decimals.Reserve,
		TokenDecimals:       p.decimals.Token,
		Version:             p.version,
		Seq:                 p.seq,
	}
}

// Restore rebuilds a pool from a persisted record. The version and event sequence
// continue from the record.
func Restore(rec model.PoolRecord, deps Deps) (*Pool, error) {
	amounts := make([]*uint256.Int, 4)
	for i, raw := range []string{rec.Reserve, rec.Supply, rec.FeesOwedTreasury, rec.FeesOwedProtocol} {
		if raw == "" {
			amounts[i] = new(uint256.Int)
			continue
		}
		v, err := uint256.FromDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("restore pool %s: parse amount %q: %w", rec.PoolID, raw, err)
		}
		amounts[i] = v
	}

	cfg := Config{
		ID:       common.HexToHash(rec.PoolID),
		Asset:    common.HexToAddress(rec.Asset),
		Address:  common.HexToAddress(rec.Address),
		Decimals: pricing.Decimals{Reserve: rec.ReserveDecimals, Token: rec.TokenDecimals},
		Params: Params{
			RatioPPM:            rec.RatioPPM,
			TradeFeeBps:         rec.TradeFeeBps,
			ProtocolFeeBps:      rec.ProtocolFeeBps,
			MaxTradeFractionBps: rec.MaxTradeFractionBps,
		},
		Roles: Roles{
			Owner:            common.HexToAddress(rec.Owner),
			Governance:       common.HexToAddress(rec.Governance),
			FeeRouter:        common.HexToAddress(rec.FeeRouter),
			Treasury:         common.HexToAddress(rec.Treasury),
			ProtocolTreasury: common.HexToAddress(rec.ProtocolTreasury),
		},
		IBREnd:      time.Unix(int64(rec.IBREndTimestamp), 0).UTC(),
		SeedReserve: amounts[0],
		SeedSupply:  amounts[1],
	}
	p, err := New(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("restore pool %s: %w", rec.PoolID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ledger.Accrue(amounts[2], amounts[3]); err != nil {
		return nil, fmt.Errorf("restore pool %s: %w", rec.PoolID, err)
	}
	if rec.Paused {
		p.status = StatusPaused
	}
	p.seq = rec.Seq
	if rec.Version > 0 {
		p.version = rec.Version - 1
	}
	p.publishLocked()
	return p, nil
}
