package pool

import (
	"github.com/ethereum/go-ethereum/common"

	"curvePool/internal/fixedpoint"
	"curvePool/internal/pricing"
)

const (
	MinRatioPPM            = pricing.MinRatioPPM
	MaxRatioPPM            = pricing.MaxRatioPPM
	MaxTradeFeeBps         = 1_000
	MaxProtocolFeeBps      = 5_000
	MaxTradeFractionBpsCap = fixedpoint.BpsBase
)

// Params are the governable curve and fee settings of a pool.
type Params struct {
	RatioPPM            uint32
	TradeFeeBps         uint32
	ProtocolFeeBps      uint32
	MaxTradeFractionBps uint32
}

// ParamsUpdate is the governance-controlled subset of Params.
type ParamsUpdate struct {
	RatioPPM       uint32
	TradeFeeBps    uint32
	ProtocolFeeBps uint32
}

// Validate checks Params against their bounds.
func (p Params) Validate() error {
	if err := (ParamsUpdate{RatioPPM: p.RatioPPM, TradeFeeBps: p.TradeFeeBps, ProtocolFeeBps: p.ProtocolFeeBps}).Validate(); err != nil {
		return err
	}
	if p.MaxTradeFractionBps == 0 || p.MaxTradeFractionBps > MaxTradeFractionBpsCap {
		return newError("validate", ErrParameterOutOfBounds, nil, "max trade fraction %d bps not in [1, %d]", p.MaxTradeFractionBps, MaxTradeFractionBpsCap)
	}
	return nil
}

// Validate checks a parameter update against its bounds.
func (u ParamsUpdate) Validate() error {
	if u.RatioPPM < MinRatioPPM || u.RatioPPM > MaxRatioPPM {
		return newError("validate", ErrParameterOutOfBounds, nil, "crr %d ppm not in [%d, %d]", u.RatioPPM, MinRatioPPM, MaxRatioPPM)
	}
	if u.TradeFeeBps > MaxTradeFeeBps {
		return newError("validate", ErrParameterOutOfBounds, nil, "trade fee %d bps above %d", u.TradeFeeBps, MaxTradeFeeBps)
	}
	if u.ProtocolFeeBps > MaxProtocolFeeBps {
		return newError("validate", ErrParameterOutOfBounds, nil, "protocol fee %d bps above %d", u.ProtocolFeeBps, MaxProtocolFeeBps)
	}
	return nil
}

// Roles names the accounts allowed to drive each privileged operation.
type Roles struct {
	Owner            common.Address
	Governance       common.Address
	FeeRouter        common.Address
	Treasury         common.Address
	ProtocolTreasury common.Address
}

func (r Roles) validate() error {
	named := []struct {
		name string
		addr common.Address
	}{
		{"owner", r.Owner},
		{"governance", r.Governance},
		{"fee router", r.FeeRouter},
		{"treasury", r.Treasury},
		{"protocol treasury", r.ProtocolTreasury},
	}
	for _, n := range named {
		if n.addr == (common.Address{}) {
			return newError("validate", ErrZeroAddress, nil, "%s", n.name)
		}
	}
	return nil
}

// Status is the explicit pause overlay of a pool.
type Status int

const (
	StatusActive Status = iota
	StatusPaused
)

func (s Status) String() string {
	if s == StatusPaused {
		return "paused"
	}
	return "active"
}

// Phase is the trading phase, derived lazily from the clock.
type Phase int

const (
	PhaseIBR Phase = iota
	PhaseActive
)

func (p Phase) String() string {
	if p == PhaseIBR {
		return "ibr_buy_only"
	}
	return "active"
}
