package pricing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"curvePool/internal/fixedpoint"
)

const (
	// MinRatioPPM and MaxRatioPPM bound the reserve ratio w to [0.05, 0.50].
	MinRatioPPM uint32 = 50_000
	MaxRatioPPM uint32 = 500_000

	// PriceDecimals is the fixed-point scale of spot prices (1e18 = one reserve unit per token).
	PriceDecimals = 18
)

// roundingMargin is subtracted from (buy) or added to (sell) every power result so the
// series truncation error always lands on the pool's side.
var roundingMargin = big.NewInt(1_000)

var ErrEmptyCurve = errors.New("pricing: curve has no reserve or supply")

// Curve is a read-only view of the pool state the CRR formula needs.
type Curve struct {
	Reserve  *uint256.Int
	Supply   *uint256.Int
	RatioPPM uint32
}

// Decimals describes the base-unit scale of the reserve asset and the pool token.
type Decimals struct {
	Reserve uint8
	Token   uint8
}

// Impact describes the result of a hypothetical trade.
type Impact struct {
	AmountOut      *uint256.Int
	PriceImpactBps uint64
	NewSpotPrice   *uint256.Int
}

func (c Curve) validate() error {
	if c.Reserve == nil || c.Supply == nil {
		return fmt.Errorf("curve state is nil: %w", fixedpoint.ErrDomain)
	}
	if c.RatioPPM < MinRatioPPM || c.RatioPPM > MaxRatioPPM {
		return fmt.Errorf("reserve ratio %d ppm: %w", c.RatioPPM, fixedpoint.ErrDomain)
	}
	if err := fixedpoint.CheckAmount("reserve", c.Reserve); err != nil {
		return err
	}
	return fixedpoint.CheckAmount("supply", c.Supply)
}

// QuoteBuy returns S * ((1 + reserveIn/R)^w - 1), rounded down.
func QuoteBuy(c Curve, reserveIn *uint256.Int) (*uint256.Int, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if reserveIn == nil || reserveIn.IsZero() {
		return new(uint256.Int), nil
	}
	if err := fixedpoint.CheckAmount("reserve in", reserveIn); err != nil {
		return nil, err
	}
	if c.Reserve.IsZero() || c.Supply.IsZero() {
		return nil, ErrEmptyCurve
	}

	r := c.Reserve.ToBig()
	base, err := fixedpoint.RatioDown(new(big.Int).Add(r, reserveIn.ToBig()), r)
	if err != nil {
		return nil, err
	}
	p, err := fixedpoint.PowRatio(base, c.RatioPPM)
	if err != nil {
		return nil, err
	}

	one := fixedpoint.One()
	p.Sub(p, roundingMargin)
	if p.Cmp(one) <= 0 {
		return new(uint256.Int), nil
	}
	growth := p.Sub(p, one)
	return fixedpoint.ToUint256(fixedpoint.MulFixedDown(c.Supply.ToBig(), growth))
}

// QuoteSell returns R * (1 - (1 - tokensIn/S)^(1/w)), rounded down. Selling the whole
// supply returns the whole reserve exactly.
func QuoteSell(c Curve, tokensIn *uint256.Int) (*uint256.Int, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if tokensIn == nil || tokensIn.IsZero() {
		return new(uint256.Int), nil
	}
	if c.Supply.IsZero() {
		return nil, ErrEmptyCurve
	}
	if tokensIn.Gt(c.Supply) {
		return nil, fmt.Errorf("tokens in %s exceeds supply %s: %w", tokensIn.Dec(), c.Supply.Dec(), fixedpoint.ErrDomain)
	}
	if tokensIn.Eq(c.Supply) {
		return new(uint256.Int).Set(c.Reserve), nil
	}

	s := c.Supply.ToBig()
	remaining := new(big.Int).Sub(s, tokensIn.ToBig())
	base, err := fixedpoint.RatioUp(remaining, s)
	if err != nil {
		return nil, err
	}
	p, err := fixedpoint.PowInverseRatio(base, c.RatioPPM)
	if err != nil {
		return nil, err
	}

	one := fixedpoint.One()
	p.Add(p, roundingMargin)
	if p.Cmp(one) >= 0 {
		return new(uint256.Int), nil
	}
	drained := new(big.Int).Sub(one, p)
	out, err := fixedpoint.ToUint256(fixedpoint.MulFixedDown(c.Reserve.ToBig(), drained))
	if err != nil {
		return nil, err
	}
	// a partial sell always leaves some reserve behind the remaining supply
	if !out.Lt(c.Reserve) {
		out.SubUint64(c.Reserve, 1)
	}
	return out, nil
}

// SpotPrice returns R / (w * S) in reserve units per whole token, scaled by 1e18.
// An empty supply has no defined price and returns zero.
func SpotPrice(c Curve, d Decimals) (*uint256.Int, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.Supply.IsZero() {
		return new(uint256.Int), nil
	}

	num := new(big.Int).Mul(c.Reserve.ToBig(), big.NewInt(fixedpoint.PPM))
	num.Mul(num, pow10(int(d.Token)+PriceDecimals))
	den := new(big.Int).Mul(c.Supply.ToBig(), big.NewInt(int64(c.RatioPPM)))
	den.Mul(den, pow10(int(d.Reserve)))
	return fixedpoint.ToUint256(num.Quo(num, den))
}

// BuyImpact quotes a buy of netIn reserve and reports the resulting spot price.
func BuyImpact(c Curve, d Decimals, netIn *uint256.Int) (Impact, error) {
	before, err := SpotPrice(c, d)
	if err != nil {
		return Impact{}, err
	}
	out, err := QuoteBuy(c, netIn)
	if err != nil {
		return Impact{}, err
	}
	next := Curve{
		Reserve:  new(uint256.Int).Add(c.Reserve, netIn),
		Supply:   new(uint256.Int).Add(c.Supply, out),
		RatioPPM: c.RatioPPM,
	}
	after, err := SpotPrice(next, d)
	if err != nil {
		return Impact{}, err
	}
	return Impact{AmountOut: out, PriceImpactBps: changeBps(before, after), NewSpotPrice: after}, nil
}

// SellImpact quotes a sell of tokensIn and reports the resulting spot price.
// AmountOut is the gross reserve leaving the curve, before fees.
func SellImpact(c Curve, d Decimals, tokensIn *uint256.Int) (Impact, error) {
	before, err := SpotPrice(c, d)
	if err != nil {
		return Impact{}, err
	}
	out, err := QuoteSell(c, tokensIn)
	if err != nil {
		return Impact{}, err
	}
	next := Curve{
		Reserve:  new(uint256.Int).Sub(c.Reserve, out),
		Supply:   new(uint256.Int).Sub(c.Supply, tokensIn),
		RatioPPM: c.RatioPPM,
	}
	after, err := SpotPrice(next, d)
	if err != nil {
		return Impact{}, err
	}
	return Impact{AmountOut: out, PriceImpactBps: changeBps(before, after), NewSpotPrice: after}, nil
}

// changeBps returns |after - before| / before in basis points, rounded down.
func changeBps(before, after *uint256.Int) uint64 {
	if before.IsZero() {
		return 0
	}
	diff := new(big.Int).Sub(after.ToBig(), before.ToBig())
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(fixedpoint.BpsBase))
	diff.Quo(diff, before.ToBig())
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
