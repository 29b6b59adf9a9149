package pricing

import (
	"math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"curvePool/internal/fixedpoint"
)

var usd = Decimals{Reserve: 6, Token: 18}

func amount(whole uint64, decimals uint8) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return new(uint256.Int).Mul(uint256.NewInt(whole), scale)
}

func curve(reserveUSD, supplyTokens uint64, ppm uint32) Curve {
	return Curve{
		Reserve:  amount(reserveUSD, 6),
		Supply:   amount(supplyTokens, 18),
		RatioPPM: ppm,
	}
}

func toF(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

func TestSpotPriceScenarios(t *testing.T) {
	price, err := SpotPrice(curve(10_000, 1_000_000, 300_000), usd)
	require.NoError(t, err)
	require.Equal(t, "33333333333333333", price.Dec())

	price, err = SpotPrice(curve(5_000, 1_000_000, 200_000), usd)
	require.NoError(t, err)
	require.Equal(t, "25000000000000000", price.Dec())

	price, err = SpotPrice(curve(6_000, 1_000_000, 200_000), usd)
	require.NoError(t, err)
	require.Equal(t, "30000000000000000", price.Dec())
}

func TestSpotPriceEmptySupply(t *testing.T) {
	price, err := SpotPrice(Curve{Reserve: new(uint256.Int), Supply: new(uint256.Int), RatioPPM: 300_000}, usd)
	require.NoError(t, err)
	require.True(t, price.IsZero())
}

func TestQuoteBuyRaisesSpotPrice(t *testing.T) {
	c := curve(10_000, 1_000_000, 300_000)
	impact, err := BuyImpact(c, usd, amount(1_000, 6))
	require.NoError(t, err)
	require.False(t, impact.AmountOut.IsZero())

	before, err := SpotPrice(c, usd)
	require.NoError(t, err)
	require.True(t, impact.NewSpotPrice.Gt(before))
	require.Greater(t, impact.PriceImpactBps, uint64(0))
}

func TestQuoteBuyMatchesReference(t *testing.T) {
	ratios := []uint32{MinRatioPPM, 100_000, 300_000, 450_000, MaxRatioPPM}
	fractions := []float64{1e-6, 1e-4, 0.01, 0.1, 0.5, 1}
	for _, ppm := range ratios {
		c := curve(10_000, 1_000_000, ppm)
		w := float64(ppm) / fixedpoint.PPM
		for _, f := range fractions {
			in := new(uint256.Int).SetUint64(uint64(f * 10_000e6))
			got, err := QuoteBuy(c, in)
			require.NoError(t, err)

			x := toF(in) / toF(c.Reserve)
			want := toF(c.Supply) * math.Expm1(w*math.Log1p(x))
			require.LessOrEqualf(t, math.Abs(toF(got)-want)/want, 1e-4, "ppm=%d f=%v", ppm, f)
			require.LessOrEqualf(t, toF(got), want*(1+1e-12), "buy must round down ppm=%d f=%v", ppm, f)
		}
	}
}

func TestQuoteSellMatchesReference(t *testing.T) {
	ratios := []uint32{MinRatioPPM, 100_000, 300_000, 450_000, MaxRatioPPM}
	fractions := []float64{1e-6, 1e-4, 0.01, 0.1, 0.5, 0.9}
	for _, ppm := range ratios {
		c := curve(10_000, 1_000_000, ppm)
		w := float64(ppm) / fixedpoint.PPM
		for _, f := range fractions {
			in, _ := uint256.FromBig(new(big.Int).Quo(
				new(big.Int).Mul(c.Supply.ToBig(), big.NewInt(int64(f*1e9))),
				big.NewInt(1e9),
			))
			got, err := QuoteSell(c, in)
			require.NoError(t, err)

			x := toF(in) / toF(c.Supply)
			want := toF(c.Reserve) * -math.Expm1(math.Log1p(-x)/w)
			require.LessOrEqualf(t, math.Abs(toF(got)-want)/want, 1e-4, "ppm=%d f=%v", ppm, f)
		}
	}
}

func TestQuoteBuyMonotonic(t *testing.T) {
	c := curve(10_000, 1_000_000, 300_000)
	prev := new(uint256.Int)
	for i := uint64(1); i <= 500; i++ {
		got, err := QuoteBuy(c, amount(i, 6))
		require.NoError(t, err)
		require.Truef(t, got.Gt(prev), "step %d", i)
		prev = got
	}
}

func TestQuoteSellMonotonic(t *testing.T) {
	c := curve(10_000, 1_000_000, 300_000)
	prev := new(uint256.Int)
	for i := uint64(1); i <= 1_000; i++ {
		got, err := QuoteSell(c, amount(i*1_000, 18))
		require.NoError(t, err)
		require.Truef(t, got.Gt(prev), "step %d", i)
		prev = got
	}
}

func TestQuoteZeroInputs(t *testing.T) {
	c := curve(10_000, 1_000_000, 300_000)

	out, err := QuoteBuy(c, new(uint256.Int))
	require.NoError(t, err)
	require.True(t, out.IsZero())

	out, err = QuoteSell(c, new(uint256.Int))
	require.NoError(t, err)
	require.True(t, out.IsZero())
}

func TestQuoteSellFullSupplyDrainsReserveExactly(t *testing.T) {
	for _, ppm := range []uint32{MinRatioPPM, 300_000, MaxRatioPPM} {
		c := curve(10_000, 1_000_000, ppm)
		out, err := QuoteSell(c, c.Supply)
		require.NoError(t, err)
		require.True(t, out.Eq(c.Reserve))
	}
}

func TestQuoteSellPartialNeverDrains(t *testing.T) {
	c := curve(10_000, 1_000_000, MinRatioPPM)
	almostAll := new(uint256.Int).SubUint64(c.Supply, 1)
	out, err := QuoteSell(c, almostAll)
	require.NoError(t, err)
	require.True(t, out.Lt(c.Reserve))
}

func TestQuoteSellRejectsMoreThanSupply(t *testing.T) {
	c := curve(10_000, 1_000_000, 300_000)
	_, err := QuoteSell(c, new(uint256.Int).AddUint64(c.Supply, 1))
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
}

func TestRoundTripNeverProfits(t *testing.T) {
	for _, ppm := range []uint32{MinRatioPPM, 200_000, MaxRatioPPM} {
		c := curve(5_000, 1_000_000, ppm)
		in := amount(100, 6)
		tokens, err := QuoteBuy(c, in)
		require.NoError(t, err)

		after := Curve{
			Reserve:  new(uint256.Int).Add(c.Reserve, in),
			Supply:   new(uint256.Int).Add(c.Supply, tokens),
			RatioPPM: ppm,
		}
		back, err := QuoteSell(after, tokens)
		require.NoError(t, err)
		require.True(t, back.Cmp(in) <= 0, "ppm=%d returned %s for %s", ppm, back.Dec(), in.Dec())
	}
}

func TestSpotPriceIdentityAfterTrades(t *testing.T) {
	c := curve(5_000, 1_000_000, 200_000)
	for i := 0; i < 20; i++ {
		in := amount(uint64(50+i*10), 6)
		out, err := QuoteBuy(c, in)
		require.NoError(t, err)
		c.Reserve = new(uint256.Int).Add(c.Reserve, in)
		c.Supply = new(uint256.Int).Add(c.Supply, out)

		price, err := SpotPrice(c, usd)
		require.NoError(t, err)
		want := (toF(c.Reserve) / 1e6) / (0.2 * toF(c.Supply) / 1e18) * 1e18
		require.InEpsilon(t, want, toF(price), 1e-12)
	}
}

func TestCurveValidation(t *testing.T) {
	c := curve(10_000, 1_000_000, 30_000)
	_, err := QuoteBuy(c, amount(1, 6))
	require.ErrorIs(t, err, fixedpoint.ErrDomain)

	huge := new(uint256.Int).AddUint64(fixedpoint.MaxAmount, 1)
	c = Curve{Reserve: huge, Supply: amount(1, 18), RatioPPM: 300_000}
	_, err = QuoteBuy(c, amount(1, 6))
	require.ErrorIs(t, err, fixedpoint.ErrOverflow)

	c = curve(10_000, 1_000_000, 300_000)
	_, err = QuoteBuy(c, huge)
	require.ErrorIs(t, err, fixedpoint.ErrOverflow)

	c = Curve{Reserve: new(uint256.Int), Supply: new(uint256.Int), RatioPPM: 300_000}
	_, err = QuoteBuy(c, amount(1, 6))
	require.ErrorIs(t, err, ErrEmptyCurve)
}

func TestSellImpactFullExit(t *testing.T) {
	c := curve(10_000, 1_000_000, 300_000)
	impact, err := SellImpact(c, usd, c.Supply)
	require.NoError(t, err)
	require.True(t, impact.AmountOut.Eq(c.Reserve))
	require.True(t, impact.NewSpotPrice.IsZero())
	require.Equal(t, uint64(10_000), impact.PriceImpactBps)
}
