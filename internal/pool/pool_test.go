package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"curvePool/internal/events"
	"curvePool/internal/memledger"
	"curvePool/internal/model"
	"curvePool/internal/pricing"
)

var (
	owner            = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	governance       = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	feeRouter        = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	treasury         = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	protocolTreasury = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	poolAccount      = common.HexToAddress("0x000000000000000000000000000000000000b001")
	asset            = common.HexToAddress("0x000000000000000000000000000000000000c001")
	creator          = common.HexToAddress("0x000000000000000000000000000000000000d001")
	alice            = common.HexToAddress("0x000000000000000000000000000000000000e001")
	bob              = common.HexToAddress("0x000000000000000000000000000000000000e002")

	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	pool      *Pool
	issuer    *memledger.Issuer
	custodian *memledger.Custodian
	events    *events.Recorder
	clock     *testClock
}

func usd(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000))
}

func tokens(n uint64) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))
	return new(uint256.Int).Mul(uint256.NewInt(n), scale)
}

func newHarness(t *testing.T, reserveUSD, supplyTokens uint64, ppm uint32) *harness {
	t.Helper()
	h := &harness{
		issuer:    memledger.NewIssuer(),
		custodian: memledger.NewCustodian(),
		events:    &events.Recorder{},
		clock:     &testClock{now: t0},
	}
	h.issuer.Authorize(poolAccount)
	h.custodian.Credit(poolAccount, usd(reserveUSD))
	h.issuer.Credit(creator, tokens(supplyTokens))

	p, err := New(Config{
		ID:       common.HexToHash("0x01"),
		Asset:    asset,
		Address:  poolAccount,
		Decimals: pricing.Decimals{Reserve: 6, Token: 18},
		Params: Params{
			RatioPPM:            ppm,
			TradeFeeBps:         100,
			ProtocolFeeBps:      2_000,
			MaxTradeFractionBps: 1_000,
		},
		Roles: Roles{
			Owner:            owner,
			Governance:       governance,
			FeeRouter:        feeRouter,
			Treasury:         treasury,
			ProtocolTreasury: protocolTreasury,
		},
		IBREnd:      t0.Add(7 * 24 * time.Hour),
		SeedReserve: usd(reserveUSD),
		SeedSupply:  tokens(supplyTokens),
	}, Deps{
		Issuer:    h.issuer,
		Custodian: h.custodian,
		Sink:      h.events,
		Clock:     h.clock,
	})
	require.NoError(t, err)
	h.pool = p
	return h
}

func (h *harness) fund(account common.Address, amount *uint256.Int) {
	h.custodian.Credit(account, amount)
	h.custodian.Approve(account, poolAccount, new(uint256.Int).Add(h.custodian.Allowance(account, poolAccount), amount))
}

func (h *harness) deadline() time.Time {
	return h.clock.Now().Add(time.Hour)
}

func (h *harness) buy(t *testing.T, who common.Address, amount *uint256.Int) BuyResult {
	t.Helper()
	h.fund(who, amount)
	res, err := h.pool.Buy(context.Background(), BuyRequest{
		Caller:    who,
		Recipient: who,
		ReserveIn: amount,
		Deadline:  h.deadline(),
	})
	require.NoError(t, err)
	return res
}

func balance(t *testing.T, b interface {
	BalanceOf(context.Context, common.Address) (*uint256.Int, error)
}, account common.Address) *uint256.Int {
	t.Helper()
	v, err := b.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return v
}

func TestBuyRaisesSpotPrice(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)

	before, err := h.pool.SpotPrice()
	require.NoError(t, err)
	require.Equal(t, "33333333333333333", before.Dec())

	quoted, quotedFee, err := h.pool.BuyQuote(usd(1_000))
	require.NoError(t, err)
	require.False(t, quoted.IsZero())

	res := h.buy(t, alice, usd(1_000))
	require.True(t, res.TokensOut.Eq(quoted))
	require.True(t, res.Fee.Eq(quotedFee))
	require.Equal(t, "10000000", res.Fee.Dec())
	require.True(t, res.SpotPriceAfter.Gt(before))

	st, err := h.pool.State()
	require.NoError(t, err)
	require.Equal(t, usd(10_990).Dec(), st.Reserve.Dec())
	require.True(t, st.Supply.Eq(new(uint256.Int).Add(tokens(1_000_000), res.TokensOut)))
	require.True(t, st.SpotPrice.Eq(res.SpotPriceAfter))

	require.True(t, balance(t, h.issuer, alice).Eq(res.TokensOut))
	require.True(t, h.issuer.TotalSupply().Eq(st.Supply))
	require.Equal(t, "8000000", balance(t, h.custodian, treasury).Dec())
	require.Equal(t, "2000000", balance(t, h.custodian, protocolTreasury).Dec())
	require.Equal(t, usd(10_990).Dec(), balance(t, h.custodian, poolAccount).Dec())
	require.NoError(t, h.pool.CheckCustody(context.Background()))

	require.Equal(t, []string{model.EventBuy, model.EventFeesForwarded}, h.events.Names())
	buy := h.events.Events()[0]
	data, ok := buy.Data.(model.BuyEventData)
	require.True(t, ok)
	require.Equal(t, alice.Hex(), data.Buyer)
	require.Equal(t, res.TokensOut.Dec(), data.TokensOut)
	require.Equal(t, uint64(1), buy.Seq)
}

func TestSpotPriceExactOnSeed(t *testing.T) {
	h := newHarness(t, 5_000, 1_000_000, 200_000)
	price, err := h.pool.SpotPrice()
	require.NoError(t, err)
	require.Equal(t, "25000000000000000", price.Dec())
}

func TestSellsDisabledDuringIBR(t *testing.T) {
	h := newHarness(t, 5_000, 1_000_000, 200_000)
	ibrEnd := t0.Add(7 * 24 * time.Hour)

	h.clock.Set(ibrEnd.Add(-time.Second))
	res := h.buy(t, alice, usd(100))
	require.Equal(t, PhaseIBR, h.pool.Phase())
	require.False(t, h.pool.TradeInfo().SellsEnabled)

	version := h.pool.Snapshot().Version
	_, err := h.pool.Sell(context.Background(), SellRequest{
		Caller:    alice,
		Recipient: alice,
		TokensIn:  res.TokensOut,
		Deadline:  h.deadline(),
	})
	require.ErrorIs(t, err, ErrSellsDisabledDuringIBR)
	require.ErrorIs(t, err, KindState)
	require.Equal(t, version, h.pool.Snapshot().Version)

	h.clock.Set(ibrEnd)
	require.Equal(t, PhaseActive, h.pool.Phase())
	info := h.pool.TradeInfo()
	require.True(t, info.SellsEnabled)
	require.Equal(t, uint64(ibrEnd.Unix()), info.IBREndTime)

	sold, err := h.pool.Sell(context.Background(), SellRequest{
		Caller:    alice,
		Recipient: bob,
		TokensIn:  res.TokensOut,
		Deadline:  h.deadline(),
	})
	require.NoError(t, err)
	require.True(t, balance(t, h.issuer, alice).IsZero())
	require.True(t, balance(t, h.custodian, bob).Eq(sold.NetOut))
	require.True(t, sold.NetOut.Lt(sold.ReserveOut))
}

func TestDepositFeesRaisesPriceWithoutDilution(t *testing.T) {
	h := newHarness(t, 5_000, 1_000_000, 200_000)
	h.fund(feeRouter, usd(1_000))

	reserve, err := h.pool.DepositFees(context.Background(), feeRouter, usd(1_000))
	require.NoError(t, err)
	require.Equal(t, usd(6_000).Dec(), reserve.Dec())

	st, err := h.pool.State()
	require.NoError(t, err)
	require.Equal(t, usd(6_000).Dec(), st.Reserve.Dec())
	require.True(t, st.Supply.Eq(tokens(1_000_000)))
	require.Equal(t, "30000000000000000", st.SpotPrice.Dec())

	require.Equal(t, []string{model.EventFeesDeposited}, h.events.Names())
	data := h.events.Events()[0].Data.(model.FeesDepositedData)
	require.Equal(t, usd(1_000).Dec(), data.Amount)
	require.Equal(t, usd(6_000).Dec(), data.NewReserve)
}

func TestDepositFeesRequiresFeeRouter(t *testing.T) {
	h := newHarness(t, 5_000, 1_000_000, 200_000)
	h.fund(alice, usd(10))

	_, err := h.pool.DepositFees(context.Background(), alice, usd(10))
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, err, KindAccess)

	_, err = h.pool.DepositFees(context.Background(), feeRouter, new(uint256.Int))
	require.ErrorIs(t, err, ErrZeroAmount)
	require.Zero(t, h.events.Len())
}

func TestRoundTripNeverProfits(t *testing.T) {
	h := newHarness(t, 5_000, 1_000_000, 200_000)
	h.clock.Set(t0.Add(8 * 24 * time.Hour))

	bought := h.buy(t, alice, usd(100))
	sold, err := h.pool.Sell(context.Background(), SellRequest{
		Caller:    alice,
		Recipient: alice,
		TokensIn:  bought.TokensOut,
		Deadline:  h.deadline(),
	})
	require.NoError(t, err)
	require.True(t, sold.NetOut.Lt(usd(100)), "got back %s", sold.NetOut.Dec())
	// 100 * (1 - 2 * 1%) with no curve spread on an immediate round trip
	require.True(t, sold.NetOut.Cmp(uint256.NewInt(98_000_000)) >= 0, "got back %s", sold.NetOut.Dec())

	st, err := h.pool.State()
	require.NoError(t, err)
	require.True(t, st.Supply.Eq(tokens(1_000_000)))
	require.True(t, st.Reserve.Cmp(usd(5_000)) >= 0)
}

func TestPauseBlocksTradingButNotGovernance(t *testing.T) {
	h := newHarness(t, 5_000, 1_000_000, 200_000)
	res := h.buy(t, alice, usd(100))
	h.clock.Set(t0.Add(8 * 24 * time.Hour))
	ctx := context.Background()

	require.NoError(t, h.pool.Pause(ctx, owner))
	require.Equal(t, StatusPaused, h.pool.Snapshot().Status)
	require.True(t, h.pool.TradeInfo().IsPaused)
	emitted := h.events.Len()

	h.fund(bob, usd(10))
	_, err := h.pool.Buy(ctx, BuyRequest{Caller: bob, Recipient: bob, ReserveIn: usd(10), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, err, KindState)

	_, err = h.pool.Sell(ctx, SellRequest{Caller: alice, Recipient: alice, TokensIn: res.TokensOut, Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, err, KindState)

	h.fund(feeRouter, usd(10))
	_, err = h.pool.DepositFees(ctx, feeRouter, usd(10))
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, err, KindState)
	require.Equal(t, emitted, h.events.Len())

	require.NoError(t, h.pool.SetParameters(ctx, governance, ParamsUpdate{RatioPPM: 250_000, TradeFeeBps: 50, ProtocolFeeBps: 1_000}))
	require.NoError(t, h.pool.SetTreasury(ctx, owner, bob))
	_, err = h.pool.FlushFees(ctx, owner)
	require.NoError(t, err)

	require.NoError(t, h.pool.Pause(ctx, owner))
	require.Equal(t, emitted+2, h.events.Len(), "second pause must not emit")

	require.NoError(t, h.pool.Unpause(ctx, owner))
	require.Equal(t, StatusActive, h.pool.Snapshot().Status)
	require.NoError(t, h.pool.Unpause(ctx, owner))

	names := h.events.Names()
	require.Equal(t, model.EventPaused, names[emitted-1])
	require.Equal(t, []string{model.EventParametersUpdated, model.EventTreasuryUpdated, model.EventUnpaused}, names[emitted:])

	_, err = h.pool.Sell(ctx, SellRequest{Caller: alice, Recipient: alice, TokensIn: res.TokensOut, Deadline: h.deadline()})
	require.NoError(t, err)
}

func TestPauseRequiresOwner(t *testing.T) {
	h := newHarness(t, 5_000, 1_000_000, 200_000)
	err := h.pool.Pause(context.Background(), governance)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, StatusActive, h.pool.Snapshot().Status)

	err = h.pool.SetTreasury(context.Background(), owner, common.Address{})
	require.ErrorIs(t, err, ErrZeroAddress)
	require.ErrorIs(t, err, KindValidation)
}

func TestSetParametersBounds(t *testing.T) {
	cases := []struct {
		name   string
		update ParamsUpdate
		ok     bool
	}{
		{"crr below min", ParamsUpdate{RatioPPM: 49_999, TradeFeeBps: 100, ProtocolFeeBps: 0}, false},
		{"crr at min", ParamsUpdate{RatioPPM: 50_000, TradeFeeBps: 100, ProtocolFeeBps: 0}, true},
		{"crr at max", ParamsUpdate{RatioPPM: 500_000, TradeFeeBps: 100, ProtocolFeeBps: 0}, true},
		{"crr above max", ParamsUpdate{RatioPPM: 500_001, TradeFeeBps: 100, ProtocolFeeBps: 0}, false},
		{"trade fee at max", ParamsUpdate{RatioPPM: 300_000, TradeFeeBps: 1_000, ProtocolFeeBps: 0}, true},
		{"trade fee above max", ParamsUpdate{RatioPPM: 300_000, TradeFeeBps: 1_001, ProtocolFeeBps: 0}, false},
		{"protocol fee at max", ParamsUpdate{RatioPPM: 300_000, TradeFeeBps: 0, ProtocolFeeBps: 5_000}, true},
		{"protocol fee above max", ParamsUpdate{RatioPPM: 300_000, TradeFeeBps: 0, ProtocolFeeBps: 5_001}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 5_000, 1_000_000, 200_000)
			before := h.pool.Snapshot()

			err := h.pool.SetParameters(context.Background(), governance, tc.update)
			if tc.ok {
				require.NoError(t, err)
				after := h.pool.Snapshot()
				require.Equal(t, tc.update.RatioPPM, after.Params.RatioPPM)
				require.Equal(t, before.Version+1, after.Version)
				require.Equal(t, []string{model.EventParametersUpdated}, h.events.Names())
				return
			}
			require.ErrorIs(t, err, ErrParameterOutOfBounds)
			require.ErrorIs(t, err, KindParameterBounds)
			require.Equal(t, before.Params, h.pool.Snapshot().Params)
			require.Zero(t, h.events.Len())
		})
	}
}

func TestSetParametersAccessDistinctFromBounds(t *testing.T) {
	h := newHarness(t, 5_000, 1_000_000, 200_000)

	err := h.pool.SetParameters(context.Background(), owner, ParamsUpdate{RatioPPM: 1, TradeFeeBps: 5_000})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, err, KindAccess)
	require.False(t, errors.Is(err, ErrParameterOutOfBounds))
	require.False(t, errors.Is(err, KindParameterBounds))

	err = h.pool.SetParameters(context.Background(), governance, ParamsUpdate{RatioPPM: 1})
	require.ErrorIs(t, err, KindParameterBounds)
	require.False(t, errors.Is(err, KindAccess))
}

func TestBuyGuards(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	h.fund(alice, usd(5_000))
	ctx := context.Background()
	before := h.pool.Snapshot()

	cases := []struct {
		name string
		req  BuyRequest
		want error
		kind Kind
	}{
		{"zero amount", BuyRequest{Caller: alice, Recipient: alice, ReserveIn: new(uint256.Int), Deadline: h.deadline()}, ErrZeroAmount, KindValidation},
		{"zero recipient", BuyRequest{Caller: alice, ReserveIn: usd(10), Deadline: h.deadline()}, ErrZeroAddress, KindValidation},
		{"expired", BuyRequest{Caller: alice, Recipient: alice, ReserveIn: usd(10), Deadline: t0.Add(-time.Second)}, ErrTransactionExpired, KindExpired},
		{"no deadline", BuyRequest{Caller: alice, Recipient: alice, ReserveIn: usd(10)}, ErrTransactionExpired, KindExpired},
		{"above cap", BuyRequest{Caller: alice, Recipient: alice, ReserveIn: new(uint256.Int).AddUint64(usd(1_000), 1), Deadline: h.deadline()}, ErrTradeTooLarge, KindState},
		{"slippage", BuyRequest{Caller: alice, Recipient: alice, ReserveIn: usd(10), MinTokensOut: tokens(1_000_000), Deadline: h.deadline()}, ErrSlippageExceeded, KindSlippage},
		{"dust", BuyRequest{Caller: alice, Recipient: alice, ReserveIn: uint256.NewInt(1), Deadline: h.deadline()}, ErrInsufficientOutput, KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.pool.Buy(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, tc.kind)
			require.Equal(t, tc.kind, KindOf(err))
		})
	}

	require.Equal(t, before.Version, h.pool.Snapshot().Version)
	require.Zero(t, h.events.Len())
	require.Equal(t, usd(5_000).Dec(), balance(t, h.custodian, alice).Dec())

	_, err := h.pool.Buy(ctx, BuyRequest{Caller: alice, Recipient: alice, ReserveIn: usd(1_000), Deadline: h.deadline()})
	require.NoError(t, err, "a trade exactly at the cap is allowed")
}

func TestSellGuards(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	h.clock.Set(t0.Add(8 * 24 * time.Hour))
	ctx := context.Background()

	_, err := h.pool.Sell(ctx, SellRequest{Caller: creator, Recipient: creator, TokensIn: new(uint256.Int), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = h.pool.Sell(ctx, SellRequest{Caller: creator, Recipient: creator, TokensIn: tokens(100_001), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrTradeTooLarge)

	_, err = h.pool.Sell(ctx, SellRequest{Caller: creator, Recipient: creator, TokensIn: tokens(10), MinReserveOut: usd(1), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrSlippageExceeded)

	netOut, _, err := h.pool.SellQuote(tokens(1_000))
	require.NoError(t, err)
	res, err := h.pool.Sell(ctx, SellRequest{Caller: creator, Recipient: creator, TokensIn: tokens(1_000), MinReserveOut: netOut, Deadline: h.deadline()})
	require.NoError(t, err)
	require.True(t, res.NetOut.Eq(netOut))
}

func TestBuyMintFailureRefundsCaller(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	h.fund(alice, usd(100))
	mintErr := errors.New("issuer offline")
	h.issuer.SetFault(func(op string, _, _ common.Address, _ *uint256.Int) error {
		if op == "mint" {
			return mintErr
		}
		return nil
	})
	before := h.pool.Snapshot()

	_, err := h.pool.Buy(context.Background(), BuyRequest{Caller: alice, Recipient: alice, ReserveIn: usd(100), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrExternalCallFailed)
	require.ErrorIs(t, err, KindExternalCall)
	require.ErrorIs(t, err, mintErr)

	after := h.pool.Snapshot()
	require.Equal(t, before.Version, after.Version)
	require.True(t, after.Reserve.Eq(before.Reserve))
	require.True(t, after.Supply.Eq(before.Supply))
	require.Zero(t, h.events.Len())
	require.Equal(t, usd(100).Dec(), balance(t, h.custodian, alice).Dec())
	require.Equal(t, usd(10_000).Dec(), balance(t, h.custodian, poolAccount).Dec())
	require.True(t, h.issuer.TotalSupply().Eq(tokens(1_000_000)))
}

func TestBuyRefundFailureReportsCompensation(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	h.fund(alice, usd(100))
	h.issuer.SetFault(func(op string, _, _ common.Address, _ *uint256.Int) error {
		return errors.New("issuer offline")
	})
	h.custodian.SetFault(func(op string, _, _ common.Address, _ *uint256.Int) error {
		if op == "transfer" {
			return errors.New("custodian offline")
		}
		return nil
	})

	_, err := h.pool.Buy(context.Background(), BuyRequest{Caller: alice, Recipient: alice, ReserveIn: usd(100), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrCompensationFailed)
	require.ErrorIs(t, err, KindExternalCall)
	require.Zero(t, h.events.Len())
}

func TestSellBurnFailureLeavesPoolUntouched(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	h.clock.Set(t0.Add(8 * 24 * time.Hour))
	before := h.pool.Snapshot()

	_, err := h.pool.Sell(context.Background(), SellRequest{Caller: alice, Recipient: alice, TokensIn: tokens(10), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrExternalCallFailed)
	require.ErrorIs(t, err, memledger.ErrInsufficientBalance)
	require.Equal(t, before.Version, h.pool.Snapshot().Version)
	require.Zero(t, h.events.Len())
}

func TestSellPayoutFailureRemintsTokens(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	h.clock.Set(t0.Add(8 * 24 * time.Hour))
	h.custodian.SetFault(func(op string, _, to common.Address, _ *uint256.Int) error {
		if op == "transfer" && to == bob {
			return errors.New("recipient frozen")
		}
		return nil
	})
	before := h.pool.Snapshot()

	_, err := h.pool.Sell(context.Background(), SellRequest{Caller: creator, Recipient: bob, TokensIn: tokens(1_000), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrExternalCallFailed)

	after := h.pool.Snapshot()
	require.Equal(t, before.Version, after.Version)
	require.True(t, after.Supply.Eq(before.Supply))
	require.True(t, after.Reserve.Eq(before.Reserve))
	require.True(t, balance(t, h.issuer, creator).Eq(tokens(1_000_000)))
	require.True(t, h.issuer.TotalSupply().Eq(tokens(1_000_000)))
	require.Zero(t, h.events.Len())
}

func TestDeferredFeesAreFlushed(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	h.custodian.SetFault(func(op string, _, to common.Address, _ *uint256.Int) error {
		if op == "transfer" && to == treasury {
			return errors.New("treasury rejects")
		}
		return nil
	})

	res := h.buy(t, alice, usd(1_000))
	require.Equal(t, "10000000", res.Fee.Dec())
	snap := h.pool.Snapshot()
	require.Equal(t, "8000000", snap.FeesOwedTreasury.Dec())
	require.True(t, snap.FeesOwedProtocol.IsZero())
	require.NoError(t, h.pool.CheckCustody(context.Background()))

	_, err := h.pool.FlushFees(context.Background(), owner)
	require.ErrorIs(t, err, ErrExternalCallFailed)

	_, err = h.pool.FlushFees(context.Background(), alice)
	require.ErrorIs(t, err, ErrUnauthorized)

	h.custodian.SetFault(nil)
	out, err := h.pool.FlushFees(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, "8000000", out.Treasury.Dec())
	require.True(t, out.Protocol.IsZero())
	require.True(t, h.pool.Snapshot().FeesOwedTreasury.IsZero())
	require.Equal(t, "8000000", balance(t, h.custodian, treasury).Dec())
	require.NoError(t, h.pool.CheckCustody(context.Background()))
}

func TestCheckCustodyDetectsShortfall(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	require.NoError(t, h.custodian.Transfer(context.Background(), poolAccount, bob, uint256.NewInt(1)))
	err := h.pool.CheckCustody(context.Background())
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.ErrorIs(t, err, KindInternal)
}

func TestImpactQuotes(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)

	impact, err := h.pool.BuyImpact(usd(1_000))
	require.NoError(t, err)
	tokensOut, _, err := h.pool.BuyQuote(usd(1_000))
	require.NoError(t, err)
	require.True(t, impact.AmountOut.Eq(tokensOut))
	require.Greater(t, impact.PriceImpactBps, uint64(0))

	sell, err := h.pool.SellImpact(tokens(10_000))
	require.NoError(t, err)
	netOut, _, err := h.pool.SellQuote(tokens(10_000))
	require.NoError(t, err)
	require.True(t, sell.AmountOut.Eq(netOut))

	before, err := h.pool.SpotPrice()
	require.NoError(t, err)
	require.True(t, sell.NewSpotPrice.Lt(before))
	require.Zero(t, h.events.Len())
}

func TestConcurrentBuysKeepInvariants(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	buyers := make([]common.Address, 16)
	for i := range buyers {
		buyers[i] = common.BigToAddress(uint256.NewInt(uint64(0xf000 + i)).ToBig())
		h.fund(buyers[i], usd(50))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(buyers)*5)
	for _, buyer := range buyers {
		wg.Add(1)
		go func(who common.Address) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := h.pool.Buy(context.Background(), BuyRequest{
					Caller:    who,
					Recipient: who,
					ReserveIn: usd(10),
					Deadline:  t0.Add(time.Hour),
				})
				if err != nil {
					errs <- err
				}
			}
		}(buyer)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, err := h.pool.State()
	require.NoError(t, err)
	require.True(t, h.issuer.TotalSupply().Eq(st.Supply))
	require.Equal(t, usd(10_000+16*5*10-16*5/10).Dec(), st.Reserve.Dec())
	require.NoError(t, h.pool.CheckCustody(context.Background()))

	seen := make(map[uint64]bool)
	for _, e := range h.events.Events() {
		require.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
	}
	require.Len(t, seen, 16*5*2)
}

func TestRecordRestore(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	h.custodian.SetFault(func(op string, _, to common.Address, _ *uint256.Int) error {
		if to == protocolTreasury {
			return errors.New("offline")
		}
		return nil
	})
	h.buy(t, alice, usd(500))
	require.NoError(t, h.pool.Pause(context.Background(), owner))

	rec := h.pool.Record()
	require.True(t, rec.Paused)
	require.Equal(t, "1000000", rec.FeesOwedProtocol)

	restored, err := Restore(rec, Deps{Issuer: h.issuer, Custodian: h.custodian, Clock: h.clock})
	require.NoError(t, err)
	require.Equal(t, rec, restored.Record())

	a, err := h.pool.State()
	require.NoError(t, err)
	b, err := restored.State()
	require.NoError(t, err)
	require.Equal(t, a.Model(), b.Model())
	require.Equal(t, h.pool.Snapshot().Version, restored.Snapshot().Version)
}

func TestReadsDoNotAliasCommittedState(t *testing.T) {
	h := newHarness(t, 10_000, 1_000_000, 300_000)
	ctx := context.Background()

	quoteBefore, _, err := h.pool.BuyQuote(usd(100))
	require.NoError(t, err)

	st, err := h.pool.State()
	require.NoError(t, err)
	st.Reserve.Mul(st.Reserve, uint256.NewInt(1_000))
	st.Supply.SetUint64(1)

	snap := h.pool.Snapshot()
	snap.Reserve.SetUint64(0)
	snap.FeesOwedTreasury.SetUint64(7)

	h.fund(feeRouter, usd(10))
	reserve, err := h.pool.DepositFees(ctx, feeRouter, usd(10))
	require.NoError(t, err)
	reserve.Mul(reserve, uint256.NewInt(1_000))

	quoteAfter, _, err := h.pool.BuyQuote(usd(100))
	require.NoError(t, err)
	require.True(t, quoteAfter.Lt(quoteBefore), "deposit raises the price")
	require.True(t, quoteAfter.Gt(new(uint256.Int).Div(quoteBefore, uint256.NewInt(2))))

	after := h.pool.Snapshot()
	require.Equal(t, usd(10_010).Dec(), after.Reserve.Dec())
	require.Equal(t, tokens(1_000_000).Dec(), after.Supply.Dec())
	require.True(t, after.FeesOwedTreasury.IsZero())

	h.fund(alice, usd(5_000))
	_, err = h.pool.Buy(ctx, BuyRequest{Caller: alice, Recipient: alice, ReserveIn: usd(5_000), Deadline: h.deadline()})
	require.ErrorIs(t, err, ErrTradeTooLarge)
	require.NoError(t, h.pool.CheckCustody(ctx))
}
