// Package simulate replays scenario files against in-process pools.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"curvePool/internal/memledger"
	"curvePool/internal/model"
	"curvePool/internal/pool"
	"curvePool/internal/pricing"
	"curvePool/internal/registry"
	"curvePool/internal/units"
)

var (
	ErrUnexpectedSuccess = errors.New("step succeeded but a failure was expected")
	ErrClockFixed        = errors.New("clock cannot be advanced")
)

var expectKinds = map[string]pool.Kind{
	"validation": pool.KindValidation,
	"state":      pool.KindState,
	"slippage":   pool.KindSlippage,
	"expired":    pool.KindExpired,
	"bounds":     pool.KindParameterBounds,
	"external":   pool.KindExternalCall,
	"arithmetic": pool.KindArithmetic,
	"access":     pool.KindAccess,
	"internal":   pool.KindInternal,
}

// Defaults fill in pool settings a create step leaves out.
type Defaults struct {
	Params      pool.Params
	IBRDuration time.Duration
	Decimals    pricing.Decimals
}

// RunConfig holds runtime settings for a scenario run.
type RunConfig struct {
	Defaults     Defaults
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	ReportPath   string
	Strict       bool
}

// Persister stores pool records between batches.
type Persister interface {
	UpsertPools(ctx context.Context, records []model.PoolRecord) error
	SaveState(ctx context.Context, name string, seq uint64) error
}

// Advancer is a clock a scenario may move forward.
type Advancer interface {
	Advance(d time.Duration)
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Summary counts step outcomes. Rejected steps failed the way they were expected to.
type Summary struct {
	Steps      int            `json:"steps"`
	Applied    int            `json:"applied"`
	Rejected   int            `json:"rejected"`
	Unexpected int            `json:"unexpected"`
	ByKind     map[string]int `json:"by_kind,omitempty"`
}

// Runner applies scenario steps against a registry backed by an in-process bank.
type Runner struct {
	cfg       RunConfig
	registry  *registry.Registry
	bank      *memledger.Bank
	clock     pool.Clock
	persister Persister
	logger    *zap.Logger
	report    *ReportStore
}

// NewRunner builds a Runner with its dependencies. persister may be nil.
func NewRunner(cfg RunConfig, reg *registry.Registry, bank *memledger.Bank, clock pool.Clock, persister Persister, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = pool.SystemClock{}
	}
	return &Runner{
		cfg:       cfg,
		registry:  reg,
		bank:      bank,
		clock:     clock,
		persister: persister,
		logger:    logger,
		report:    NewReportStore(cfg.ReportPath),
	}
}

// Run applies steps in order, persisting pool records after every batch.
func (r *Runner) Run(ctx context.Context, steps []Step) (Summary, error) {
	if r.registry == nil || r.bank == nil {
		return Summary{}, fmt.Errorf("registry and bank are required")
	}
	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(steps)
	}
	if batchSize == 0 {
		batchSize = 1
	}
	batches, err := SplitSteps(len(steps), batchSize)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Steps: len(steps), ByKind: make(map[string]int)}
	for _, batch := range batches {
		for i := batch.From; i <= batch.To; i++ {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			default:
			}

			step := steps[i]
			if err := r.record(&summary, step, r.apply(ctx, step)); err != nil {
				r.logger.Warn("unexpected step outcome", zap.Int("step", i+1), zap.String("op", step.Op), zap.Error(err))
				if r.cfg.Strict {
					return summary, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
				}
			}
		}

		if err := r.persist(ctx); err != nil {
			return summary, err
		}
		r.logger.Info("batch complete", zap.Int("from", batch.From+1), zap.Int("to", batch.To+1))
	}

	if err := r.report.Save(summary, r.registry.Records()); err != nil {
		return summary, err
	}
	return summary, nil
}

// record classifies one step result. It returns an error only for outcomes that
// differ from the step's expectation.
func (r *Runner) record(summary *Summary, step Step, err error) error {
	want := strings.TrimSpace(step.Expect)
	if err == nil {
		if want != "" {
			summary.Unexpected++
			return fmt.Errorf("expected %s: %w", want, ErrUnexpectedSuccess)
		}
		summary.Applied++
		return nil
	}

	kind, ok := expectKinds[want]
	if want != "" && ok && errors.Is(err, kind) {
		summary.Rejected++
		summary.ByKind[kind.String()]++
		return nil
	}
	summary.Unexpected++
	return err
}

func (r *Runner) persist(ctx context.Context) error {
	if r.persister == nil {
		return nil
	}
	records := r.registry.Records()
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, r.logger, "upsert pools", func(ctx context.Context) error {
		return r.persister.UpsertPools(ctx, records)
	})
	if err != nil {
		return fmt.Errorf("store pools: %w", err)
	}
	for _, rec := range records {
		name := "pool:" + rec.PoolID
		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, r.logger, "save state", func(ctx context.Context) error {
			return r.persister.SaveState(ctx, name, rec.Seq)
		})
		if err != nil {
			return fmt.Errorf("save state %s: %w", name, err)
		}
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, step Step) error {
	switch step.Op {
	case OpFund:
		return r.fund(step)
	case OpCreate:
		return r.create(ctx, step)
	case OpAdvance:
		d, err := durationOr("duration", step.Duration, 0)
		if err != nil {
			return err
		}
		a, ok := r.clock.(Advancer)
		if !ok {
			return ErrClockFixed
		}
		a.Advance(d)
		return nil
	}

	p, err := r.poolOf(step)
	if err != nil {
		return err
	}
	caller, err := ParseAddress("caller", step.Caller)
	if err != nil && step.Op != OpCheck {
		return err
	}
	d := p.Decimals()

	switch step.Op {
	case OpBuy:
		return r.buy(ctx, p, caller, step)
	case OpSell:
		return r.sell(ctx, p, caller, step)
	case OpDeposit:
		amount, err := parseAmount("amount", step.Amount, d.Reserve)
		if err != nil {
			return err
		}
		r.bank.Custodian(p.Asset()).Approve(caller, p.Address(), amount)
		_, err = p.DepositFees(ctx, caller, amount)
		return err
	case OpSetParams:
		current := p.Snapshot().Params
		update := pool.ParamsUpdate{
			RatioPPM:       current.RatioPPM,
			TradeFeeBps:    current.TradeFeeBps,
			ProtocolFeeBps: current.ProtocolFeeBps,
		}
		if step.RatioPPM != 0 {
			update.RatioPPM = step.RatioPPM
		}
		if step.TradeFeeBps != nil {
			update.TradeFeeBps = *step.TradeFeeBps
		}
		if step.ProtocolFeeBps != nil {
			update.ProtocolFeeBps = *step.ProtocolFeeBps
		}
		return p.SetParameters(ctx, caller, update)
	case OpPause:
		return p.Pause(ctx, caller)
	case OpUnpause:
		return p.Unpause(ctx, caller)
	case OpSetTreasury:
		treasury, err := addressOr("account", step.Account, common.Address{})
		if err != nil {
			return err
		}
		return p.SetTreasury(ctx, caller, treasury)
	case OpFlush:
		_, err := p.FlushFees(ctx, caller)
		return err
	case OpCheck:
		return p.CheckCustody(ctx)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (r *Runner) poolOf(step Step) (*pool.Pool, error) {
	asset, err := ParseAddress("asset", step.Asset)
	if err != nil {
		return nil, err
	}
	return r.registry.ByAsset(asset)
}

func (r *Runner) fund(step Step) error {
	asset, err := ParseAddress("asset", step.Asset)
	if err != nil {
		return err
	}
	account, err := ParseAddress("account", step.Account)
	if err != nil {
		return err
	}
	decimals := r.cfg.Defaults.Decimals.Reserve
	if step.Decimals != nil {
		decimals = *step.Decimals
	}
	amount, err := parseAmount("amount", step.Amount, decimals)
	if err != nil {
		return err
	}
	r.bank.Custodian(asset).Credit(account, amount)
	return nil
}

func (r *Runner) create(ctx context.Context, step Step) error {
	asset, err := ParseAddress("asset", step.Asset)
	if err != nil {
		return err
	}
	creator, err := ParseAddress("caller", step.Caller)
	if err != nil {
		return err
	}

	def := r.cfg.Defaults
	decimals := def.Decimals
	if step.Decimals != nil {
		decimals.Reserve = *step.Decimals
	}
	if step.TokenDecimals != nil {
		decimals.Token = *step.TokenDecimals
	}
	params := def.Params
	if step.RatioPPM != 0 {
		params.RatioPPM = step.RatioPPM
	}
	if step.TradeFeeBps != nil {
		params.TradeFeeBps = *step.TradeFeeBps
	}
	if step.ProtocolFeeBps != nil {
		params.ProtocolFeeBps = *step.ProtocolFeeBps
	}
	if step.MaxTradeFractionBps != 0 {
		params.MaxTradeFractionBps = step.MaxTradeFractionBps
	}
	ibr, err := durationOr("ibr", step.IBR, def.IBRDuration)
	if err != nil {
		return err
	}

	var roles pool.Roles
	for _, f := range []struct {
		field string
		input string
		dst   *common.Address
	}{
		{"owner", step.Owner, &roles.Owner},
		{"governance", step.Governance, &roles.Governance},
		{"fee_router", step.FeeRouter, &roles.FeeRouter},
		{"treasury", step.Treasury, &roles.Treasury},
		{"protocol_treasury", step.ProtocolTreasury, &roles.ProtocolTreasury},
	} {
		addr, err := addressOr(f.field, f.input, creator)
		if err != nil {
			return err
		}
		*f.dst = addr
	}

	seedReserve, err := parseAmount("reserve", step.Reserve, decimals.Reserve)
	if err != nil {
		return err
	}
	seedSupply, err := parseAmount("supply", step.Supply, decimals.Token)
	if err != nil {
		return err
	}

	r.bank.Custodian(asset).Approve(creator, r.registry.Factory(), seedReserve)
	p, err := r.registry.CreatePool(ctx, registry.CreateRequest{
		Creator:     creator,
		Asset:       asset,
		Decimals:    decimals,
		Params:      params,
		Roles:       roles,
		IBRDuration: ibr,
		SeedReserve: seedReserve,
		SeedSupply:  seedSupply,
	})
	if err != nil {
		return err
	}
	r.logger.Info("scenario pool ready",
		zap.String("pool_id", p.ID().Hex()),
		zap.String("seed_reserve", units.Format(seedReserve, decimals.Reserve)),
		zap.String("seed_supply", units.Format(seedSupply, decimals.Token)),
	)
	return nil
}

func (r *Runner) buy(ctx context.Context, p *pool.Pool, caller common.Address, step Step) error {
	d := p.Decimals()
	amount, err := parseAmount("amount", step.Amount, d.Reserve)
	if err != nil {
		return err
	}
	minOut, err := amountOr("min_out", step.MinOut, d.Token)
	if err != nil {
		return err
	}
	recipient, err := addressOr("recipient", step.Recipient, caller)
	if err != nil {
		return err
	}
	deadline, err := durationOr("deadline", step.Deadline, time.Minute)
	if err != nil {
		return err
	}

	r.bank.Custodian(p.Asset()).Approve(caller, p.Address(), amount)
	res, err := p.Buy(ctx, pool.BuyRequest{
		Caller:       caller,
		Recipient:    recipient,
		ReserveIn:    amount,
		MinTokensOut: minOut,
		Deadline:     r.clock.Now().Add(deadline),
	})
	if err != nil {
		return err
	}
	r.logger.Debug("scenario buy",
		zap.String("reserve_in", units.Format(amount, d.Reserve)),
		zap.String("tokens_out", units.Format(res.TokensOut, d.Token)),
		zap.String("spot_price", units.FormatPrice(res.SpotPriceAfter, 6)),
	)
	return nil
}

func (r *Runner) sell(ctx context.Context, p *pool.Pool, caller common.Address, step Step) error {
	d := p.Decimals()
	amount, err := parseAmount("amount", step.Amount, d.Token)
	if err != nil {
		return err
	}
	minOut, err := amountOr("min_out", step.MinOut, d.Reserve)
	if err != nil {
		return err
	}
	recipient, err := addressOr("recipient", step.Recipient, caller)
	if err != nil {
		return err
	}
	deadline, err := durationOr("deadline", step.Deadline, time.Minute)
	if err != nil {
		return err
	}

	res, err := p.Sell(ctx, pool.SellRequest{
		Caller:        caller,
		Recipient:     recipient,
		TokensIn:      amount,
		MinReserveOut: minOut,
		Deadline:      r.clock.Now().Add(deadline),
	})
	if err != nil {
		return err
	}
	r.logger.Debug("scenario sell",
		zap.String("tokens_in", units.Format(amount, d.Token)),
		zap.String("net_out", units.Format(res.NetOut, d.Reserve)),
		zap.String("spot_price", units.FormatPrice(res.SpotPriceAfter, 6)),
	)
	return nil
}
