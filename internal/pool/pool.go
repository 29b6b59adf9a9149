package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"curvePool/internal/fixedpoint"
	"curvePool/internal/model"
	"curvePool/internal/pricing"
)

// Config describes a pool at creation.
type Config struct {
	ID          common.Hash
	Asset       common.Address
	Address     common.Address
	Decimals    pricing.Decimals
	Params      Params
	Roles       Roles
	IBREnd      time.Time
	SeedReserve *uint256.Int
	SeedSupply  *uint256.Int
}

// Deps are the collaborators a pool calls out to.
type Deps struct {
	Issuer     TokenIssuer
	Custodian  AssetCustodian
	Sink       EventSink
	Clock      Clock
	Rejections RejectionObserver
	Logger     *zap.Logger
}

// RejectionObserver is told about every operation that fails.
type RejectionObserver interface {
	ObserveRejection(poolID, op string, kind Kind)
}

// Snapshot is an immutable view of the last committed pool state.
type Snapshot struct {
	Reserve          *uint256.Int
	Supply           *uint256.Int
	FeesOwedTreasury *uint256.Int
	FeesOwedProtocol *uint256.Int
	Params           Params
	Status           Status
	Roles            Roles
	IBREnd           time.Time
	Version          uint64
}

// clone copies the amounts so callers never hold the published values.
func (s *Snapshot) clone() Snapshot {
	out := *s
	out.Reserve = new(uint256.Int).Set(s.Reserve)
	out.Supply = new(uint256.Int).Set(s.Supply)
	out.FeesOwedTreasury = new(uint256.Int).Set(s.FeesOwedTreasury)
	out.FeesOwedProtocol = new(uint256.Int).Set(s.FeesOwedProtocol)
	return out
}

func (s *Snapshot) curve() pricing.Curve {
	return pricing.Curve{Reserve: s.Reserve, Supply: s.Supply, RatioPPM: s.Params.RatioPPM}
}

// Pool is one CRR bonding curve. Mutators hold mu for their whole duration, external
// calls included; readers only load the published snapshot.
type Pool struct {
	id       common.Hash
	asset    common.Address
	address  common.Address
	decimals pricing.Decimals

	issuer     TokenIssuer
	custodian  AssetCustodian
	sink       EventSink
	clock      Clock
	rejections RejectionObserver
	logger     *zap.Logger

	mu      sync.Mutex
	ledger  ReserveLedger
	params  Params
	status  Status
	roles   Roles
	ibrEnd  time.Time
	version uint64
	seq     uint64

	snap atomic.Pointer[Snapshot]
}

// New builds a pool from its creation config. The seed reserve and supply are taken
// as already settled with the custodian and issuer.
func New(cfg Config, deps Deps) (*Pool, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Roles.validate(); err != nil {
		return nil, err
	}
	if cfg.Address == (common.Address{}) {
		return nil, newError("new pool", ErrZeroAddress, nil, "pool address")
	}
	if deps.Issuer == nil || deps.Custodian == nil {
		return nil, errors.New("pool: issuer and custodian are required")
	}
	ledger, err := NewReserveLedger(cfg.SeedReserve, cfg.SeedSupply)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		id:         cfg.ID,
		asset:      cfg.Asset,
		address:    cfg.Address,
		decimals:   cfg.Decimals,
		issuer:     deps.Issuer,
		custodian:  deps.Custodian,
		sink:       deps.Sink,
		clock:      deps.Clock,
		rejections: deps.Rejections,
		ledger:     ledger,
		params:     cfg.Params,
		roles:      cfg.Roles,
		ibrEnd:     cfg.IBREnd,
	}
	if p.sink == nil {
		p.sink = nopSink{}
	}
	if p.clock == nil {
		p.clock = SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p.logger = logger.With(zap.String("pool_id", cfg.ID.Hex()), zap.String("asset", cfg.Asset.Hex()))
	p.publishLocked()
	return p, nil
}

type nopSink struct{}

func (nopSink) Publish(context.Context, model.PoolEvent) error { return nil }

func (p *Pool) ID() common.Hash { return p.id }

func (p *Pool) Asset() common.Address { return p.asset }

// Address is the account that custodies the pool's reserve and owed fees.
func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) Decimals() pricing.Decimals { return p.decimals }

// Snapshot returns a copy of the last committed state.
func (p *Pool) Snapshot() Snapshot {
	return p.snap.Load().clone()
}

// publishLocked bumps the version and makes the current state visible to readers.
// Callers hold mu.
func (p *Pool) publishLocked() {
	p.version++
	p.snap.Store(&Snapshot{
		Reserve:          p.ledger.Reserve(),
		Supply:           p.ledger.Supply(),
		FeesOwedTreasury: p.ledger.OwedTreasury(),
		FeesOwedProtocol: p.ledger.OwedProtocol(),
		Params:           p.params,
		Status:           p.status,
		Roles:            p.roles,
		IBREnd:           p.ibrEnd,
		Version:          p.version,
	})
}

// State is the read surface of a pool's committed state.
type State struct {
	Reserve        *uint256.Int
	Supply         *uint256.Int
	SpotPrice      *uint256.Int
	RatioPPM       uint32
	TradeFeeBps    uint32
	ProtocolFeeBps uint32
}

// Model renders the state with decimal string amounts.
func (s State) Model() model.PoolState {
	return model.PoolState{
		Reserve:        s.Reserve.Dec(),
		Supply:         s.Supply.Dec(),
		SpotPrice:      s.SpotPrice.Dec(),
		RatioPPM:       s.RatioPPM,
		TradeFeeBps:    s.TradeFeeBps,
		ProtocolFeeBps: s.ProtocolFeeBps,
	}
}

// State returns reserve, supply, spot price and fee parameters.
func (p *Pool) State() (State, error) {
	return p.stateOf(p.snap.Load())
}

func (p *Pool) stateOf(s *Snapshot) (State, error) {
	price, err := pricing.SpotPrice(s.curve(), p.decimals)
	if err != nil {
		return State{}, arithmetic("spot price", err)
	}
	return State{
		Reserve:        new(uint256.Int).Set(s.Reserve),
		Supply:         new(uint256.Int).Set(s.Supply),
		SpotPrice:      price,
		RatioPPM:       s.Params.RatioPPM,
		TradeFeeBps:    s.Params.TradeFeeBps,
		ProtocolFeeBps: s.Params.ProtocolFeeBps,
	}, nil
}

// SpotPrice returns R / (w * S) scaled by 1e18.
func (p *Pool) SpotPrice() (*uint256.Int, error) {
	st, err := p.State()
	if err != nil {
		return nil, err
	}
	return st.SpotPrice, nil
}

// Phase reports whether the initial buy-only round is still running.
func (p *Pool) Phase() Phase {
	return phaseAt(p.snap.Load().IBREnd, p.clock.Now())
}

func phaseAt(ibrEnd, now time.Time) Phase {
	if now.Before(ibrEnd) {
		return PhaseIBR
	}
	return PhaseActive
}

// TradeInfo reports whether sells are enabled, when the IBR ends and whether trading is paused.
func (p *Pool) TradeInfo() model.TradeInfo {
	s := p.snap.Load()
	return model.TradeInfo{
		SellsEnabled: phaseAt(s.IBREnd, p.clock.Now()) == PhaseActive,
		IBREndTime:   unixSeconds(s.IBREnd),
		IsPaused:     s.Status == StatusPaused,
	}
}

// BuyQuote returns the tokens a buy of reserveIn would mint and the fee it would pay.
func (p *Pool) BuyQuote(reserveIn *uint256.Int) (tokensOut, fee *uint256.Int, err error) {
	s := p.snap.Load()
	q, err := quoteBuy(s, reserveIn)
	if err != nil {
		return nil, nil, err
	}
	return q.tokensOut, q.fee, nil
}

// SellQuote returns the reserve a sell of tokensIn would pay out net of fee, and the fee.
func (p *Pool) SellQuote(tokensIn *uint256.Int) (netOut, fee *uint256.Int, err error) {
	s := p.snap.Load()
	q, err := quoteSell(s, tokensIn)
	if err != nil {
		return nil, nil, err
	}
	return q.netOut, q.fee, nil
}

// BuyImpact quotes a buy of reserveIn after fees and reports the spot price move.
func (p *Pool) BuyImpact(reserveIn *uint256.Int) (pricing.Impact, error) {
	s := p.snap.Load()
	_, netIn, err := splitIn("buy impact", s.Params.TradeFeeBps, reserveIn)
	if err != nil {
		return pricing.Impact{}, err
	}
	impact, err := pricing.BuyImpact(s.curve(), p.decimals, netIn)
	if err != nil {
		return pricing.Impact{}, arithmetic("buy impact", err)
	}
	return impact, nil
}

// SellImpact quotes a sell of tokensIn and reports the spot price move. AmountOut is
// the reserve the seller receives after fees.
func (p *Pool) SellImpact(tokensIn *uint256.Int) (pricing.Impact, error) {
	s := p.snap.Load()
	if tokensIn == nil {
		tokensIn = new(uint256.Int)
	}
	if err := fixedpoint.CheckAmount("tokens in", tokensIn); err != nil {
		return pricing.Impact{}, arithmetic("sell impact", err)
	}
	impact, err := pricing.SellImpact(s.curve(), p.decimals, tokensIn)
	if err != nil {
		return pricing.Impact{}, arithmetic("sell impact", err)
	}
	fee, err := fixedpoint.BpsUp(impact.AmountOut, s.Params.TradeFeeBps)
	if err != nil {
		return pricing.Impact{}, arithmetic("sell impact", err)
	}
	impact.AmountOut = new(uint256.Int).Sub(impact.AmountOut, fee)
	return impact, nil
}

// arithmetic maps pricing and fixed-point failures onto the pool taxonomy.
func arithmetic(op string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, pricing.ErrEmptyCurve) {
		return newError(op, ErrEmptyPool, err, "")
	}
	return newError(op, ErrArithmetic, err, "")
}
