package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"curvePool/internal/fixedpoint"
	"curvePool/internal/model"
	"curvePool/internal/pricing"
)

// BuyRequest spends ReserveIn of the reserve asset, pulled from Caller, for pool
// tokens minted to Recipient.
type BuyRequest struct {
	Caller       common.Address
	Recipient    common.Address
	ReserveIn    *uint256.Int
	MinTokensOut *uint256.Int
	Deadline     time.Time
}

type BuyResult struct {
	TokensOut      *uint256.Int
	Fee            *uint256.Int
	SpotPriceAfter *uint256.Int
	Version        uint64
}

// SellRequest burns TokensIn from Caller and pays the reserve proceeds to Recipient.
type SellRequest struct {
	Caller        common.Address
	Recipient     common.Address
	TokensIn      *uint256.Int
	MinReserveOut *uint256.Int
	Deadline      time.Time
}

type SellResult struct {
	ReserveOut     *uint256.Int
	NetOut         *uint256.Int
	Fee            *uint256.Int
	SpotPriceAfter *uint256.Int
	Version        uint64
}

type buyQuote struct {
	fee       *uint256.Int
	netIn     *uint256.Int
	tokensOut *uint256.Int
}

type sellQuote struct {
	reserveOut *uint256.Int
	fee        *uint256.Int
	netOut     *uint256.Int
}

// splitIn takes the trade fee, rounded up, off the top of amount.
func splitIn(op string, feeBps uint32, amount *uint256.Int) (fee, net *uint256.Int, err error) {
	if amount == nil {
		amount = new(uint256.Int)
	}
	if err := fixedpoint.CheckAmount("amount", amount); err != nil {
		return nil, nil, arithmetic(op, err)
	}
	fee, err = fixedpoint.BpsUp(amount, feeBps)
	if err != nil {
		return nil, nil, arithmetic(op, err)
	}
	return fee, new(uint256.Int).Sub(amount, fee), nil
}

func quoteBuy(s *Snapshot, reserveIn *uint256.Int) (buyQuote, error) {
	fee, netIn, err := splitIn("quote buy", s.Params.TradeFeeBps, reserveIn)
	if err != nil {
		return buyQuote{}, err
	}
	out, err := pricing.QuoteBuy(s.curve(), netIn)
	if err != nil {
		return buyQuote{}, arithmetic("quote buy", err)
	}
	return buyQuote{fee: fee, netIn: netIn, tokensOut: out}, nil
}

func quoteSell(s *Snapshot, tokensIn *uint256.Int) (sellQuote, error) {
	if tokensIn == nil {
		tokensIn = new(uint256.Int)
	}
	if err := fixedpoint.CheckAmount("tokens in", tokensIn); err != nil {
		return sellQuote{}, arithmetic("quote sell", err)
	}
	out, err := pricing.QuoteSell(s.curve(), tokensIn)
	if err != nil {
		return sellQuote{}, arithmetic("quote sell", err)
	}
	fee, net, err := splitIn("quote sell", s.Params.TradeFeeBps, out)
	if err != nil {
		return sellQuote{}, err
	}
	return sellQuote{reserveOut: out, fee: fee, netOut: net}, nil
}

// TradeFee splits amount into the trade fee, rounded up, and what remains. Buys charge
// it on the reserve paid in, sells on the gross reserve paid out.
func TradeFee(feeBps uint32, amount *uint256.Int) (fee, net *uint256.Int, err error) {
	return splitIn("trade fee", feeBps, amount)
}

// MaxTrade returns maxTradeFractionBps of base, rounded down. Buys are capped against
// the reserve, sells against the supply.
func MaxTrade(base *uint256.Int, bps uint32) (*uint256.Int, error) {
	return fixedpoint.BpsDown(base, bps)
}

// Buy pulls ReserveIn from the caller, mints the quoted tokens to the recipient and
// commits the ledger only once both calls succeeded. A failed mint refunds the caller.
func (p *Pool) Buy(ctx context.Context, req BuyRequest) (BuyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.buyLocked(ctx, req)
	if err != nil {
		p.reject("buy", err, zap.Stringer("caller", req.Caller))
		return BuyResult{}, err
	}
	return res, nil
}

func (p *Pool) buyLocked(ctx context.Context, req BuyRequest) (BuyResult, error) {
	if err := ctx.Err(); err != nil {
		return BuyResult{}, fmt.Errorf("buy: %w", err)
	}
	if req.Caller == (common.Address{}) {
		return BuyResult{}, newError("buy", ErrZeroAddress, nil, "caller")
	}
	if req.Recipient == (common.Address{}) {
		return BuyResult{}, newError("buy", ErrZeroAddress, nil, "recipient")
	}

	s := p.snap.Load()
	now := p.clock.Now()
	if s.Status == StatusPaused {
		return BuyResult{}, newError("buy", ErrPaused, nil, "")
	}
	if now.After(req.Deadline) {
		return BuyResult{}, newError("buy", ErrTransactionExpired, nil, "deadline %s", req.Deadline.UTC().Format(time.RFC3339))
	}
	if req.ReserveIn == nil || req.ReserveIn.IsZero() {
		return BuyResult{}, newError("buy", ErrZeroAmount, nil, "reserve in")
	}
	if s.Reserve.IsZero() || s.Supply.IsZero() {
		return BuyResult{}, newError("buy", ErrEmptyPool, nil, "")
	}
	limit, err := MaxTrade(s.Reserve, s.Params.MaxTradeFractionBps)
	if err != nil {
		return BuyResult{}, arithmetic("buy", err)
	}
	if req.ReserveIn.Gt(limit) {
		return BuyResult{}, newError("buy", ErrTradeTooLarge, nil, "reserve in %s above cap %s", req.ReserveIn.Dec(), limit.Dec())
	}

	q, err := quoteBuy(s, req.ReserveIn)
	if err != nil {
		return BuyResult{}, err
	}
	if q.tokensOut.IsZero() {
		return BuyResult{}, newError("buy", ErrInsufficientOutput, nil, "")
	}
	if req.MinTokensOut != nil && q.tokensOut.Lt(req.MinTokensOut) {
		return BuyResult{}, newError("buy", ErrSlippageExceeded, nil, "tokens out %s below minimum %s", q.tokensOut.Dec(), req.MinTokensOut.Dec())
	}
	toTreasury, toProtocol, err := splitFee(q.fee, s.Params.ProtocolFeeBps)
	if err != nil {
		return BuyResult{}, arithmetic("buy", err)
	}

	next := p.ledger
	if err := next.ApplyBuy(q.netIn, q.tokensOut); err != nil {
		return BuyResult{}, err
	}
	if err := next.Accrue(toTreasury, toProtocol); err != nil {
		return BuyResult{}, err
	}

	call := context.WithoutCancel(ctx)
	if err := p.custodian.TransferFrom(call, p.address, req.Caller, p.address, req.ReserveIn); err != nil {
		return BuyResult{}, newError("buy", ErrExternalCallFailed, err, "pull reserve")
	}
	if err := p.issuer.Mint(call, p.address, req.Recipient, q.tokensOut); err != nil {
		if rerr := p.custodian.Transfer(call, p.address, req.Caller, req.ReserveIn); rerr != nil {
			p.logger.Error("buy refund failed",
				zap.Stringer("caller", req.Caller),
				zap.String("amount", req.ReserveIn.Dec()),
				zap.Error(rerr),
			)
			return BuyResult{}, newError("buy", ErrCompensationFailed, rerr, "mint failed: %v", err)
		}
		return BuyResult{}, newError("buy", ErrExternalCallFailed, err, "mint")
	}

	p.ledger = next
	p.publishLocked()
	st, err := p.stateOf(p.snap.Load())
	if err != nil {
		return BuyResult{}, err
	}
	p.logger.Debug("buy committed",
		zap.Stringer("caller", req.Caller),
		zap.String("reserve_in", req.ReserveIn.Dec()),
		zap.String("tokens_out", q.tokensOut.Dec()),
		zap.String("fee", q.fee.Dec()),
		zap.Uint64("version", p.version),
	)
	p.emitLocked(ctx, model.EventBuy, model.BuyEventData{
		Buyer:          req.Caller.Hex(),
		Recipient:      req.Recipient.Hex(),
		ReserveIn:      req.ReserveIn.Dec(),
		TokensOut:      q.tokensOut.Dec(),
		Fee:            q.fee.Dec(),
		SpotPriceAfter: st.SpotPrice.Dec(),
	}, st)
	result := BuyResult{TokensOut: q.tokensOut, Fee: q.fee, SpotPriceAfter: st.SpotPrice, Version: p.version}
	p.forwardFeesLocked(ctx)
	return result, nil
}

// Sell burns TokensIn from the caller before any reserve moves, then pays the net
// proceeds to the recipient. A failed payout re-mints the burned tokens.
func (p *Pool) Sell(ctx context.Context, req SellRequest) (SellResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.sellLocked(ctx, req)
	if err != nil {
		p.reject("sell", err, zap.Stringer("caller", req.Caller))
		return SellResult{}, err
	}
	return res, nil
}

func (p *Pool) sellLocked(ctx context.Context, req SellRequest) (SellResult, error) {
	if err := ctx.Err(); err != nil {
		return SellResult{}, fmt.Errorf("sell: %w", err)
	}
	if req.Caller == (common.Address{}) {
		return SellResult{}, newError("sell", ErrZeroAddress, nil, "caller")
	}
	if req.Recipient == (common.Address{}) {
		return SellResult{}, newError("sell", ErrZeroAddress, nil, "recipient")
	}

	s := p.snap.Load()
	now := p.clock.Now()
	if s.Status == StatusPaused {
		return SellResult{}, newError("sell", ErrPaused, nil, "")
	}
	if now.After(req.Deadline) {
		return SellResult{}, newError("sell", ErrTransactionExpired, nil, "deadline %s", req.Deadline.UTC().Format(time.RFC3339))
	}
	if phaseAt(s.IBREnd, now) == PhaseIBR {
		return SellResult{}, newError("sell", ErrSellsDisabledDuringIBR, nil, "until %s", s.IBREnd.UTC().Format(time.RFC3339))
	}
	if req.TokensIn == nil || req.TokensIn.IsZero() {
		return SellResult{}, newError("sell", ErrZeroAmount, nil, "tokens in")
	}
	if s.Supply.IsZero() {
		return SellResult{}, newError("sell", ErrEmptyPool, nil, "")
	}
	limit, err := MaxTrade(s.Supply, s.Params.MaxTradeFractionBps)
	if err != nil {
		return SellResult{}, arithmetic("sell", err)
	}
	if req.TokensIn.Gt(limit) {
		return SellResult{}, newError("sell", ErrTradeTooLarge, nil, "tokens in %s above cap %s", req.TokensIn.Dec(), limit.Dec())
	}

	q, err := quoteSell(s, req.TokensIn)
	if err != nil {
		return SellResult{}, err
	}
	if q.netOut.IsZero() {
		return SellResult{}, newError("sell", ErrInsufficientOutput, nil, "")
	}
	if req.MinReserveOut != nil && q.netOut.Lt(req.MinReserveOut) {
		return SellResult{}, newError("sell", ErrSlippageExceeded, nil, "reserve out %s below minimum %s", q.netOut.Dec(), req.MinReserveOut.Dec())
	}
	toTreasury, toProtocol, err := splitFee(q.fee, s.Params.ProtocolFeeBps)
	if err != nil {
		return SellResult{}, arithmetic("sell", err)
	}

	next := p.ledger
	if err := next.ApplySell(req.TokensIn, q.reserveOut); err != nil {
		return SellResult{}, err
	}
	if err := next.Accrue(toTreasury, toProtocol); err != nil {
		return SellResult{}, err
	}

	call := context.WithoutCancel(ctx)
	if err := p.issuer.Burn(call, p.address, req.Caller, req.TokensIn); err != nil {
		return SellResult{}, newError("sell", ErrExternalCallFailed, err, "burn")
	}
	if err := p.custodian.Transfer(call, p.address, req.Recipient, q.netOut); err != nil {
		if merr := p.issuer.Mint(call, p.address, req.Caller, req.TokensIn); merr != nil {
			p.logger.Error("sell re-mint failed",
				zap.Stringer("caller", req.Caller),
				zap.String("amount", req.TokensIn.Dec()),
				zap.Error(merr),
			)
			return SellResult{}, newError("sell", ErrCompensationFailed, merr, "payout failed: %v", err)
		}
		return SellResult{}, newError("sell", ErrExternalCallFailed, err, "payout")
	}

	p.ledger = next
	p.publishLocked()
	st, err := p.stateOf(p.snap.Load())
	if err != nil {
		return SellResult{}, err
	}
	p.logger.Debug("sell committed",
		zap.Stringer("caller", req.Caller),
		zap.String("tokens_in", req.TokensIn.Dec()),
		zap.String("reserve_out", q.reserveOut.Dec()),
		zap.String("fee", q.fee.Dec()),
		zap.Uint64("version", p.version),
	)
	p.emitLocked(ctx, model.EventSell, model.SellEventData{
		Seller:         req.Caller.Hex(),
		Recipient:      req.Recipient.Hex(),
		TokensIn:       req.TokensIn.Dec(),
		ReserveOut:     q.reserveOut.Dec(),
		Fee:            q.fee.Dec(),
		SpotPriceAfter: st.SpotPrice.Dec(),
	}, st)
	result := SellResult{
		ReserveOut:     q.reserveOut,
		NetOut:         q.netOut,
		Fee:            q.fee,
		SpotPriceAfter: st.SpotPrice,
		Version:        p.version,
	}
	p.forwardFeesLocked(ctx)
	return result, nil
}

// emitLocked publishes an event describing the commit that just happened. The state
// change is final by now, so sink failures are logged and not returned.
func (p *Pool) emitLocked(ctx context.Context, name string, data interface{}, st State) {
	p.seq++
	event := model.PoolEvent{
		PoolID:    p.id.Hex(),
		Pool:      p.address.Hex(),
		Seq:       p.seq,
		Version:   p.version,
		Timestamp: unixSeconds(p.clock.Now()),
		Name:      name,
		Data:      data,
		State:     st.Model(),
	}
	if err := p.sink.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Warn("publish event failed", zap.String("event", name), zap.Uint64("seq", p.seq), zap.Error(err))
	}
}

func (p *Pool) reject(op string, err error, fields ...zap.Field) {
	kind := KindOf(err)
	p.logger.Warn(op+" rejected", append(fields, zap.Stringer("kind", kind), zap.Error(err))...)
	if p.rejections != nil {
		p.rejections.ObserveRejection(p.id.Hex(), op, kind)
	}
}

func unixSeconds(t time.Time) uint64 {
	if t.Unix() <= 0 {
		return 0
	}
	return uint64(t.Unix())
}
