package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"curvePool/internal/fixedpoint"
	"curvePool/internal/model"
)

// splitFee divides a trade fee into the treasury remainder and the protocol cut.
// The protocol cut is rounded down.
func splitFee(fee *uint256.Int, protocolFeeBps uint32) (treasury, protocol *uint256.Int, err error) {
	protocol, err = fixedpoint.BpsDown(fee, protocolFeeBps)
	if err != nil {
		return nil, nil, err
	}
	return new(uint256.Int).Sub(fee, protocol), protocol, nil
}

// FeesForwarded reports what a forwarding pass moved out of the pool account.
type FeesForwarded struct {
	Treasury *uint256.Int
	Protocol *uint256.Int
}

// DepositFees pulls amount from the fee router into the reserve. Supply is unchanged,
// so the spot price rises without dilution.
func (p *Pool) DepositFees(ctx context.Context, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, err := p.depositLocked(ctx, caller, amount)
	if err != nil {
		p.reject("deposit fees", err, zap.Stringer("caller", caller))
		return nil, err
	}
	return reserve, nil
}

func (p *Pool) depositLocked(ctx context.Context, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("deposit fees: %w", err)
	}
	s := p.snap.Load()
	if caller != s.Roles.FeeRouter {
		return nil, newError("deposit fees", ErrUnauthorized, nil, "%s is not the fee router", caller.Hex())
	}
	if s.Status == StatusPaused {
		return nil, newError("deposit fees", ErrPaused, nil, "")
	}
	if amount == nil || amount.IsZero() {
		return nil, newError("deposit fees", ErrZeroAmount, nil, "amount")
	}
	if err := fixedpoint.CheckAmount("amount", amount); err != nil {
		return nil, arithmetic("deposit fees", err)
	}

	next := p.ledger
	if err := next.ApplyDeposit(amount); err != nil {
		return nil, err
	}
	if err := p.custodian.TransferFrom(context.WithoutCancel(ctx), p.address, caller, p.address, amount); err != nil {
		return nil, newError("deposit fees", ErrExternalCallFailed, err, "pull deposit")
	}

	p.ledger = next
	p.publishLocked()
	st, err := p.stateOf(p.snap.Load())
	if err != nil {
		return nil, err
	}
	p.logger.Info("fees deposited", zap.String("amount", amount.Dec()), zap.String("reserve", st.Reserve.Dec()))
	p.emitLocked(ctx, model.EventFeesDeposited, model.FeesDepositedData{
		Amount:     amount.Dec(),
		NewReserve: st.Reserve.Dec(),
	}, st)
	return st.Reserve, nil
}

// FlushFees retries forwarding every fee still owed. It is owner-only and stays
// available while the pool is paused.
func (p *Pool) FlushFees(ctx context.Context, caller common.Address) (FeesForwarded, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return FeesForwarded{}, fmt.Errorf("flush fees: %w", err)
	}
	if caller != p.roles.Owner {
		err := newError("flush fees", ErrUnauthorized, nil, "%s is not the owner", caller.Hex())
		p.reject("flush fees", err, zap.Stringer("caller", caller))
		return FeesForwarded{}, err
	}
	out := p.forwardFeesLocked(ctx)
	if !p.ledger.owedTreasury.IsZero() || !p.ledger.owedProtocol.IsZero() {
		err := newError("flush fees", ErrExternalCallFailed, nil, "treasury %s protocol %s still owed",
			p.ledger.owedTreasury.Dec(), p.ledger.owedProtocol.Dec())
		p.reject("flush fees", err, zap.Stringer("caller", caller))
		return out, err
	}
	return out, nil
}

// forwardFeesLocked pushes owed fees to the treasury and the protocol treasury. Each
// leg is independent; a failed transfer leaves that fee owed for a later flush.
func (p *Pool) forwardFeesLocked(ctx context.Context) FeesForwarded {
	call := context.WithoutCancel(ctx)
	out := FeesForwarded{Treasury: new(uint256.Int), Protocol: new(uint256.Int)}

	if owed := p.ledger.OwedTreasury(); !owed.IsZero() {
		if err := p.custodian.Transfer(call, p.address, p.roles.Treasury, owed); err != nil {
			p.logger.Warn("treasury fee forward deferred", zap.String("owed", owed.Dec()), zap.Error(err))
		} else {
			out.Treasury = owed
		}
	}
	if owed := p.ledger.OwedProtocol(); !owed.IsZero() {
		if err := p.custodian.Transfer(call, p.address, p.roles.ProtocolTreasury, owed); err != nil {
			p.logger.Warn("protocol fee forward deferred", zap.String("owed", owed.Dec()), zap.Error(err))
		} else {
			out.Protocol = owed
		}
	}
	if out.Treasury.IsZero() && out.Protocol.IsZero() {
		return out
	}

	if err := p.ledger.Release(out.Treasury, out.Protocol); err != nil {
		p.logger.Error("release forwarded fees", zap.Error(err))
		return out
	}
	p.publishLocked()
	st, err := p.stateOf(p.snap.Load())
	if err != nil {
		p.logger.Error("state after fee forward", zap.Error(err))
		return out
	}
	p.emitLocked(ctx, model.EventFeesForwarded, model.FeesForwardedData{
		Treasury:         p.roles.Treasury.Hex(),
		TreasuryAmount:   out.Treasury.Dec(),
		ProtocolTreasury: p.roles.ProtocolTreasury.Hex(),
		ProtocolAmount:   out.Protocol.Dec(),
	}, st)
	return out
}

// CheckCustody verifies the pool account holds at least the reserve plus every fee
// still owed.
func (p *Pool) CheckCustody(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := p.ledger.Custody()
	have, err := p.custodian.BalanceOf(ctx, p.address)
	if err != nil {
		return newError("check custody", ErrExternalCallFailed, err, "balance of %s", p.address.Hex())
	}
	if have.Lt(want) {
		return newError("check custody", ErrInvariantViolation, nil, "pool account holds %s, ledger needs %s", have.Dec(), want.Dec())
	}
	return nil
}
