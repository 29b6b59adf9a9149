package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"curvePool/internal/model"
)

// SetParameters replaces the curve ratio and fee settings. Governance only; allowed
// while paused. The access check runs before the bounds check.
func (p *Pool) SetParameters(ctx context.Context, caller common.Address, update ParamsUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.setParametersLocked(ctx, caller, update); err != nil {
		p.reject("set parameters", err, zap.Stringer("caller", caller))
		return err
	}
	return nil
}

func (p *Pool) setParametersLocked(ctx context.Context, caller common.Address, update ParamsUpdate) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("set parameters: %w", err)
	}
	if caller != p.roles.Governance {
		return newError("set parameters", ErrUnauthorized, nil, "%s is not governance", caller.Hex())
	}
	if err := update.Validate(); err != nil {
		return err
	}

	p.params.RatioPPM = update.RatioPPM
	p.params.TradeFeeBps = update.TradeFeeBps
	p.params.ProtocolFeeBps = update.ProtocolFeeBps
	p.publishLocked()
	st, err := p.stateOf(p.snap.Load())
	if err != nil {
		return err
	}
	p.logger.Info("parameters updated",
		zap.Uint32("crr_ppm", update.RatioPPM),
		zap.Uint32("trade_fee_bps", update.TradeFeeBps),
		zap.Uint32("protocol_fee_bps", update.ProtocolFeeBps),
	)
	p.emitLocked(ctx, model.EventParametersUpdated, model.ParametersUpdatedData{
		Account:        caller.Hex(),
		RatioPPM:       update.RatioPPM,
		TradeFeeBps:    update.TradeFeeBps,
		ProtocolFeeBps: update.ProtocolFeeBps,
	}, st)
	return nil
}

// Pause blocks buy, sell and fee deposits. Pausing a paused pool is a no-op.
func (p *Pool) Pause(ctx context.Context, caller common.Address) error {
	return p.setStatus(ctx, caller, StatusPaused)
}

// Unpause resumes trading. Unpausing an active pool is a no-op.
func (p *Pool) Unpause(ctx context.Context, caller common.Address) error {
	return p.setStatus(ctx, caller, StatusActive)
}

func (p *Pool) setStatus(ctx context.Context, caller common.Address, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	op := "pause"
	name := model.EventPaused
	if status == StatusActive {
		op = "unpause"
		name = model.EventUnpaused
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if caller != p.roles.Owner {
		err := newError(op, ErrUnauthorized, nil, "%s is not the owner", caller.Hex())
		p.reject(op, err, zap.Stringer("caller", caller))
		return err
	}
	if p.status == status {
		return nil
	}

	p.status = status
	p.publishLocked()
	st, err := p.stateOf(p.snap.Load())
	if err != nil {
		return err
	}
	p.logger.Info("pool status changed", zap.Stringer("status", status))
	p.emitLocked(ctx, name, model.PauseEventData{Account: caller.Hex()}, st)
	return nil
}

// SetTreasury changes where the treasury share of trade fees is sent. Owner only;
// allowed while paused so fees can be recovered during an incident.
func (p *Pool) SetTreasury(ctx context.Context, caller, treasury common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("set treasury: %w", err)
	}
	var err error
	switch {
	case caller != p.roles.Owner:
		err = newError("set treasury", ErrUnauthorized, nil, "%s is not the owner", caller.Hex())
	case treasury == (common.Address{}):
		err = newError("set treasury", ErrZeroAddress, nil, "treasury")
	}
	if err != nil {
		p.reject("set treasury", err, zap.Stringer("caller", caller))
		return err
	}

	p.roles.Treasury = treasury
	p.publishLocked()
	st, err := p.stateOf(p.snap.Load())
	if err != nil {
		return err
	}
	p.logger.Info("treasury updated", zap.Stringer("treasury", treasury))
	p.emitLocked(ctx, model.EventTreasuryUpdated, model.TreasuryUpdatedData{
		Account:  caller.Hex(),
		Treasury: treasury.Hex(),
	}, st)
	return nil
}
