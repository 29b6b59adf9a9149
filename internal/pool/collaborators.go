package pool

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"curvePool/internal/model"
)

// TokenIssuer mints and burns the pool token. The issuer decides which minters it
// accepts; the pool never changes supply on its own.
type TokenIssuer interface {
	Mint(ctx context.Context, minter, to common.Address, amount *uint256.Int) error
	Burn(ctx context.Context, minter, from common.Address, amount *uint256.Int) error
}

// AssetCustodian moves the reserve asset. TransferFrom pulls against an allowance
// granted to spender; Transfer pushes from an account the pool controls.
type AssetCustodian interface {
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// EventSink receives events after the state change they describe has committed.
type EventSink interface {
	Publish(ctx context.Context, event model.PoolEvent) error
}

// Clock supplies the time trades are evaluated against.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
