package pool

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"curvePool/internal/fixedpoint"
)

func TestLedgerRejectsUnbackedSupply(t *testing.T) {
	_, err := NewReserveLedger(new(uint256.Int), uint256.NewInt(10))
	require.ErrorIs(t, err, ErrInvariantViolation)

	l, err := NewReserveLedger(uint256.NewInt(100), uint256.NewInt(10))
	require.NoError(t, err)

	err = l.ApplySell(uint256.NewInt(5), uint256.NewInt(100))
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.Equal(t, uint64(100), l.Reserve().Uint64(), "failed mutator must not change the ledger")
	require.Equal(t, uint64(10), l.Supply().Uint64())

	require.NoError(t, l.ApplySell(uint256.NewInt(10), uint256.NewInt(100)))
	require.True(t, l.Reserve().IsZero())
	require.True(t, l.Supply().IsZero())
}

func TestLedgerRejectsOverdraw(t *testing.T) {
	l, err := NewReserveLedger(uint256.NewInt(100), uint256.NewInt(10))
	require.NoError(t, err)

	require.ErrorIs(t, l.ApplySell(uint256.NewInt(11), uint256.NewInt(1)), ErrInvariantViolation)
	require.ErrorIs(t, l.ApplySell(uint256.NewInt(1), uint256.NewInt(101)), ErrInvariantViolation)
	require.ErrorIs(t, l.Release(uint256.NewInt(1), new(uint256.Int)), ErrInvariantViolation)
}

func TestLedgerOverflowIsArithmetic(t *testing.T) {
	l, err := NewReserveLedger(fixedpoint.MaxAmount, uint256.NewInt(1))
	require.NoError(t, err)

	err = l.ApplyDeposit(uint256.NewInt(1))
	require.ErrorIs(t, err, KindArithmetic)
	require.ErrorIs(t, err, fixedpoint.ErrOverflow)
	require.True(t, l.Reserve().Eq(fixedpoint.MaxAmount))
}

func TestLedgerFeesStayOutsideReserve(t *testing.T) {
	l, err := NewReserveLedger(uint256.NewInt(1_000), uint256.NewInt(50))
	require.NoError(t, err)

	require.NoError(t, l.ApplyBuy(uint256.NewInt(99), uint256.NewInt(5)))
	require.NoError(t, l.Accrue(uint256.NewInt(8), uint256.NewInt(2)))
	require.Equal(t, uint64(1_099), l.Reserve().Uint64())
	require.Equal(t, uint64(55), l.Supply().Uint64())
	require.Equal(t, uint64(1_109), l.Custody().Uint64())

	require.NoError(t, l.Release(uint256.NewInt(8), uint256.NewInt(2)))
	require.Equal(t, uint64(1_099), l.Custody().Uint64())
}
