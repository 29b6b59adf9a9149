package memledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	minter = common.HexToAddress("0x0000000000000000000000000000000000000001")
	holder = common.HexToAddress("0x0000000000000000000000000000000000000002")
	other  = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func TestIssuerMintBurn(t *testing.T) {
	ctx := context.Background()
	issuer := NewIssuer()

	err := issuer.Mint(ctx, minter, holder, uint256.NewInt(10))
	require.ErrorIs(t, err, ErrUnauthorizedMinter)

	issuer.Authorize(minter)
	require.NoError(t, issuer.Mint(ctx, minter, holder, uint256.NewInt(10)))
	require.Equal(t, uint64(10), issuer.TotalSupply().Uint64())

	err = issuer.Burn(ctx, minter, holder, uint256.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, issuer.Burn(ctx, minter, holder, uint256.NewInt(4)))
	bal, err := issuer.BalanceOf(ctx, holder)
	require.NoError(t, err)
	require.Equal(t, uint64(6), bal.Uint64())
	require.Equal(t, uint64(6), issuer.TotalSupply().Uint64())

	require.NoError(t, issuer.Transfer(ctx, holder, other, uint256.NewInt(6)))
	require.Equal(t, uint64(6), issuer.TotalSupply().Uint64())
}

func TestCustodianAllowance(t *testing.T) {
	ctx := context.Background()
	c := NewCustodian()
	c.Credit(holder, uint256.NewInt(100))

	err := c.TransferFrom(ctx, minter, holder, other, uint256.NewInt(10))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	c.Approve(holder, minter, uint256.NewInt(30))
	require.NoError(t, c.TransferFrom(ctx, minter, holder, other, uint256.NewInt(10)))
	require.Equal(t, uint64(20), c.Allowance(holder, minter).Uint64())

	err = c.Transfer(ctx, other, holder, uint256.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestFaultLeavesBalancesUnchanged(t *testing.T) {
	ctx := context.Background()
	c := NewCustodian()
	c.Credit(holder, uint256.NewInt(100))
	c.Approve(holder, minter, uint256.NewInt(100))
	boom := errors.New("boom")
	c.SetFault(func(op string, _, _ common.Address, _ *uint256.Int) error {
		if op == "transfer_from" {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, c.TransferFrom(ctx, minter, holder, other, uint256.NewInt(10)), boom)
	require.Equal(t, uint64(100), c.Allowance(holder, minter).Uint64())
	bal, err := c.BalanceOf(ctx, holder)
	require.NoError(t, err)
	require.Equal(t, uint64(100), bal.Uint64())

	c.SetFault(nil)
	require.NoError(t, c.TransferFrom(ctx, minter, holder, other, uint256.NewInt(10)))
}

func TestBankReusesLedgers(t *testing.T) {
	bank := NewBank()
	asset := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	id := common.HexToHash("0x01")

	require.Same(t, bank.Custodian(asset), bank.Custodian(asset))
	require.NotSame(t, bank.Custodian(asset), bank.Custodian(common.HexToAddress("0xc2")))
	require.Same(t, bank.Issuer(id), bank.Issuer(id))
}
