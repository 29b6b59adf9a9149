package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const erc20ReadABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

var (
	erc20ReadABI    abi.ABI
	erc20ReadOnce   sync.Once
	erc20ReadABIErr error
)

func getERC20ReadABI() (abi.ABI, error) {
	erc20ReadOnce.Do(func() {
		erc20ReadABI, erc20ReadABIErr = abi.JSON(strings.NewReader(erc20ReadABIJSON))
	})
	return erc20ReadABI, erc20ReadABIErr
}

// ContractCaller performs eth_call; *Client implements it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenBalances reads ERC-20 balances of one token, optionally pinned to a block.
// It covers the read side of a reserve custodian, which is all a custody audit needs.
type TokenBalances struct {
	caller ContractCaller
	token  common.Address
	block  *big.Int
}

func NewTokenBalances(caller ContractCaller, token common.Address, block *big.Int) *TokenBalances {
	return &TokenBalances{caller: caller, token: token, block: block}
}

// BalanceOf returns the token balance of account.
func (t *TokenBalances) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	if t.caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	values, err := t.call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf unexpected type %T", values[0])
	}
	out, overflow := uint256.FromBig(bal)
	if overflow {
		return nil, fmt.Errorf("balanceOf %s exceeds 256 bits", bal)
	}
	return out, nil
}

// Decimals returns the token's decimals().
func (t *TokenBalances) Decimals(ctx context.Context) (uint8, error) {
	if t.caller == nil {
		return 0, fmt.Errorf("contract caller is nil")
	}
	values, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals unexpected type %T", values[0])
	}
	return d, nil
}

func (t *TokenBalances) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	readABI, err := getERC20ReadABI()
	if err != nil {
		return nil, err
	}

	data, err := readABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	token := t.token
	resp, err := t.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, t.block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := readABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s return size %d", method, len(values))
	}
	return values, nil
}
