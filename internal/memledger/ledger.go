package memledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("memledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("memledger: insufficient allowance")
	ErrUnauthorizedMinter    = errors.New("memledger: minter not authorized")
)

// Fault is consulted before every mutating call; a non-nil result fails the call
// without changing any balance. Ops are "mint", "burn", "transfer" and "transfer_from".
type Fault func(op string, from, to common.Address, amount *uint256.Int) error

// balances is an account book shared by Issuer and Custodian.
type balances struct {
	mu    sync.Mutex
	book  map[common.Address]*uint256.Int
	fault Fault
}

func newBalances() balances {
	return balances{book: make(map[common.Address]*uint256.Int)}
}

func (b *balances) balanceLocked(addr common.Address) *uint256.Int {
	if v, ok := b.book[addr]; ok {
		return v
	}
	v := new(uint256.Int)
	b.book[addr] = v
	return v
}

func (b *balances) checkFault(op string, from, to common.Address, amount *uint256.Int) error {
	if b.fault == nil {
		return nil
	}
	return b.fault(op, from, to, amount)
}

func (b *balances) moveLocked(from, to common.Address, amount *uint256.Int) error {
	src := b.balanceLocked(from)
	if src.Lt(amount) {
		return fmt.Errorf("move %s from %s holding %s: %w", amount.Dec(), from.Hex(), src.Dec(), ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	dst := b.balanceLocked(to)
	dst.Add(dst, amount)
	return nil
}

// SetFault installs a failure hook. Nil clears it.
func (b *balances) SetFault(f Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = f
}

// BalanceOf returns a copy of the account balance.
func (b *balances) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.balanceLocked(account)), nil
}

// Credit adds amount to an account outside any transfer, for seeding balances.
func (b *balances) Credit(account common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.balanceLocked(account)
	v.Add(v, amount)
}

// Issuer is an in-process token ledger. Only authorized minters may mint or burn.
type Issuer struct {
	balances
	minters map[common.Address]bool
	supply  uint256.Int
}

func NewIssuer() *Issuer {
	return &Issuer{balances: newBalances(), minters: make(map[common.Address]bool)}
}

// Authorize lets minter mint and burn.
func (i *Issuer) Authorize(minter common.Address) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.minters[minter] = true
}

// TotalSupply returns the sum of all balances.
func (i *Issuer) TotalSupply() *uint256.Int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return new(uint256.Int).Set(&i.supply)
}

func (i *Issuer) Mint(_ context.Context, minter, to common.Address, amount *uint256.Int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.minters[minter] {
		return fmt.Errorf("mint by %s: %w", minter.Hex(), ErrUnauthorizedMinter)
	}
	if err := i.checkFault("mint", minter, to, amount); err != nil {
		return err
	}
	v := i.balanceLocked(to)
	v.Add(v, amount)
	i.supply.Add(&i.supply, amount)
	return nil
}

func (i *Issuer) Burn(_ context.Context, minter, from common.Address, amount *uint256.Int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.minters[minter] {
		return fmt.Errorf("burn by %s: %w", minter.Hex(), ErrUnauthorizedMinter)
	}
	if err := i.checkFault("burn", from, minter, amount); err != nil {
		return err
	}
	v := i.balanceLocked(from)
	if v.Lt(amount) {
		return fmt.Errorf("burn %s from %s holding %s: %w", amount.Dec(), from.Hex(), v.Dec(), ErrInsufficientBalance)
	}
	v.Sub(v, amount)
	i.supply.Sub(&i.supply, amount)
	return nil
}

// Transfer moves tokens between holders.
func (i *Issuer) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.checkFault("transfer", from, to, amount); err != nil {
		return err
	}
	return i.moveLocked(from, to, amount)
}

// Credit mints outside the minter check and keeps total supply in step.
func (i *Issuer) Credit(account common.Address, amount *uint256.Int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v := i.balanceLocked(account)
	v.Add(v, amount)
	i.supply.Add(&i.supply, amount)
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Custodian is an in-process reserve asset ledger with approve-then-transfer semantics.
type Custodian struct {
	balances
	allowances map[allowanceKey]*uint256.Int
}

func NewCustodian() *Custodian {
	return &Custodian{balances: newBalances(), allowances: make(map[allowanceKey]*uint256.Int)}
}

// Approve sets the amount spender may pull from owner.
func (c *Custodian) Approve(owner, spender common.Address, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowances[allowanceKey{owner, spender}] = new(uint256.Int).Set(amount)
}

// Allowance returns what spender may still pull from owner.
func (c *Custodian) Allowance(owner, spender common.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.allowances[allowanceKey{owner, spender}]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

func (c *Custodian) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("transfer", from, to, amount); err != nil {
		return err
	}
	return c.moveLocked(from, to, amount)
}

func (c *Custodian) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("transfer_from", from, to, amount); err != nil {
		return err
	}
	key := allowanceKey{from, spender}
	allowed, ok := c.allowances[key]
	if !ok || allowed.Lt(amount) {
		return fmt.Errorf("pull %s from %s by %s: %w", amount.Dec(), from.Hex(), spender.Hex(), ErrInsufficientAllowance)
	}
	if err := c.moveLocked(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}
