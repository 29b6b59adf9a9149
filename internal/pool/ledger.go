package pool

import (
	"github.com/holiman/uint256"

	"curvePool/internal/fixedpoint"
)

// ReserveLedger holds a pool's reserve, circulating supply and the trade fees it
// owes to the treasuries. Fees owed sit in the pool account but outside the reserve.
//
// Every mutator stages the change on a copy, checks the invariants on the copy and
// only then commits, so a failed mutator leaves the ledger untouched.
type ReserveLedger struct {
	reserve      uint256.Int
	supply       uint256.Int
	owedTreasury uint256.Int
	owedProtocol uint256.Int
}

// NewReserveLedger seeds a ledger. Nil amounts are zero.
func NewReserveLedger(reserve, supply *uint256.Int) (ReserveLedger, error) {
	var l ReserveLedger
	if reserve != nil {
		l.reserve.Set(reserve)
	}
	if supply != nil {
		l.supply.Set(supply)
	}
	if err := l.check("seed"); err != nil {
		return ReserveLedger{}, err
	}
	return l, nil
}

func (l ReserveLedger) Reserve() *uint256.Int { return new(uint256.Int).Set(&l.reserve) }

func (l ReserveLedger) Supply() *uint256.Int { return new(uint256.Int).Set(&l.supply) }

func (l ReserveLedger) OwedTreasury() *uint256.Int { return new(uint256.Int).Set(&l.owedTreasury) }

func (l ReserveLedger) OwedProtocol() *uint256.Int { return new(uint256.Int).Set(&l.owedProtocol) }

// Custody is the reserve plus every fee still owed: what the pool account must hold.
func (l ReserveLedger) Custody() *uint256.Int {
	out := new(uint256.Int).Add(&l.reserve, &l.owedTreasury)
	return out.Add(out, &l.owedProtocol)
}

// ApplyBuy adds netIn to the reserve and tokensOut to the supply.
func (l *ReserveLedger) ApplyBuy(netIn, tokensOut *uint256.Int) error {
	next := *l
	next.reserve.Add(&next.reserve, netIn)
	next.supply.Add(&next.supply, tokensOut)
	return l.commit(next, "apply buy")
}

// ApplySell removes tokensIn from the supply and reserveOut from the reserve.
func (l *ReserveLedger) ApplySell(tokensIn, reserveOut *uint256.Int) error {
	if tokensIn.Gt(&l.supply) {
		return newError("apply sell", ErrInvariantViolation, nil, "burn %s above supply %s", tokensIn.Dec(), l.supply.Dec())
	}
	if reserveOut.Gt(&l.reserve) {
		return newError("apply sell", ErrInvariantViolation, nil, "release %s above reserve %s", reserveOut.Dec(), l.reserve.Dec())
	}
	next := *l
	next.supply.Sub(&next.supply, tokensIn)
	next.reserve.Sub(&next.reserve, reserveOut)
	return l.commit(next, "apply sell")
}

// ApplyDeposit adds amount to the reserve without touching supply.
func (l *ReserveLedger) ApplyDeposit(amount *uint256.Int) error {
	next := *l
	next.reserve.Add(&next.reserve, amount)
	return l.commit(next, "apply deposit")
}

// Accrue records fees owed to the treasury and the protocol treasury.
func (l *ReserveLedger) Accrue(treasury, protocol *uint256.Int) error {
	next := *l
	next.owedTreasury.Add(&next.owedTreasury, treasury)
	next.owedProtocol.Add(&next.owedProtocol, protocol)
	return l.commit(next, "accrue fees")
}

// Release clears fees that have left the pool account.
func (l *ReserveLedger) Release(treasury, protocol *uint256.Int) error {
	if treasury.Gt(&l.owedTreasury) || protocol.Gt(&l.owedProtocol) {
		return newError("release fees", ErrInvariantViolation, nil, "release %s/%s above owed %s/%s",
			treasury.Dec(), protocol.Dec(), l.owedTreasury.Dec(), l.owedProtocol.Dec())
	}
	next := *l
	next.owedTreasury.Sub(&next.owedTreasury, treasury)
	next.owedProtocol.Sub(&next.owedProtocol, protocol)
	return l.commit(next, "release fees")
}

func (l *ReserveLedger) commit(next ReserveLedger, op string) error {
	if err := next.check(op); err != nil {
		return err
	}
	*l = next
	return nil
}

func (l ReserveLedger) check(op string) error {
	for _, v := range []struct {
		name string
		val  *uint256.Int
	}{
		{"reserve", &l.reserve},
		{"supply", &l.supply},
		{"treasury fees owed", &l.owedTreasury},
		{"protocol fees owed", &l.owedProtocol},
	} {
		if err := fixedpoint.CheckAmount(v.name, v.val); err != nil {
			return newError(op, ErrArithmetic, err, "")
		}
	}
	if !l.supply.IsZero() && l.reserve.IsZero() {
		return newError(op, ErrInvariantViolation, nil, "supply %s has no reserve backing", l.supply.Dec())
	}
	return nil
}
