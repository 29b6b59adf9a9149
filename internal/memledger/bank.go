package memledger

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Bank hands out one Custodian per reserve asset and one Issuer per pool token.
type Bank struct {
	mu         sync.Mutex
	custodians map[common.Address]*Custodian
	issuers    map[common.Hash]*Issuer
}

func NewBank() *Bank {
	return &Bank{
		custodians: make(map[common.Address]*Custodian),
		issuers:    make(map[common.Hash]*Issuer),
	}
}

// Custodian returns the ledger of asset, creating it on first use.
func (b *Bank) Custodian(asset common.Address) *Custodian {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.custodians[asset]
	if !ok {
		c = NewCustodian()
		b.custodians[asset] = c
	}
	return c
}

// Issuer returns the token ledger of a pool, creating it on first use.
func (b *Bank) Issuer(poolID common.Hash) *Issuer {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.issuers[poolID]
	if !ok {
		i = NewIssuer()
		b.issuers[poolID] = i
	}
	return i
}
