package agreement

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// ErrInvalidSettlementPolicy is returned for a settlement policy other than
// SettlementPayInitiator or SettlementRefundPartner.
var ErrInvalidSettlementPolicy = errors.New("agreement: invalid settlement policy")

// SettlementPolicy decides who receives custodied value on fulfilment.
// There is no default; deployments must pick one.
type SettlementPolicy string

const (
	// SettlementPayInitiator releases the deposit to the initiator as payment.
	SettlementPayInitiator SettlementPolicy = "initiator"
	// SettlementRefundPartner returns the deposit to the partner.
	SettlementRefundPartner SettlementPolicy = "partner"
)

func ParseSettlementPolicy(raw string) (SettlementPolicy, error) {
	p := SettlementPolicy(strings.ToLower(strings.TrimSpace(raw)))
	if err := p.validate(); err != nil {
		return "", err
	}
	return p, nil
}

func (p SettlementPolicy) validate() error {
	switch p {
	case SettlementPayInitiator, SettlementRefundPartner:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSettlementPolicy, string(p))
	}
}

func (p SettlementPolicy) payee(a Agreement) Address {
	if p == SettlementRefundPartner {
		return a.Partner
	}
	return a.Initiator
}

// Custody tracks value held against agreements that are deposited but not
// yet settled.
type Custody struct {
	mu       sync.Mutex
	held     map[int64]*big.Int
	total    *big.Int
	released *big.Int
	settled  int
}

func newCustody() *Custody {
	c := &Custody{}
	c.reset()
	return c
}

func (c *Custody) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = make(map[int64]*big.Int)
	c.total = new(big.Int)
	c.released = new(big.Int)
	c.settled = 0
}

// hold takes custody of amount for an agreement. An agreement can be funded once.
func (c *Custody) hold(id int64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: custody requires a positive amount", ErrAmountMismatch)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[id]; ok {
		return fmt.Errorf("%w: agreement %d already funded", ErrInvalidState, id)
	}
	c.held[id] = new(big.Int).Set(amount)
	c.total.Add(c.total, amount)
	return nil
}

// release hands the held amount for id out of custody and returns it.
func (c *Custody) release(id int64) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	amount, ok := c.held[id]
	if !ok {
		return nil, fmt.Errorf("%w: agreement %d holds no custody", ErrInvalidState, id)
	}
	delete(c.held, id)
	c.total.Sub(c.total, amount)
	c.released.Add(c.released, amount)
	c.settled++
	return amount, nil
}

// Total is the value currently held across all unsettled agreements.
func (c *Custody) Total() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.total)
}

// CustodySnapshot is a point-in-time copy of custody accounting.
type CustodySnapshot struct {
	Total    *big.Int
	Released *big.Int
	Settled  int
	Held     map[int64]*big.Int
}

func (c *Custody) snapshot() CustodySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	held := make(map[int64]*big.Int, len(c.held))
	for id, v := range c.held {
		held[id] = new(big.Int).Set(v)
	}
	return CustodySnapshot{
		Total:    new(big.Int).Set(c.total),
		Released: new(big.Int).Set(c.released),
		Settled:  c.settled,
		Held:     held,
	}
}
