package agreement

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidParty is returned when the partner is null or equals the initiator.
	ErrInvalidParty = errors.New("agreement: invalid party")
	// ErrInvalidAmount is returned when an agreement amount is missing or not positive.
	ErrInvalidAmount = errors.New("agreement: invalid amount")
	// ErrNotFound is returned when no agreement exists for the provided identifier.
	ErrNotFound = errors.New("agreement: not found")
	// ErrUnauthorized is returned when the caller does not hold the role a transition requires.
	ErrUnauthorized = errors.New("agreement: unauthorized")
	// ErrInvalidState is returned when the agreement is not in the predecessor state of a transition.
	ErrInvalidState = errors.New("agreement: invalid state")
	// ErrAmountMismatch is returned when a deposit differs from the agreement amount.
	ErrAmountMismatch = errors.New("agreement: amount mismatch")
	// ErrNotInitialized is returned by every operation before Initialize.
	ErrNotInitialized = errors.New("agreement: ledger not initialized")
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("agreement: ledger already initialized")
)

// record holds one agreement. mu serializes transitions on that agreement;
// current and events are published under Ledger.commitMu.
type record struct {
	mu      sync.Mutex
	current atomic.Pointer[Agreement]
	events  []TimelineEvent
}

func (r *record) load() Agreement {
	return r.current.Load().clone()
}

// Ledger owns every agreement, assigns identifiers and is the single source
// of truth for state. Custody totals, timeline events and outbox messages are
// written in the same commit as the record they describe.
//
// Lock order: record.mu, then commitMu, then mu.
type Ledger struct {
	initialized atomic.Bool

	commitMu sync.Mutex

	mu      sync.RWMutex
	records []*record // index i holds agreement id i+1

	custody *Custody
	outbox  *Outbox

	idGenerator func() string
	now         func() time.Time
}

// NewLedger builds an empty ledger. Initialize must be called before use.
func NewLedger() *Ledger {
	return &Ledger{
		custody:     newCustody(),
		outbox:      newOutbox(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.idGenerator = gen
	return l
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Initialize prepares an empty ledger. It may run once per ledger.
func (l *Ledger) Initialize() error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized.Load() {
		return ErrAlreadyInitialized
	}
	l.records = nil
	l.custody.reset()
	l.outbox.reset()
	l.initialized.Store(true)
	return nil
}

func (l *Ledger) ready() error {
	if !l.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Outbox exposes the pending notification queue for relays.
func (l *Ledger) Outbox() *Outbox {
	return l.outbox
}

func (l *Ledger) lookup(id int64) (*record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id < 1 || id > int64(len(l.records)) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return l.records[id-1], nil
}

// Get returns a copy of the agreement with the given id.
func (l *Ledger) Get(id int64) (Agreement, error) {
	if err := l.ready(); err != nil {
		return Agreement{}, err
	}
	rec, err := l.lookup(id)
	if err != nil {
		return Agreement{}, err
	}
	return rec.load(), nil
}

type createParams struct {
	Initiator     Address
	Partner       Address
	Amount        *big.Int
	DurationUnits uint64
}

func (l *Ledger) create(params createParams) (Agreement, error) {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	now := l.now().UTC()
	l.mu.Lock()
	ag := &Agreement{
		ID:              int64(len(l.records)) + 1,
		Initiator:       params.Initiator,
		Partner:         params.Partner,
		AgreementAmount: copyAmount(params.Amount),
		DurationUnits:   params.DurationUnits,
		State:           StateInitiated,
		DepositedAmount: new(big.Int),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	rec := &record{}
	rec.current.Store(ag)
	l.records = append(l.records, rec)
	l.mu.Unlock()

	payload := map[string]any{
		"agreement_id":   ag.ID,
		"initiator":      string(ag.Initiator),
		"partner":        string(ag.Partner),
		"amount":         ag.AgreementAmount.String(),
		"duration_units": ag.DurationUnits,
	}
	l.appendEvent(rec, ag.ID, EventAgreementInitiated, ag.Initiator, payload, now)
	l.enqueueOutbox(ag.ID, OutboxTopicAgreementInitiated, payload, now)

	return ag.clone(), nil
}

// change describes one committed transition. apply runs under the commit lock
// and may touch custody; if it fails nothing is written.
type change struct {
	event   EventType
	topic   string
	actor   Address
	apply   func(next *Agreement, custody *Custody) error
	payload func(prev, next Agreement) map[string]any
}

// commit publishes next for rec together with its custody effect, timeline
// event and outbox message. The caller holds rec.mu.
func (l *Ledger) commit(rec *record, next Agreement, c change) (Agreement, error) {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	prev := rec.load()
	if c.apply != nil {
		if err := c.apply(&next, l.custody); err != nil {
			return Agreement{}, err
		}
	}

	payload := map[string]any{
		"agreement_id":    next.ID,
		"previous_status": prev.State.String(),
		"next_status":     next.State.String(),
	}
	if c.payload != nil {
		for k, v := range c.payload(prev, next) {
			payload[k] = v
		}
	}
	l.appendEvent(rec, next.ID, c.event, c.actor, payload, next.UpdatedAt)
	l.enqueueOutbox(next.ID, c.topic, payload, next.UpdatedAt)

	stored := next.clone()
	rec.current.Store(&stored)
	return next.clone(), nil
}

// LedgerSnapshot is a consistent view of every agreement and the custody
// totals at one commit boundary.
type LedgerSnapshot struct {
	Agreements []Agreement
	Custody    CustodySnapshot
}

// Snapshot captures all agreements and custody totals atomically with respect
// to transitions.
func (l *Ledger) Snapshot() (LedgerSnapshot, error) {
	if err := l.ready(); err != nil {
		return LedgerSnapshot{}, err
	}
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	l.mu.RLock()
	out := make([]Agreement, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.load())
	}
	l.mu.RUnlock()

	return LedgerSnapshot{Agreements: out, Custody: l.custody.snapshot()}, nil
}
