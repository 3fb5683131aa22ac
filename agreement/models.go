package agreement

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Address identifies a party. Comparison ignores case and surrounding space.
type Address string

// NullAddress is the zero account; it can never be a party to an agreement.
const NullAddress Address = "0x0000000000000000000000000000000000000000"

func (a Address) Normalize() Address {
	return Address(strings.ToLower(strings.TrimSpace(string(a))))
}

func (a Address) IsNull() bool {
	n := a.Normalize()
	return n == "" || n == NullAddress
}

func (a Address) Equal(other Address) bool {
	return a.Normalize() == other.Normalize()
}

// State is the ordinal lifecycle stage of an agreement.
type State int

const (
	StateInitiated State = iota
	StateSigned
	StateDeposited
	StateFulfilled
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateSigned:
		return "signed"
	case StateDeposited:
		return "deposited"
	case StateFulfilled:
		return "fulfilled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState maps the lower-case state name back to its State.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "initiated":
		return StateInitiated, nil
	case "signed":
		return StateSigned, nil
	case "deposited":
		return StateDeposited, nil
	case "fulfilled":
		return StateFulfilled, nil
	default:
		return 0, fmt.Errorf("agreement: unknown state %q", raw)
	}
}

// Agreement is the authoritative record of one escrow between an initiator
// and a partner. Values returned by the ledger are copies.
type Agreement struct {
	ID              int64
	Initiator       Address
	Partner         Address
	AgreementAmount *big.Int
	DurationUnits   uint64
	Signed          bool
	State           State
	DepositedAmount *big.Int
	Settlement      *Settlement
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Agreement) clone() Agreement {
	out := a
	out.AgreementAmount = copyAmount(a.AgreementAmount)
	out.DepositedAmount = copyAmount(a.DepositedAmount)
	if a.Settlement != nil {
		s := *a.Settlement
		s.Amount = copyAmount(a.Settlement.Amount)
		out.Settlement = &s
	}
	return out
}

// Settlement records where custodied value went once an agreement was fulfilled.
type Settlement struct {
	Payee     Address
	Amount    *big.Int
	Policy    SettlementPolicy
	SettledAt time.Time
}

// EventType names a timeline event.
type EventType string

const (
	EventAgreementInitiated           EventType = "AGREEMENT_INITIATED"
	EventAgreementSigned              EventType = "AGREEMENT_SIGNED"
	EventAgreementAmountDeposited     EventType = "AGREEMENT_AMOUNT_DEPOSITED"
	EventAgreementFulfilmentConfirmed EventType = "AGREEMENT_FULFILMENT_CONFIRMED"
)

// TimelineEvent captures an immutable business event for an agreement.
type TimelineEvent struct {
	AgreementID int64
	Seq         int
	Type        EventType
	Actor       Address
	CreatedAt   time.Time
	Payload     []byte
}

// OutboxStatus tracks delivery of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusDead      OutboxStatus = "dead"
)

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID            string
	Topic         string
	AgreementID   int64
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
}

const (
	OutboxTopicAgreementInitiated           = "agreement.initiated"
	OutboxTopicAgreementSigned              = "agreement.signed"
	OutboxTopicAgreementDeposited           = "agreement.deposited"
	OutboxTopicAgreementFulfilmentConfirmed = "agreement.fulfilment_confirmed"
)

// ParseAmount reads a base-10 integer amount in base units.
func ParseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: cannot parse %q", ErrInvalidAmount, raw)
	}
	return v, nil
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
