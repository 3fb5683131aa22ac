package agreement

import (
	"context"
	"fmt"
	"math/big"
)

// step is one edge of the lifecycle. Every edge is partner-driven and moves
// from exactly one predecessor state to its successor.
type step struct {
	name  string
	from  State
	to    State
	event EventType
	topic string
}

var (
	stepSign = step{
		name:  "sign",
		from:  StateInitiated,
		to:    StateSigned,
		event: EventAgreementSigned,
		topic: OutboxTopicAgreementSigned,
	}
	stepDeposit = step{
		name:  "deposit",
		from:  StateSigned,
		to:    StateDeposited,
		event: EventAgreementAmountDeposited,
		topic: OutboxTopicAgreementDeposited,
	}
	stepConfirm = step{
		name:  "confirm fulfilment",
		from:  StateDeposited,
		to:    StateFulfilled,
		event: EventAgreementFulfilmentConfirmed,
		topic: OutboxTopicAgreementFulfilmentConfirmed,
	}
)

// SignAgreement lets the partner accept an initiated agreement.
func (s *Service) SignAgreement(ctx context.Context, caller Address, id int64) (Agreement, error) {
	return s.transition(ctx, caller, id, stepSign, nil, change{
		apply: func(next *Agreement, _ *Custody) error {
			next.Signed = true
			return nil
		},
	})
}

// Deposit funds a signed agreement. value must equal the agreement amount.
func (s *Service) Deposit(ctx context.Context, caller Address, id int64, value *big.Int) (Agreement, error) {
	check := func(cur Agreement) error {
		if value == nil || cur.AgreementAmount.Cmp(value) != 0 {
			return fmt.Errorf("%w: deposit %s, agreement amount %s", ErrAmountMismatch, amountString(value), cur.AgreementAmount)
		}
		return nil
	}
	return s.transition(ctx, caller, id, stepDeposit, check, change{
		apply: func(next *Agreement, custody *Custody) error {
			if err := custody.hold(next.ID, value); err != nil {
				return err
			}
			next.DepositedAmount = new(big.Int).Set(value)
			return nil
		},
		payload: func(_, next Agreement) map[string]any {
			return map[string]any{"value": next.DepositedAmount.String()}
		},
	})
}

// ConfirmFulfilment lets the partner confirm the agreement was honoured,
// releasing the custodied value according to the settlement policy.
func (s *Service) ConfirmFulfilment(ctx context.Context, caller Address, id int64) (Agreement, error) {
	return s.transition(ctx, caller, id, stepConfirm, nil, change{
		apply: func(next *Agreement, custody *Custody) error {
			amount, err := custody.release(next.ID)
			if err != nil {
				return err
			}
			next.Settlement = &Settlement{
				Payee:     s.policy.payee(*next),
				Amount:    amount,
				Policy:    s.policy,
				SettledAt: next.UpdatedAt,
			}
			return nil
		},
		payload: func(_, next Agreement) map[string]any {
			return map[string]any{
				"payee":  string(next.Settlement.Payee),
				"amount": next.Settlement.Amount.String(),
				"policy": string(next.Settlement.Policy),
			}
		},
	})
}

// transition validates caller and predecessor state under the agreement's
// lock, then commits st. Rejections leave the record untouched.
func (s *Service) transition(ctx context.Context, caller Address, id int64, st step, check func(Agreement) error, c change) (Agreement, error) {
	if err := s.ledger.ready(); err != nil {
		return Agreement{}, err
	}
	if err := ctx.Err(); err != nil {
		return Agreement{}, fmt.Errorf("agreement: %s: %w", st.name, err)
	}

	rec, err := s.ledger.lookup(id)
	if err != nil {
		return Agreement{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	cur := rec.load()
	if !caller.Equal(cur.Partner) {
		return Agreement{}, fmt.Errorf("%w: %s requires the partner of agreement %d", ErrUnauthorized, st.name, id)
	}
	if cur.State != st.from {
		return Agreement{}, fmt.Errorf("%w: cannot %s agreement %d in state %s", ErrInvalidState, st.name, id, cur.State)
	}
	if check != nil {
		if err := check(cur); err != nil {
			return Agreement{}, err
		}
	}

	next := cur.clone()
	next.State = st.to
	next.UpdatedAt = s.ledger.now().UTC()

	c.event = st.event
	c.topic = st.topic
	c.actor = caller.Normalize()
	return s.ledger.commit(rec, next, c)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
