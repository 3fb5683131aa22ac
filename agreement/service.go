package agreement

import (
	"context"
	"fmt"
	"math/big"
)

// Service applies the agreement lifecycle on top of a Ledger.
type Service struct {
	ledger *Ledger
	policy SettlementPolicy
}

// NewService binds the lifecycle to ledger. The settlement policy is required.
func NewService(ledger *Ledger, policy SettlementPolicy) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("agreement: nil ledger")
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &Service{ledger: ledger, policy: policy}, nil
}

func (s *Service) Ledger() *Ledger {
	return s.ledger
}

func (s *Service) SettlementPolicy() SettlementPolicy {
	return s.policy
}

// InitiateAgreement records a new agreement proposed by initiator to partner.
func (s *Service) InitiateAgreement(ctx context.Context, initiator, partner Address, amount *big.Int, durationUnits uint64) (Agreement, error) {
	if err := s.ledger.ready(); err != nil {
		return Agreement{}, err
	}
	if err := ctx.Err(); err != nil {
		return Agreement{}, fmt.Errorf("agreement: initiate: %w", err)
	}
	if initiator.IsNull() {
		return Agreement{}, fmt.Errorf("%w: initiator is the null identity", ErrInvalidParty)
	}
	if partner.IsNull() {
		return Agreement{}, fmt.Errorf("%w: partner is the null identity", ErrInvalidParty)
	}
	if partner.Equal(initiator) {
		return Agreement{}, fmt.Errorf("%w: partner equals initiator", ErrInvalidParty)
	}
	if amount == nil || amount.Sign() <= 0 {
		return Agreement{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}

	return s.ledger.create(createParams{
		Initiator:     initiator.Normalize(),
		Partner:       partner.Normalize(),
		Amount:        amount,
		DurationUnits: durationUnits,
	})
}

// GetAgreement returns the current record for id.
func (s *Service) GetAgreement(ctx context.Context, id int64) (Agreement, error) {
	if err := ctx.Err(); err != nil {
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}
	return s.ledger.Get(id)
}
