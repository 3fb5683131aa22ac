package actors

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"escrowflow/agreement"
	"escrowflow/outbox"
)

// Parties is the fixed population actors draw identities from.
type Parties []agreement.Address

func (p Parties) pick(rng *rand.Rand) agreement.Address {
	return p[rng.Intn(len(p))]
}

// expected reports rejections that are legitimate under contention.
func expected(err error) bool {
	return errors.Is(err, agreement.ErrInvalidState) ||
		errors.Is(err, agreement.ErrUnauthorized) ||
		errors.Is(err, agreement.ErrNotFound) ||
		errors.Is(err, agreement.ErrAmountMismatch) ||
		errors.Is(err, agreement.ErrInvalidParty) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// target picks a random existing agreement id and returns it with the caller
// to use: usually the partner, sometimes a random party.
func target(ctx context.Context, svc *agreement.Service, parties Parties, rng *rand.Rand) (agreement.Agreement, agreement.Address, bool) {
	items, total, err := svc.ListAgreements(ctx, agreement.ListFilters{PageSize: 1})
	if err != nil || total == 0 || len(items) == 0 {
		return agreement.Agreement{}, "", false
	}
	id := int64(1 + rng.Intn(total))
	ag, err := svc.GetAgreement(ctx, id)
	if err != nil {
		return agreement.Agreement{}, "", false
	}
	caller := ag.Partner
	if rng.Intn(5) == 0 {
		caller = parties.pick(rng)
	}
	return ag, caller, true
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Initiator keeps proposing agreements between random parties, including
// occasional invalid ones.
func Initiator(ctx context.Context, svc *agreement.Service, parties Parties, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		initiator, partner := parties.pick(rng), parties.pick(rng)
		amount := big.NewInt(int64(1 + rng.Intn(1000)))
		if _, err := svc.InitiateAgreement(ctx, initiator, partner, amount, uint64(rng.Intn(365))); err != nil && !expected(err) {
			return fmt.Errorf("initiator: %w", err)
		}
		time.Sleep(time.Duration(5+rng.Intn(10)) * time.Millisecond)
	}
}

// Signer races other signers on random agreements.
func Signer(ctx context.Context, svc *agreement.Service, parties Parties, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if ag, caller, ok := target(ctx, svc, parties, rng); ok {
			if _, err := svc.SignAgreement(ctx, caller, ag.ID); err != nil && !expected(err) {
				return fmt.Errorf("signer: %w", err)
			}
		}
		time.Sleep(time.Duration(2+rng.Intn(8)) * time.Millisecond)
	}
}

// Depositor funds random agreements, sometimes with the wrong value.
func Depositor(ctx context.Context, svc *agreement.Service, parties Parties, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if ag, caller, ok := target(ctx, svc, parties, rng); ok {
			value := new(big.Int).Set(ag.AgreementAmount)
			if rng.Intn(4) == 0 {
				value.Add(value, big.NewInt(1))
			}
			if _, err := svc.Deposit(ctx, caller, ag.ID, value); err != nil && !expected(err) {
				return fmt.Errorf("depositor: %w", err)
			}
		}
		time.Sleep(time.Duration(2+rng.Intn(8)) * time.Millisecond)
	}
}

// Confirmer confirms fulfilment on random agreements.
func Confirmer(ctx context.Context, svc *agreement.Service, parties Parties, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if ag, caller, ok := target(ctx, svc, parties, rng); ok {
			if _, err := svc.ConfirmFulfilment(ctx, caller, ag.ID); err != nil && !expected(err) {
				return fmt.Errorf("confirmer: %w", err)
			}
		}
		time.Sleep(time.Duration(3+rng.Intn(10)) * time.Millisecond)
	}
}

// OutboxWorker drains the ledger outbox through relay until stopped.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if _, err := relay.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("outbox worker: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
