package agreement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"
	"time"
)

const (
	initiatorA Address = "0xA11cE00000000000000000000000000000000001"
	partnerB   Address = "0xb0B0000000000000000000000000000000000002"
	strangerC  Address = "0xc4a10000000000000000000000000000000000c3"
)

var oneEther = mustAmount("1000000000000000000")

func mustAmount(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func newTestService(t *testing.T, policy SettlementPolicy) *Service {
	t.Helper()
	seq := 0
	ledger := NewLedger().
		WithClock(func() time.Time { return time.Date(2024, 10, 31, 15, 4, 5, 0, time.UTC) }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("msg-%d", seq)
		})
	if err := ledger.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	svc, err := NewService(ledger, policy)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestInitiateAgreement_AssignsSequentialIDs(t *testing.T) {
	svc := newTestService(t, SettlementPayInitiator)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		ag, err := svc.InitiateAgreement(ctx, initiatorA, partnerB, oneEther, 5)
		if err != nil {
			t.Fatalf("initiate: unexpected error: %v", err)
		}
		if ag.ID != want {
			t.Fatalf("expected id %d, got %d", want, ag.ID)
		}

		got, err := svc.GetAgreement(ctx, ag.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != StateInitiated || got.Signed || got.DepositedAmount.Sign() != 0 {
			t.Fatalf("unexpected fresh agreement: %+v", got)
		}
		if !got.Initiator.Equal(initiatorA) || !got.Partner.Equal(partnerB) {
			t.Fatalf("unexpected parties: %s / %s", got.Initiator, got.Partner)
		}
		if got.AgreementAmount.Cmp(oneEther) != 0 || got.DurationUnits != 5 {
			t.Fatalf("unexpected terms: amount=%s duration=%d", got.AgreementAmount, got.DurationUnits)
		}
	}
}

func TestInitiateAgreement_Validation(t *testing.T) {
	svc := newTestService(t, SettlementPayInitiator)
	ctx := context.Background()

	cases := []struct {
		name      string
		initiator Address
		partner   Address
		amount    *big.Int
		want      error
	}{
		{"partner equals initiator", initiatorA, initiatorA, oneEther, ErrInvalidParty},
		{"partner equals initiator ignoring case", initiatorA, "0xa11ce00000000000000000000000000000000001", oneEther, ErrInvalidParty},
		{"null partner", initiatorA, NullAddress, oneEther, ErrInvalidParty},
		{"empty partner", initiatorA, "", oneEther, ErrInvalidParty},
		{"null initiator", "", partnerB, oneEther, ErrInvalidParty},
		{"zero amount", initiatorA, partnerB, big.NewInt(0), ErrInvalidAmount},
		{"negative amount", initiatorA, partnerB, big.NewInt(-1), ErrInvalidAmount},
		{"nil amount", initiatorA, partnerB, nil, ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.InitiateAgreement(ctx, tc.initiator, tc.partner, tc.amount, 5); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := svc.GetAgreement(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no agreement to be stored after rejections, got %v", err)
	}
	if msgs := svc.Ledger().Outbox().Messages(); len(msgs) != 0 {
		t.Fatalf("expected no outbox messages after rejections, got %d", len(msgs))
	}
}

func TestInitiateAgreement_CopiesAmount(t *testing.T) {
	svc := newTestService(t, SettlementPayInitiator)
	amount := big.NewInt(10)

	ag, err := svc.InitiateAgreement(context.Background(), initiatorA, partnerB, amount, 1)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	amount.SetInt64(99)
	ag.AgreementAmount.SetInt64(77)

	got, err := svc.GetAgreement(context.Background(), ag.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AgreementAmount.Int64() != 10 {
		t.Fatalf("expected stored amount 10, got %s", got.AgreementAmount)
	}
}

func TestGetAgreement_NotFound(t *testing.T) {
	svc := newTestService(t, SettlementPayInitiator)
	for _, id := range []int64{0, -1, 1, 42} {
		if _, err := svc.GetAgreement(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("id %d: expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestLedger_Initialize(t *testing.T) {
	ledger := NewLedger()
	svc, err := NewService(ledger, SettlementRefundPartner)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.InitiateAgreement(ctx, initiatorA, partnerB, oneEther, 5); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized before initialize, got %v", err)
	}
	if _, err := svc.GetAgreement(ctx, 1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized on get, got %v", err)
	}
	if _, err := svc.SignAgreement(ctx, partnerB, 1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized on sign, got %v", err)
	}

	if err := ledger.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := ledger.Initialize(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	ag, err := svc.InitiateAgreement(ctx, initiatorA, partnerB, oneEther, 5)
	if err != nil {
		t.Fatalf("initiate after initialize: %v", err)
	}
	if ag.ID != 1 {
		t.Fatalf("expected first id 1, got %d", ag.ID)
	}
}

func TestNewService_RequiresSettlementPolicy(t *testing.T) {
	for _, p := range []SettlementPolicy{"", "escrow", "INITIATOR"} {
		if _, err := NewService(NewLedger(), p); !errors.Is(err, ErrInvalidSettlementPolicy) {
			t.Fatalf("policy %q: expected ErrInvalidSettlementPolicy, got %v", p, err)
		}
	}
	if _, err := NewService(nil, SettlementPayInitiator); err == nil {
		t.Fatal("expected error for nil ledger")
	}

	p, err := ParseSettlementPolicy(" Partner ")
	if err != nil || p != SettlementRefundPartner {
		t.Fatalf("expected partner policy, got %q (%v)", p, err)
	}
}

func TestService_CanceledContextIsRejectedBeforeCommit(t *testing.T) {
	svc := newTestService(t, SettlementPayInitiator)
	ag, err := svc.InitiateAgreement(context.Background(), initiatorA, partnerB, oneEther, 5)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.SignAgreement(ctx, partnerB, ag.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	got, _ := svc.GetAgreement(context.Background(), ag.ID)
	if got.State != StateInitiated {
		t.Fatalf("expected state initiated, got %s", got.State)
	}
}

func TestListAgreements_FiltersAndPages(t *testing.T) {
	svc := newTestService(t, SettlementPayInitiator)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.InitiateAgreement(ctx, initiatorA, partnerB, oneEther, 5); err != nil {
			t.Fatalf("initiate: %v", err)
		}
	}
	if _, err := svc.InitiateAgreement(ctx, strangerC, initiatorA, oneEther, 5); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.SignAgreement(ctx, partnerB, 2); err != nil {
		t.Fatalf("sign: %v", err)
	}

	items, total, err := svc.ListAgreements(ctx, ListFilters{Party: partnerB})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(items) != 3 || items[0].ID != 1 || items[2].ID != 3 {
		t.Fatalf("unexpected partner listing: total=%d items=%d", total, len(items))
	}

	items, total, err = svc.ListAgreements(ctx, ListFilters{Party: initiatorA, Page: 2, PageSize: 3})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if total != 4 || len(items) != 1 || items[0].ID != 4 {
		t.Fatalf("unexpected second page: total=%d items=%+v", total, items)
	}

	signed := StateSigned
	items, total, err = svc.ListAgreements(ctx, ListFilters{State: &signed})
	if err != nil {
		t.Fatalf("list signed: %v", err)
	}
	if total != 1 || items[0].ID != 2 {
		t.Fatalf("expected only agreement 2 signed, got total=%d", total)
	}

	items, total, err = svc.ListAgreements(ctx, ListFilters{Party: strangerC, Page: 5})
	if err != nil {
		t.Fatalf("list out of range: %v", err)
	}
	if total != 1 || len(items) != 0 {
		t.Fatalf("expected empty page with total 1, got total=%d items=%d", total, len(items))
	}
}

func TestListAgreements_HugePageIsEmpty(t *testing.T) {
	svc := newTestService(t, SettlementPayInitiator)
	ctx := context.Background()
	if _, err := svc.InitiateAgreement(ctx, initiatorA, partnerB, oneEther, 5); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	for _, f := range []ListFilters{
		{Page: math.MaxInt/20 + 2, PageSize: 20},
		{Page: math.MaxInt, PageSize: 100},
		{Page: math.MaxInt},
	} {
		items, total, err := svc.ListAgreements(ctx, f)
		if err != nil {
			t.Fatalf("list page %d: %v", f.Page, err)
		}
		if total != 1 || len(items) != 0 {
			t.Fatalf("page %d: expected empty page with total 1, got total=%d items=%d", f.Page, total, len(items))
		}
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StateInitiated, StateSigned, StateDeposited, StateFulfilled} {
		got, err := ParseState(s.String())
		if err != nil || got != s {
			t.Fatalf("round trip %s: got %s (%v)", s, got, err)
		}
	}
	if _, err := ParseState("cancelled"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000000000000000")
	if err != nil || v.Cmp(oneEther) != 0 {
		t.Fatalf("expected one ether, got %v (%v)", v, err)
	}
	if _, err := ParseAmount("1e18"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
