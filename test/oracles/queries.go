package oracles

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/agreement"
)

// View is what the oracles inspect: a commit-consistent ledger snapshot plus
// timelines and outbox messages read afterwards.
type View struct {
	Ledger    agreement.LedgerSnapshot
	Timelines map[int64][]agreement.TimelineEvent
	Outbox    []agreement.OutboxMessage
}

func Capture(ledger *agreement.Ledger) (View, error) {
	snap, err := ledger.Snapshot()
	if err != nil {
		return View{}, err
	}
	v := View{Ledger: snap, Timelines: make(map[int64][]agreement.TimelineEvent, len(snap.Agreements))}
	for _, ag := range snap.Agreements {
		events, err := ledger.Timeline(ag.ID)
		if err != nil {
			return View{}, err
		}
		v.Timelines[ag.ID] = events
	}
	v.Outbox = ledger.Outbox().Messages()
	return v, nil
}

type Oracle struct {
	Name  string
	Check func(View) string
}

func All() []Oracle {
	return []Oracle{
		{Name: "O1_ids_dense_and_unique", Check: idsDense},
		{Name: "O2_signed_matches_state", Check: signedMatchesState},
		{Name: "O3_custody_equals_held_deposits", Check: custodyBalanced},
		{Name: "O4_deposit_only_after_funding", Check: depositMatchesState},
		{Name: "O5_settlement_iff_fulfilled", Check: settlementIffFulfilled},
		{Name: "O6_timeline_seq_monotonic", Check: timelineMonotonic},
		{Name: "O7_one_message_per_transition", Check: outboxOncePerTransition},
	}
}

// Run executes all oracles and returns the first failure (name and detail)
// or empty name if all pass.
func Run(ledger *agreement.Ledger) (string, string, error) {
	v, err := Capture(ledger)
	if err != nil {
		return "", "", fmt.Errorf("oracles: capture: %w", err)
	}
	for _, o := range All() {
		if detail := o.Check(v); detail != "" {
			return o.Name, detail, nil
		}
	}
	return "", "", nil
}

func idsDense(v View) string {
	for i, ag := range v.Ledger.Agreements {
		if ag.ID != int64(i+1) {
			return fmt.Sprintf("position %d holds id %d", i, ag.ID)
		}
	}
	return ""
}

func signedMatchesState(v View) string {
	for _, ag := range v.Ledger.Agreements {
		if ag.Signed != (ag.State >= agreement.StateSigned) {
			return fmt.Sprintf("agreement %d signed=%t state=%s", ag.ID, ag.Signed, ag.State)
		}
	}
	return ""
}

func custodyBalanced(v View) string {
	held := new(big.Int)
	for _, ag := range v.Ledger.Agreements {
		if ag.State == agreement.StateDeposited {
			held.Add(held, ag.DepositedAmount)
		}
	}
	if held.Cmp(v.Ledger.Custody.Total) != 0 {
		return fmt.Sprintf("custody total %s, deposited agreements hold %s", v.Ledger.Custody.Total, held)
	}
	return ""
}

func depositMatchesState(v View) string {
	for _, ag := range v.Ledger.Agreements {
		funded := ag.State >= agreement.StateDeposited
		if funded && ag.DepositedAmount.Cmp(ag.AgreementAmount) != 0 {
			return fmt.Sprintf("agreement %d state=%s deposited %s of %s", ag.ID, ag.State, ag.DepositedAmount, ag.AgreementAmount)
		}
		if !funded && ag.DepositedAmount.Sign() != 0 {
			return fmt.Sprintf("agreement %d state=%s already holds %s", ag.ID, ag.State, ag.DepositedAmount)
		}
	}
	return ""
}

func settlementIffFulfilled(v View) string {
	for _, ag := range v.Ledger.Agreements {
		if (ag.Settlement != nil) != (ag.State == agreement.StateFulfilled) {
			return fmt.Sprintf("agreement %d state=%s settlement=%v", ag.ID, ag.State, ag.Settlement != nil)
		}
	}
	return ""
}

// Timelines are read after the snapshot, so they may be ahead of it but
// never behind.
func timelineMonotonic(v View) string {
	for _, ag := range v.Ledger.Agreements {
		events := v.Timelines[ag.ID]
		if len(events) < int(ag.State)+1 {
			return fmt.Sprintf("agreement %d state=%s has %d events", ag.ID, ag.State, len(events))
		}
		for i, ev := range events {
			if ev.Seq != i+1 {
				return fmt.Sprintf("agreement %d event %d has seq %d", ag.ID, i, ev.Seq)
			}
		}
		if events[0].Type != agreement.EventAgreementInitiated {
			return fmt.Sprintf("agreement %d starts with %s", ag.ID, events[0].Type)
		}
	}
	return ""
}

func outboxOncePerTransition(v View) string {
	type key struct {
		id    int64
		topic string
	}
	seen := make(map[key]bool, len(v.Outbox))
	for _, msg := range v.Outbox {
		k := key{msg.AgreementID, msg.Topic}
		if seen[k] {
			return fmt.Sprintf("agreement %d has duplicate %s message", msg.AgreementID, msg.Topic)
		}
		seen[k] = true
	}
	return ""
}

// DeliveredDuplicatesSQL finds transitions published more than once to the
// escrow_outbox table.
const DeliveredDuplicatesSQL = `SELECT agreement_id, topic, COUNT(*) FROM escrow_outbox
                                GROUP BY agreement_id, topic HAVING COUNT(*) > 1`

// RunDelivered checks the published side and returns the first offending row.
func RunDelivered(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	rows, err := pool.Query(ctx, DeliveredDuplicatesSQL)
	if err != nil {
		return "", fmt.Errorf("oracle delivered duplicates: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", vals), nil
	}
	return "", rows.Err()
}
