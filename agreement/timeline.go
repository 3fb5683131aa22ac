package agreement

import (
	"encoding/json"
	"time"
)

// appendEvent adds the next sequenced event to rec. Callers hold commitMu.
func (l *Ledger) appendEvent(rec *record, agreementID int64, eventType EventType, actor Address, payload map[string]any, at time.Time) {
	rec.events = append(rec.events, TimelineEvent{
		AgreementID: agreementID,
		Seq:         len(rec.events) + 1,
		Type:        eventType,
		Actor:       actor,
		CreatedAt:   at,
		Payload:     mustJSON(payload),
	})
}

func (l *Ledger) enqueueOutbox(agreementID int64, topic string, payload map[string]any, at time.Time) {
	l.outbox.enqueue(OutboxMessage{
		ID:          l.idGenerator(),
		Topic:       topic,
		AgreementID: agreementID,
		Payload:     mustJSON(payload),
		Status:      OutboxStatusPending,
		CreatedAt:   at,
	})
}

// Timeline returns the events recorded for an agreement in sequence order.
func (l *Ledger) Timeline(id int64) ([]TimelineEvent, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rec, err := l.lookup(id)
	if err != nil {
		return nil, err
	}

	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	out := make([]TimelineEvent, len(rec.events))
	copy(out, rec.events)
	return out, nil
}

func mustJSON(payload map[string]any) []byte {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return b
}
