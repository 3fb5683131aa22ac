package agreement

import (
	"fmt"
	"sync"
	"time"
)

// Outbox is the in-memory transactional outbox. Messages are enqueued in the
// same commit as the transition they describe and drained by a relay.
type Outbox struct {
	mu       sync.Mutex
	messages []*OutboxMessage
	byID     map[string]*OutboxMessage
}

func newOutbox() *Outbox {
	o := &Outbox{}
	o.reset()
	return o
}

func (o *Outbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = nil
	o.byID = make(map[string]*OutboxMessage)
}

func (o *Outbox) enqueue(msg OutboxMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := msg
	o.messages = append(o.messages, &m)
	o.byID[m.ID] = &m
}

// Pending returns up to limit pending messages, oldest first.
func (o *Outbox) Pending(limit int) []OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit <= 0 {
		limit = len(o.messages)
	}
	out := make([]OutboxMessage, 0, min(limit, len(o.messages)))
	for _, m := range o.messages {
		if len(out) == limit {
			break
		}
		if m.Status == OutboxStatusPending {
			out = append(out, copyMessage(m))
		}
	}
	return out
}

// Messages returns every message regardless of status.
func (o *Outbox) Messages() []OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboxMessage, 0, len(o.messages))
	for _, m := range o.messages {
		out = append(out, copyMessage(m))
	}
	return out
}

// MarkProcessed records a successful delivery.
func (o *Outbox) MarkProcessed(id string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.byID[id]
	if !ok {
		return fmt.Errorf("agreement: outbox message %s not found", id)
	}
	m.Attempts++
	m.Status = OutboxStatusProcessed
	m.LastAttemptAt = &at
	return nil
}

// MarkFailed records a failed delivery. Once attempts reach maxAttempts the
// message is dead and no longer returned by Pending.
func (o *Outbox) MarkFailed(id string, at time.Time, maxAttempts int) (OutboxStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.byID[id]
	if !ok {
		return "", fmt.Errorf("agreement: outbox message %s not found", id)
	}
	m.Attempts++
	m.LastAttemptAt = &at
	if maxAttempts > 0 && m.Attempts >= maxAttempts {
		m.Status = OutboxStatusDead
	}
	return m.Status, nil
}

func copyMessage(m *OutboxMessage) OutboxMessage {
	out := *m
	out.Payload = append([]byte(nil), m.Payload...)
	if m.LastAttemptAt != nil {
		t := *m.LastAttemptAt
		out.LastAttemptAt = &t
	}
	return out
}
