package outbox

import (
	"context"
	"fmt"
	"log"
	"time"

	"escrowflow/agreement"
)

// Source is the queue a relay drains. *agreement.Outbox implements it.
type Source interface {
	Pending(limit int) []agreement.OutboxMessage
	MarkProcessed(id string, at time.Time) error
	MarkFailed(id string, at time.Time, maxAttempts int) (agreement.OutboxStatus, error)
}

// Sink delivers one message downstream. Deliver must be idempotent on msg.ID.
type Sink interface {
	Deliver(ctx context.Context, msg agreement.OutboxMessage) error
}

type Options struct {
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
}

// Relay moves pending outbox messages to a sink, retrying failures until a
// message runs out of attempts.
type Relay struct {
	source Source
	sink   Sink
	opts   Options
	now    func() time.Time
}

func NewRelay(source Source, sink Sink, opts Options) *Relay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Relay{source: source, sink: sink, opts: opts, now: time.Now}
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Result counts what one drain pass did.
type Result struct {
	Processed int
	Failed    int
	Dead      int
}

// DrainOnce delivers one batch of pending messages.
func (r *Relay) DrainOnce(ctx context.Context) (Result, error) {
	var res Result
	for _, msg := range r.source.Pending(r.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		deliverErr := r.sink.Deliver(ctx, msg)
		at := r.now().UTC()
		if deliverErr == nil {
			if err := r.source.MarkProcessed(msg.ID, at); err != nil {
				return res, fmt.Errorf("outbox: mark processed %s: %w", msg.ID, err)
			}
			res.Processed++
			continue
		}

		status, err := r.source.MarkFailed(msg.ID, at, r.opts.MaxAttempts)
		if err != nil {
			return res, fmt.Errorf("outbox: mark failed %s: %w", msg.ID, err)
		}
		res.Failed++
		if status == agreement.OutboxStatusDead {
			res.Dead++
			log.Printf("outbox: message %s (%s) dead after %d attempts: %v", msg.ID, msg.Topic, r.opts.MaxAttempts, deliverErr)
		}
	}
	return res, nil
}

// Run drains on every poll interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("outbox: drain: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
