package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgconn"

	"escrowflow/agreement"
)

// LogSink writes each message to the standard logger.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Deliver(_ context.Context, msg agreement.OutboxMessage) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("outbox: %s agreement=%d id=%s payload=%s", msg.Topic, msg.AgreementID, msg.ID, msg.Payload)
	return nil
}

// Execer abstracts pgxpool.Pool for testability.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink publishes messages into the escrow_outbox table for downstream
// consumers. A duplicate id means an earlier attempt already landed.
type PGSink struct {
	db Execer
}

func NewPGSink(db Execer) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Deliver(ctx context.Context, msg agreement.OutboxMessage) error {
	const insertSQL = `
INSERT INTO escrow_outbox (id, topic, agreement_id, payload, created_at)
VALUES ($1::uuid, $2, $3, $4::jsonb, $5);
`
	if _, err := s.db.Exec(ctx, insertSQL, msg.ID, msg.Topic, msg.AgreementID, string(msg.Payload), msg.CreatedAt.UTC()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("outbox: insert message %s: %w", msg.ID, err)
	}
	return nil
}

// Multi delivers to every sink in order and stops at the first failure.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, msg agreement.OutboxMessage) error {
	for _, s := range m {
		if err := s.Deliver(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
