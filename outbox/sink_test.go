package outbox

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"escrowflow/agreement"
)

type fakeExecer struct {
	err  error
	sql  string
	args []any
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func testMessage() agreement.OutboxMessage {
	return agreement.OutboxMessage{
		ID:          "7f1f2c1e-8f43-4c5e-9a4c-0c6f0f1b2a3d",
		Topic:       agreement.OutboxTopicAgreementSigned,
		AgreementID: 3,
		Payload:     []byte(`{"agreement_id":3}`),
		CreatedAt:   time.Date(2024, 10, 31, 15, 4, 5, 0, time.UTC),
	}
}

func TestPGSink_Deliver(t *testing.T) {
	db := &fakeExecer{}
	if err := NewPGSink(db).Deliver(context.Background(), testMessage()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !strings.Contains(db.sql, "INSERT INTO escrow_outbox") {
		t.Fatalf("unexpected sql: %s", db.sql)
	}
	if len(db.args) != 5 || db.args[1] != agreement.OutboxTopicAgreementSigned || db.args[2] != int64(3) {
		t.Fatalf("unexpected args: %v", db.args)
	}
}

func TestPGSink_DuplicateIsDelivered(t *testing.T) {
	db := &fakeExecer{err: &pgconn.PgError{Code: "23505"}}
	if err := NewPGSink(db).Deliver(context.Background(), testMessage()); err != nil {
		t.Fatalf("expected duplicate to count as delivered, got %v", err)
	}
}

func TestPGSink_WrapsOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	db := &fakeExecer{err: boom}
	err := NewPGSink(db).Deliver(context.Background(), testMessage())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestLogSink_Deliver(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: log.New(&buf, "", 0)}
	if err := sink.Deliver(context.Background(), testMessage()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !strings.Contains(buf.String(), "agreement.signed agreement=3") {
		t.Fatalf("unexpected log line: %q", buf.String())
	}
}
