package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExecer struct {
	statements []string
	err        error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.statements = append(r.statements, sql)
	return pgconn.CommandTag{}, r.err
}

func TestMigrate_AppliesEmbeddedFilesInOrder(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_escrow_outbox.sql" {
		t.Fatalf("unexpected migrations: %v", names)
	}

	rec := &recordingExecer{}
	if err := Migrate(context.Background(), rec); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(rec.statements) != len(names) {
		t.Fatalf("expected %d statements, got %d", len(names), len(rec.statements))
	}
	if !strings.Contains(rec.statements[0], "CREATE TABLE IF NOT EXISTS escrow_outbox") {
		t.Fatalf("unexpected first migration: %s", rec.statements[0])
	}
}

func TestMigrate_WrapsErrors(t *testing.T) {
	boom := errors.New("permission denied")
	if err := Migrate(context.Background(), &recordingExecer{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewPool_EmptyConnString(t *testing.T) {
	if _, err := NewPool(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}
