package config

import (
	"errors"
	"testing"
	"time"

	"escrowflow/agreement"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ESCROW_JWT_SECRET", "test-secret")
	t.Setenv("ESCROW_SETTLEMENT_PAYEE", "initiator")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.OutboxPollInterval != time.Second || cfg.OutboxBatchSize != 50 || cfg.OutboxMaxAttempts != 5 {
		t.Fatalf("unexpected outbox defaults: %+v", cfg)
	}
	p, err := cfg.SettlementPolicy()
	if err != nil || p != agreement.SettlementPayInitiator {
		t.Fatalf("expected initiator policy, got %q (%v)", p, err)
	}
}

func TestLoad_RequiresSettlementPayee(t *testing.T) {
	t.Setenv("ESCROW_JWT_SECRET", "test-secret")
	t.Setenv("ESCROW_SETTLEMENT_PAYEE", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when settlement payee is empty")
	}
}

func TestLoad_RejectsUnknownSettlementPayee(t *testing.T) {
	t.Setenv("ESCROW_JWT_SECRET", "test-secret")
	t.Setenv("ESCROW_SETTLEMENT_PAYEE", "arbiter")

	if _, err := Load(); !errors.Is(err, agreement.ErrInvalidSettlementPolicy) {
		t.Fatalf("expected ErrInvalidSettlementPolicy, got %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ESCROW_JWT_SECRET", "test-secret")
	t.Setenv("ESCROW_SETTLEMENT_PAYEE", "partner")
	t.Setenv("ESCROW_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("ESCROW_OUTBOX_MAX_ATTEMPTS", "9")
	t.Setenv("DATABASE_URL", "postgres://escrow@localhost/escrow")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9090" || cfg.OutboxMaxAttempts != 9 || cfg.DatabaseURL == "" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoad_RejectsNonPositiveBatch(t *testing.T) {
	t.Setenv("ESCROW_JWT_SECRET", "test-secret")
	t.Setenv("ESCROW_SETTLEMENT_PAYEE", "partner")
	t.Setenv("ESCROW_OUTBOX_BATCH_SIZE", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}
