package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"escrowflow/agreement"
)

// Config is read once at startup from the environment.
type Config struct {
	HTTPAddr        string        `env:"ESCROW_HTTP_ADDR" envDefault:":8080"`
	JWTSecret       string        `env:"ESCROW_JWT_SECRET,required,notEmpty"`
	TokenTTL        time.Duration `env:"ESCROW_TOKEN_TTL" envDefault:"24h"`
	SettlementPayee string        `env:"ESCROW_SETTLEMENT_PAYEE,required,notEmpty"`
	DatabaseURL     string        `env:"DATABASE_URL"`

	OutboxPollInterval time.Duration `env:"ESCROW_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"ESCROW_OUTBOX_BATCH_SIZE" envDefault:"50"`
	OutboxMaxAttempts  int           `env:"ESCROW_OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
}

// Load parses the environment and validates values env tags cannot express.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SettlementPolicy returns the configured payee as a policy.
func (c Config) SettlementPolicy() (agreement.SettlementPolicy, error) {
	p, err := agreement.ParseSettlementPolicy(c.SettlementPayee)
	if err != nil {
		return "", fmt.Errorf("config: ESCROW_SETTLEMENT_PAYEE: %w", err)
	}
	return p, nil
}

func (c Config) validate() error {
	if _, err := c.SettlementPolicy(); err != nil {
		return err
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: ESCROW_TOKEN_TTL must be positive")
	}
	if c.OutboxPollInterval <= 0 {
		return fmt.Errorf("config: ESCROW_OUTBOX_POLL_INTERVAL must be positive")
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("config: outbox batch size and max attempts must be positive")
	}
	return nil
}
