package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowflow/agreement"
	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	policy, err := cfg.SettlementPolicy()
	if err != nil {
		log.Fatalf("settlement policy: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger := agreement.NewLedger()
	if err := ledger.Initialize(); err != nil {
		log.Fatalf("initialize ledger: %v", err)
	}
	escrowService, err := agreement.NewService(ledger, policy)
	if err != nil {
		log.Fatalf("build agreement service: %v", err)
	}

	var (
		sink    outbox.Sink     = outbox.LogSink{}
		parties auth.Repository = auth.NewMemoryRepository()
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("bootstrap database pool: %v", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
		sink = outbox.Multi{outbox.LogSink{}, outbox.NewPGSink(pool)}
		parties = auth.NewPGRepository(pool)
	}

	authService := auth.NewService(parties, cfg.JWTSecret, cfg.TokenTTL)
	relay := outbox.NewRelay(ledger.Outbox(), sink, outbox.Options{
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		PollInterval: cfg.OutboxPollInterval,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewServer(escrowService, authService).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		log.Printf("api: listening on %s (settlement payee: %s, postgres: %t)", cfg.HTTPAddr, policy, cfg.DatabaseURL != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("api: stopped: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if res, err := relay.DrainOnce(flushCtx); err != nil {
		log.Printf("api: final outbox flush: %v", err)
	} else {
		log.Printf("api: final outbox flush delivered %d messages", res.Processed)
	}
}
