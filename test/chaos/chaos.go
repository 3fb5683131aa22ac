package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/agreement"
	"escrowflow/outbox"
)

// ErrInjected is the failure FlakySink reports.
var ErrInjected = errors.New("chaos: injected delivery failure")

// FlakySink fails roughly one in every FailEvery deliveries before handing
// the rest to Next.
type FlakySink struct {
	Next      outbox.Sink
	FailEvery int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewFlakySink(next outbox.Sink, failEvery int, seed int64) *FlakySink {
	return &FlakySink{Next: next, FailEvery: failEvery, rng: rand.New(rand.NewSource(seed))}
}

func (s *FlakySink) Deliver(ctx context.Context, msg agreement.OutboxMessage) error {
	s.mu.Lock()
	fail := s.FailEvery > 0 && s.rng.Intn(s.FailEvery) == 0
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	if s.Next == nil {
		return nil
	}
	return s.Next.Deliver(ctx, msg)
}

// Randomly terminates a backend connection belonging to our test application.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() ORDER BY random() LIMIT 1`)
			}
		}
	}
}
