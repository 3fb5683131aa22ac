package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/agreement"
)

var (
	// ErrPartyNotFound signals that the party does not exist.
	ErrPartyNotFound = errors.New("auth: party not found")
	// ErrDuplicateAddress signals that the address is already registered.
	ErrDuplicateAddress = errors.New("auth: address already registered")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateParty(ctx context.Context, params CreatePartyParams) (Party, error)
	GetPartyByAddress(ctx context.Context, address agreement.Address) (Party, error)
}

// CreatePartyParams contains write parameters for creating parties.
type CreatePartyParams struct {
	Address      agreement.Address
	PasswordHash string
}

// MemoryRepository keeps parties in process memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	byAddress map[agreement.Address]Party
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byAddress: make(map[agreement.Address]Party),
		now:       time.Now,
	}
}

func (r *MemoryRepository) CreateParty(_ context.Context, params CreatePartyParams) (Party, error) {
	key := params.Address.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAddress[key]; exists {
		return Party{}, ErrDuplicateAddress
	}
	p := Party{
		ID:           uuid.NewString(),
		Address:      key,
		PasswordHash: params.PasswordHash,
		CreatedAt:    r.now().UTC(),
	}
	r.byAddress[key] = p
	return p, nil
}

func (r *MemoryRepository) GetPartyByAddress(_ context.Context, address agreement.Address) (Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byAddress[address.Normalize()]
	if !ok {
		return Party{}, ErrPartyNotFound
	}
	return p, nil
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates a PostgreSQL-backed auth repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateParty inserts a new party with a hashed password.
func (r *PGRepository) CreateParty(ctx context.Context, params CreatePartyParams) (Party, error) {
	const insertSQL = `
		INSERT INTO escrow_parties (id, address, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id::text, address, password_hash, created_at
	`

	party, err := scanParty(r.pool.QueryRow(ctx, insertSQL, uuid.NewString(), string(params.Address.Normalize()), params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Party{}, ErrDuplicateAddress
		}
		return Party{}, fmt.Errorf("auth: create party: %w", err)
	}
	return party, nil
}

// GetPartyByAddress retrieves a party by its address.
func (r *PGRepository) GetPartyByAddress(ctx context.Context, address agreement.Address) (Party, error) {
	const selectSQL = `
		SELECT id::text, address, password_hash, created_at
		FROM escrow_parties
		WHERE address = $1
	`

	party, err := scanParty(r.pool.QueryRow(ctx, selectSQL, string(address.Normalize())))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, fmt.Errorf("auth: get party by address: %w", err)
	}
	return party, nil
}

func scanParty(row pgx.Row) (Party, error) {
	var (
		party   Party
		address string
	)
	if err := row.Scan(&party.ID, &address, &party.PasswordHash, &party.CreatedAt); err != nil {
		return Party{}, err
	}
	party.Address = agreement.Address(address)
	return party, nil
}
