package agreement

import (
	"context"
	"fmt"
)

type ListFilters struct {
	Party    Address
	State    *State
	Page     int
	PageSize int
}

// ListAgreements returns agreements where Party is initiator or partner,
// ordered by id, along with the total number of matches.
func (s *Service) ListAgreements(ctx context.Context, filters ListFilters) ([]Agreement, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("agreement: list: %w", err)
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	snap, err := s.ledger.Snapshot()
	if err != nil {
		return nil, 0, err
	}

	matched := make([]Agreement, 0, len(snap.Agreements))
	for _, ag := range snap.Agreements {
		if !filters.Party.IsNull() && !ag.Initiator.Equal(filters.Party) && !ag.Partner.Equal(filters.Party) {
			continue
		}
		if filters.State != nil && ag.State != *filters.State {
			continue
		}
		matched = append(matched, ag)
	}

	total := len(matched)
	if filters.Page-1 > total/filters.PageSize {
		return []Agreement{}, total, nil
	}
	start := (filters.Page - 1) * filters.PageSize
	if start >= total {
		return []Agreement{}, total, nil
	}
	end := min(start+filters.PageSize, total)
	return matched[start:end], total, nil
}

// Timeline returns the event history of an agreement.
func (s *Service) Timeline(ctx context.Context, id int64) ([]TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("agreement: timeline: %w", err)
	}
	return s.ledger.Timeline(id)
}

// Custody returns a consistent copy of custody totals.
func (s *Service) Custody(ctx context.Context) (CustodySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return CustodySnapshot{}, fmt.Errorf("agreement: custody: %w", err)
	}
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return CustodySnapshot{}, err
	}
	return snap.Custody, nil
}
