// Package ledger owns a project's token budget. All functions mutate the
// in-memory project row; the caller holds the row inside its transaction
// and persists the result. The invariant spent + reserved <= pool (with
// both counters non-negative) holds after every successful call.
package ledger

import (
	"fmt"

	"taskmint/internal/domain"
)

// InsufficientTokensError reports a reservation that would overdraw the pool.
type InsufficientTokensError struct {
	ProjectID string
	Pool      int
	Spent     int
	Reserved  int
	Requested int
}

func (e InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens in project %s: requested %d, available %d (pool=%d spent=%d reserved=%d)",
		e.ProjectID, e.Requested, e.Pool-e.Spent-e.Reserved, e.Pool, e.Spent, e.Reserved)
}

// Shortfall is how many tokens the request exceeded the headroom by.
func (e InsufficientTokensError) Shortfall() int {
	return e.Requested - (e.Pool - e.Spent - e.Reserved)
}

// Available returns the unreserved, unspent headroom of the pool.
func Available(p *domain.Project) int {
	return p.TokenPool - p.TokensSpent - p.TokensReserved
}

// Reserve earmarks amount tokens for a not-yet-completed task.
func Reserve(p *domain.Project, amount int) error {
	if amount < 0 {
		return fmt.Errorf("reserve amount must be non-negative, got %d", amount)
	}
	if amount > Available(p) {
		return InsufficientTokensError{
			ProjectID: p.ID,
			Pool:      p.TokenPool,
			Spent:     p.TokensSpent,
			Reserved:  p.TokensReserved,
			Requested: amount,
		}
	}
	p.TokensReserved += amount
	return nil
}

// Release returns amount tokens from the reservation to the pool headroom,
// floored at zero against drift.
func Release(p *domain.Project, amount int) {
	if amount < 0 {
		amount = 0
	}
	p.TokensReserved -= amount
	if p.TokensReserved < 0 {
		p.TokensReserved = 0
	}
}

// Adjust applies a signed reservation delta. Positive deltas are validated
// like Reserve; negative deltas behave like Release.
func Adjust(p *domain.Project, delta int) error {
	if delta >= 0 {
		return Reserve(p, delta)
	}
	Release(p, -delta)
	return nil
}

// Commit converts a reservation into a permanent spend. This is the only
// operation that increments spent.
func Commit(p *domain.Project, amount int) {
	if amount < 0 {
		amount = 0
	}
	Release(p, amount)
	p.TokensSpent += amount
}

// ResetPeriod zeroes the spent counter. Reservations track live
// obligations, not a period counter, and are left untouched.
func ResetPeriod(p *domain.Project) {
	p.TokensSpent = 0
}
