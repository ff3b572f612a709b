package matcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fee-recon/internal/domain"
	"fee-recon/pkg/logger"
)

// DefaultWindow bounds the recency strategy.
const DefaultWindow = 24 * time.Hour

// PendingFinder is the slice of the fee payment repository the matcher reads.
type PendingFinder interface {
	FindPending(ctx context.Context, schoolID string, amount decimal.Decimal, createdAfter *time.Time) ([]domain.FeePayment, error)
}

// Query is what the matcher knows about an incoming payment.
type Query struct {
	SchoolID      string
	Amount        decimal.Decimal
	PayerHandle   string
	TransactionID string
}

// MatchingStrategy returns candidate fee payments, best first.
type MatchingStrategy interface {
	Name() string
	Candidates(ctx context.Context, finder PendingFinder, q Query, now time.Time) ([]domain.FeePayment, error)
}

// ExactAmountStrategy matches pending payments of exactly the same amount.
type ExactAmountStrategy struct{}

func (s ExactAmountStrategy) Name() string { return "exact_amount" }

func (s ExactAmountStrategy) Candidates(ctx context.Context, finder PendingFinder, q Query, _ time.Time) ([]domain.FeePayment, error) {
	return finder.FindPending(ctx, q.SchoolID, q.Amount, nil)
}

// RecentWindowStrategy is ExactAmountStrategy restricted to payments created
// within Window of now.
type RecentWindowStrategy struct {
	Window time.Duration
}

func (s RecentWindowStrategy) Name() string { return "recent_window" }

func (s RecentWindowStrategy) Candidates(ctx context.Context, finder PendingFinder, q Query, now time.Time) ([]domain.FeePayment, error) {
	window := s.Window
	if window <= 0 {
		window = DefaultWindow
	}
	after := now.Add(-window)
	return finder.FindPending(ctx, q.SchoolID, q.Amount, &after)
}

// Matcher runs its strategies in order; the first one returning a candidate wins.
// PayerHandle is carried in the query but not used as a filter, so two pending
// payments of the same amount in one school resolve to the oldest.
type Matcher struct {
	finder     PendingFinder
	strategies []MatchingStrategy
	now        func() time.Time
}

func NewMatcher(finder PendingFinder, window time.Duration, strategies ...MatchingStrategy) *Matcher {
	if len(strategies) == 0 {
		strategies = []MatchingStrategy{ExactAmountStrategy{}, RecentWindowStrategy{Window: window}}
	}
	return &Matcher{
		finder:     finder,
		strategies: strategies,
		now:        time.Now,
	}
}

// WithClock replaces the time source used by windowed strategies.
func (m *Matcher) WithClock(now func() time.Time) *Matcher {
	m.now = now
	return m
}

// Match returns the pending fee payment for the payment, or nil when nothing matches.
func (m *Matcher) Match(ctx context.Context, schoolID string, amount decimal.Decimal, payerHandle, transactionID string) (*domain.FeePayment, error) {
	q := Query{
		SchoolID:      schoolID,
		Amount:        amount,
		PayerHandle:   payerHandle,
		TransactionID: transactionID,
	}

	return m.MatchExcluding(ctx, q, nil)
}

// MatchExcluding is Match but skips the fee payment ids in exclude. The
// pipeline uses it to re-match after losing a transition race.
func (m *Matcher) MatchExcluding(ctx context.Context, q Query, exclude map[string]bool) (*domain.FeePayment, error) {
	if !q.Amount.IsPositive() {
		return nil, nil
	}

	now := m.now()
	for _, strategy := range m.strategies {
		candidates, err := strategy.Candidates(ctx, m.finder, q, now)
		if err != nil {
			return nil, err
		}

		for i := range candidates {
			fp := candidates[i]
			if exclude[fp.ID] || !fp.IsPending() {
				continue
			}

			logger.ForSchool(q.SchoolID).WithFields(map[string]interface{}{
				"strategy":       strategy.Name(),
				"fee_payment_id": fp.ID,
				"transaction_id": q.TransactionID,
				"amount":         q.Amount.String(),
			}).Debug("Matched fee payment")
			return &fp, nil
		}
	}

	return nil, nil
}
