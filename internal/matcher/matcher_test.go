package matcher

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fee-recon/internal/domain"
)

type fakeFinder struct {
	payments []domain.FeePayment
	calls    []*time.Time
	err      error
}

func (f *fakeFinder) FindPending(_ context.Context, schoolID string, amount decimal.Decimal, createdAfter *time.Time) ([]domain.FeePayment, error) {
	f.calls = append(f.calls, createdAfter)
	if f.err != nil {
		return nil, f.err
	}

	var out []domain.FeePayment
	for _, p := range f.payments {
		if p.SchoolID != schoolID || p.Status != domain.FeePaymentPending || !p.Amount.Equal(amount) {
			continue
		}
		if createdAfter != nil && p.CreatedAt.Before(*createdAfter) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var now = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func pending(id, school string, amount int64, created time.Time) domain.FeePayment {
	return domain.FeePayment{
		ID:        id,
		SchoolID:  school,
		Amount:    decimal.NewFromInt(amount),
		Status:    domain.FeePaymentPending,
		CreatedAt: created,
	}
}

func TestMatcher_ExactAmount(t *testing.T) {
	finder := &fakeFinder{payments: []domain.FeePayment{
		pending("fp-1", "school-1", 3000, now.Add(-time.Hour)),
		pending("fp-2", "school-1", 5000, now.Add(-time.Hour)),
		pending("fp-3", "school-2", 5000, now.Add(-2*time.Hour)),
	}}
	m := NewMatcher(finder, DefaultWindow).WithClock(func() time.Time { return now })

	fp, err := m.Match(context.Background(), "school-1", decimal.NewFromInt(5000), "ramesh@okaxis", "ABC123XYZ")

	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, "fp-2", fp.ID)
}

func TestMatcher_NoMatchReturnsNil(t *testing.T) {
	finder := &fakeFinder{payments: []domain.FeePayment{
		pending("fp-1", "school-1", 5000, now.Add(-time.Hour)),
	}}
	m := NewMatcher(finder, DefaultWindow).WithClock(func() time.Time { return now })

	fp, err := m.Match(context.Background(), "school-1", decimal.NewFromInt(3000), "", "XYZ987654")

	require.NoError(t, err)
	assert.Nil(t, fp)
	assert.Len(t, finder.calls, 2, "both strategies run before giving up")
	assert.Nil(t, finder.calls[0])
	require.NotNil(t, finder.calls[1])
	assert.Equal(t, now.Add(-DefaultWindow), *finder.calls[1])
}

func TestMatcher_OldestWinsAndPayerIgnored(t *testing.T) {
	finder := &fakeFinder{payments: []domain.FeePayment{
		pending("fp-b", "school-1", 5000, now.Add(-time.Hour)),
		pending("fp-a", "school-1", 5000, now.Add(-time.Hour)),
		pending("fp-c", "school-1", 5000, now.Add(-3*time.Hour)),
	}}
	m := NewMatcher(finder, DefaultWindow).WithClock(func() time.Time { return now })

	for _, payer := range []string{"", "a@okaxis", "someone-else@ybl"} {
		fp, err := m.Match(context.Background(), "school-1", decimal.NewFromInt(5000), payer, "ABC123XYZ")
		require.NoError(t, err)
		require.NotNil(t, fp)
		assert.Equal(t, "fp-c", fp.ID)
	}
}

func TestMatcher_ExcludeSkipsLostRaces(t *testing.T) {
	finder := &fakeFinder{payments: []domain.FeePayment{
		pending("fp-1", "school-1", 5000, now.Add(-3*time.Hour)),
		pending("fp-2", "school-1", 5000, now.Add(-time.Hour)),
	}}
	m := NewMatcher(finder, DefaultWindow).WithClock(func() time.Time { return now })

	q := Query{SchoolID: "school-1", Amount: decimal.NewFromInt(5000)}
	fp, err := m.MatchExcluding(context.Background(), q, map[string]bool{"fp-1": true})

	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, "fp-2", fp.ID)
}

func TestMatcher_WindowOnlyStrategy(t *testing.T) {
	finder := &fakeFinder{payments: []domain.FeePayment{
		pending("old", "school-1", 5000, now.Add(-48*time.Hour)),
		pending("recent", "school-1", 5000, now.Add(-2*time.Hour)),
	}}
	m := NewMatcher(finder, 0, RecentWindowStrategy{Window: 24 * time.Hour}).WithClock(func() time.Time { return now })

	fp, err := m.Match(context.Background(), "school-1", decimal.NewFromInt(5000), "", "")

	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, "recent", fp.ID)
}

func TestMatcher_NonPositiveAmount(t *testing.T) {
	finder := &fakeFinder{}
	m := NewMatcher(finder, DefaultWindow)

	fp, err := m.Match(context.Background(), "school-1", decimal.Zero, "", "")

	require.NoError(t, err)
	assert.Nil(t, fp)
	assert.Empty(t, finder.calls)
}

func TestMatcher_PropagatesFinderError(t *testing.T) {
	m := NewMatcher(&fakeFinder{err: errors.New("db down")}, DefaultWindow)

	_, err := m.Match(context.Background(), "school-1", decimal.NewFromInt(10), "", "")

	assert.EqualError(t, err, "db down")
}
