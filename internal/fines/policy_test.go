package fines

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testPolicy() Policy {
	return Policy{
		DefaultDailyRate:       decimal.RequireFromString("0.50"),
		DefaultReplacementCost: decimal.RequireFromString("25.00"),
		LoanPeriod:             14 * day,
	}
}

func TestLatePenaltyWorkedExample(t *testing.T) {
	p := testPolicy()
	got := p.LatePenalty(LateInput{
		BorrowedAt: date(2024, 1, 1),
		DueAt:      date(2024, 1, 10),
		ReturnedAt: date(2024, 1, 15),
		TitleRate:  decimal.NewNullDecimal(decimal.RequireFromString("5.00")),
	})
	assert.True(t, got.Equal(decimal.RequireFromString("25.00")), "got %s", got)
}

func TestLatePenaltyOnOrBeforeDueIsZero(t *testing.T) {
	p := testPolicy()
	due := date(2024, 1, 10)
	for _, returned := range []time.Time{due.Add(-time.Hour), due} {
		got := p.LatePenalty(LateInput{DueAt: due, ReturnedAt: returned})
		assert.True(t, got.IsZero(), "returned %s got %s", returned, got)
	}
}

func TestDaysLateCountsPartialDays(t *testing.T) {
	due := date(2024, 1, 10)
	assert.Equal(t, int64(1), DaysLate(due, due.Add(time.Minute)))
	assert.Equal(t, int64(1), DaysLate(due, due.Add(day)))
	assert.Equal(t, int64(2), DaysLate(due, due.Add(day+time.Second)))
	assert.Equal(t, int64(0), DaysLate(due, due))
}

func TestResolveRate(t *testing.T) {
	p := testPolicy()
	assert.True(t, p.ResolveRate(decimal.NullDecimal{}).Equal(p.DefaultDailyRate))
	assert.True(t, p.ResolveRate(decimal.NewNullDecimal(decimal.Zero)).Equal(p.DefaultDailyRate))
	override := decimal.RequireFromString("1.25")
	assert.True(t, p.ResolveRate(decimal.NewNullDecimal(override)).Equal(override))
}

func TestLatePenaltyRoundsOnceAtTheEnd(t *testing.T) {
	p := testPolicy()
	due := date(2024, 1, 10)
	// 3 * 0.335 = 1.005 rounds to 1.01; per-day rounding would give 1.02
	got := p.LatePenalty(LateInput{
		DueAt:      due,
		ReturnedAt: due.Add(3 * day),
		TitleRate:  decimal.NewNullDecimal(decimal.RequireFromString("0.335")),
	})
	assert.Equal(t, "1.01", got.StringFixed(2))
}

func TestAccruedUsesNow(t *testing.T) {
	p := testPolicy()
	due := date(2024, 1, 10)
	got := p.Accrued(due, due.Add(4*day), decimal.NullDecimal{})
	assert.True(t, got.Equal(decimal.RequireFromString("2.00")), "got %s", got)
}

func TestLostPenaltyResolution(t *testing.T) {
	p := testPolicy()
	due := date(2024, 1, 10)
	zero := decimal.Zero
	override := decimal.RequireFromString("40.00")

	cases := []struct {
		name string
		in   LostInput
		want string
	}{
		{name: "default", in: LostInput{DueAt: due, ReportedAt: due}, want: "25.00"},
		{
			name: "title cost",
			in:   LostInput{DueAt: due, ReportedAt: due, TitleReplacementCost: decimal.NewNullDecimal(decimal.RequireFromString("18.50"))},
			want: "18.50",
		},
		{
			name: "override beats title",
			in:   LostInput{DueAt: due, ReportedAt: due, TitleReplacementCost: decimal.NewNullDecimal(decimal.RequireFromString("18.50")), Override: &override},
			want: "40.00",
		},
		{name: "zero override", in: LostInput{DueAt: due, ReportedAt: due, Override: &zero}, want: "0.00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.LostPenalty(tc.in)
			assert.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestLostPenaltyIncludesAccruedLateFee(t *testing.T) {
	p := testPolicy()
	p.LostIncludesAccruedLateFee = true
	due := date(2024, 1, 10)
	got := p.LostPenalty(LostInput{DueAt: due, ReportedAt: due.Add(2 * day)})
	require.Equal(t, "26.00", got.StringFixed(2))
}

func TestDueAtAddsLoanPeriod(t *testing.T) {
	p := testPolicy()
	assert.Equal(t, date(2024, 1, 15), p.DueAt(date(2024, 1, 1)))
}
