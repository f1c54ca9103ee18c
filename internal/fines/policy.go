package fines

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/config"
)

const (
	day            = 24 * time.Hour
	currencyPlaces = 2
)

// Policy computes penalty amounts. It holds no mutable state and is safe to
// share across goroutines.
type Policy struct {
	DefaultDailyRate           decimal.Decimal
	DefaultReplacementCost     decimal.Decimal
	LoanPeriod                 time.Duration
	LostIncludesAccruedLateFee bool
}

// NewPolicy builds the policy from the circulation configuration.
func NewPolicy(cfg config.CirculationConfig) Policy {
	return Policy{
		DefaultDailyRate:           cfg.DefaultDailyRate,
		DefaultReplacementCost:     cfg.DefaultReplacementCost,
		LoanPeriod:                 cfg.LoanPeriod,
		LostIncludesAccruedLateFee: cfg.LostIncludesAccruedLateFee,
	}
}

// LateInput describes a loan for late fee computation. TitleRate is the
// optional per-title override.
type LateInput struct {
	BorrowedAt time.Time
	DueAt      time.Time
	ReturnedAt time.Time
	TitleRate  decimal.NullDecimal
}

// LostInput describes a loan closed as lost. Override is the replacement
// cost supplied by staff, if any.
type LostInput struct {
	DueAt                time.Time
	ReportedAt           time.Time
	TitleRate            decimal.NullDecimal
	TitleReplacementCost decimal.NullDecimal
	Override             *decimal.Decimal
}

// DueAt derives the due date for a loan starting at borrowedAt.
func (p Policy) DueAt(borrowedAt time.Time) time.Time {
	return borrowedAt.Add(p.LoanPeriod)
}

// DaysLate counts started days past due. Any fraction of a day counts as a full day.
func DaysLate(dueAt, returnedAt time.Time) int64 {
	if !returnedAt.After(dueAt) {
		return 0
	}
	late := returnedAt.Sub(dueAt)
	days := int64(late / day)
	if late%day != 0 {
		days++
	}
	return days
}

// ResolveRate picks the per-title rate when present and positive.
func (p Policy) ResolveRate(titleRate decimal.NullDecimal) decimal.Decimal {
	if titleRate.Valid && titleRate.Decimal.IsPositive() {
		return titleRate.Decimal
	}
	return p.DefaultDailyRate
}

// LatePenalty is days_late * rate, rounded half-up to cents once at the end.
func (p Policy) LatePenalty(in LateInput) decimal.Decimal {
	return p.latePenalty(in.DueAt, in.ReturnedAt, in.TitleRate).Round(currencyPlaces)
}

// Accrued is the late fee an unreturned loan would owe if returned at now.
func (p Policy) Accrued(dueAt, now time.Time, titleRate decimal.NullDecimal) decimal.Decimal {
	return p.latePenalty(dueAt, now, titleRate).Round(currencyPlaces)
}

// LostPenalty resolves the replacement cost: staff override, then the
// title's replacement cost, then the default. The late fee accrued up to
// the report is added when the policy says so.
func (p Policy) LostPenalty(in LostInput) decimal.Decimal {
	amount := p.DefaultReplacementCost
	switch {
	case in.Override != nil && !in.Override.IsNegative():
		amount = *in.Override
	case in.TitleReplacementCost.Valid && in.TitleReplacementCost.Decimal.IsPositive():
		amount = in.TitleReplacementCost.Decimal
	}
	if p.LostIncludesAccruedLateFee {
		amount = amount.Add(p.latePenalty(in.DueAt, in.ReportedAt, in.TitleRate))
	}
	return amount.Round(currencyPlaces)
}

func (p Policy) latePenalty(dueAt, returnedAt time.Time, titleRate decimal.NullDecimal) decimal.Decimal {
	days := DaysLate(dueAt, returnedAt)
	if days == 0 {
		return decimal.Zero
	}
	return p.ResolveRate(titleRate).Mul(decimal.NewFromInt(days))
}
