package queries

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// PatronStats is computed from loan_records at query time.
type PatronStats struct {
	TotalLoans   int64           `json:"total_loans"`
	ActiveLoans  int64           `json:"active_loans"`
	OverdueLoans int64           `json:"overdue_loans"`
	LostLoans    int64           `json:"lost_loans"`
	TotalFines   decimal.Decimal `json:"total_fines"`
	PendingFines decimal.Decimal `json:"pending_fines"`
	PaidFines    decimal.Decimal `json:"paid_fines"`
	WaivedFines  decimal.Decimal `json:"waived_fines"`
}

// PatronHistory pairs the stats with one page of the patron's loans.
type PatronHistory struct {
	PatronID uuid.UUID
	AsOf     time.Time
	Stats    PatronStats
	Loans    []models.LoanRecord
	Cursor   string
}

// OutstandingFines lists pending fines and their total.
type OutstandingFines struct {
	Items  []models.LoanRecord
	Total  decimal.Decimal
	Cursor string
}

// LostAsset is a Lost asset with its governing record.
type LostAsset struct {
	Asset           models.Asset
	GoverningLoanID *uuid.UUID
	PenaltyAmount   decimal.Decimal
	PaymentStatus   enums.PaymentStatus
	Restorable      bool
}

type LostAssets struct {
	Items  []LostAsset
	Cursor string
}

// OverdueLoan is an active overdue loan with the penalty accrued so far.
type OverdueLoan struct {
	Loan           models.LoanRecord
	TitleID        uuid.UUID
	DaysOverdue    int64
	AccruedPenalty decimal.Decimal
}

type OverdueLoans struct {
	AsOf   time.Time
	Items  []OverdueLoan
	Cursor string
}

// Change is one entry of the changed-since feed.
type Change struct {
	ID            uuid.UUID
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	OccurredAt    time.Time
	Payload       json.RawMessage
}

// Changes always carries a cursor so callers can resume polling from it.
type Changes struct {
	Items   []Change
	Cursor  string
	HasMore bool
}
