package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// AssetAccessionedEvent announces a new physical copy on the shelf.
type AssetAccessionedEvent struct {
	AssetID uuid.UUID `json:"asset_id"`
	TitleID uuid.UUID `json:"title_id"`
	Barcode string    `json:"barcode"`
}

// LoanBorrowedEvent is emitted when an asset leaves the shelf.
type LoanBorrowedEvent struct {
	LoanRecordID uuid.UUID `json:"loan_record_id"`
	AssetID      uuid.UUID `json:"asset_id"`
	PatronID     uuid.UUID `json:"patron_id"`
	BorrowedAt   time.Time `json:"borrowed_at"`
	DueAt        time.Time `json:"due_at"`
}

// LoanReturnedEvent closes a loan and carries the assessed penalty.
type LoanReturnedEvent struct {
	LoanRecordID  uuid.UUID           `json:"loan_record_id"`
	AssetID       uuid.UUID           `json:"asset_id"`
	PatronID      uuid.UUID           `json:"patron_id"`
	ReturnedAt    time.Time           `json:"returned_at"`
	DaysLate      int64               `json:"days_late"`
	PenaltyAmount decimal.Decimal     `json:"penalty_amount"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
}

// LoanOverdueEvent is emitted once per active loan that passed its due date.
type LoanOverdueEvent struct {
	LoanRecordID   uuid.UUID       `json:"loan_record_id"`
	AssetID        uuid.UUID       `json:"asset_id"`
	PatronID       uuid.UUID       `json:"patron_id"`
	DueAt          time.Time       `json:"due_at"`
	DaysLate       int64           `json:"days_late"`
	AccruedPenalty decimal.Decimal `json:"accrued_penalty"`
}

// AssetReportedLostEvent closes a loan as lost with the replacement penalty.
type AssetReportedLostEvent struct {
	LoanRecordID  uuid.UUID           `json:"loan_record_id"`
	AssetID       uuid.UUID           `json:"asset_id"`
	PatronID      uuid.UUID           `json:"patron_id"`
	ReportedAt    time.Time           `json:"reported_at"`
	PenaltyAmount decimal.Decimal     `json:"penalty_amount"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
}

// AssetRestoredEvent is emitted when a lost asset returns to the shelf.
type AssetRestoredEvent struct {
	AssetID             uuid.UUID           `json:"asset_id"`
	GoverningLoanID     uuid.UUID           `json:"governing_loan_record_id"`
	GoverningFineStatus enums.PaymentStatus `json:"governing_fine_status"`
	RestoredAt          time.Time           `json:"restored_at"`
}

// FineAssessedEvent is emitted whenever a non-zero penalty lands on a loan.
type FineAssessedEvent struct {
	LoanRecordID uuid.UUID       `json:"loan_record_id"`
	PatronID     uuid.UUID       `json:"patron_id"`
	Amount       decimal.Decimal `json:"amount"`
	Lost         bool            `json:"lost"`
}

// FineSettlementEvent covers pay, waive and revert transitions.
type FineSettlementEvent struct {
	LoanRecordID uuid.UUID           `json:"loan_record_id"`
	PatronID     uuid.UUID           `json:"patron_id"`
	Amount       decimal.Decimal     `json:"amount"`
	FromStatus   enums.PaymentStatus `json:"from_status"`
	ToStatus     enums.PaymentStatus `json:"to_status"`
	Reason       string              `json:"reason,omitempty"`
	OccurredAt   time.Time           `json:"occurred_at"`
}
