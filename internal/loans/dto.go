package loans

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
)

// BorrowInput starts a loan. DueAt defaults to the loan period from now.
type BorrowInput struct {
	AssetID  uuid.UUID
	PatronID uuid.UUID
	DueAt    *time.Time
	ActorID  string
}

// ReturnInput closes the asset's active loan at the current time.
type ReturnInput struct {
	AssetID uuid.UUID
	ActorID string
}

// ReportLostInput closes the asset's active loan as lost. ReplacementCost
// overrides the title and default replacement cost.
type ReportLostInput struct {
	AssetID         uuid.UUID
	ReplacementCost *decimal.Decimal
	ActorID         string
}

// LoanView is the projection returned by every loan operation.
type LoanView struct {
	Loan  models.LoanRecord
	Asset models.Asset
}
