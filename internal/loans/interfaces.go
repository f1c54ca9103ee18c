package loans

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Repository persists loan records and their fine events. Lock* methods
// select FOR UPDATE and must run inside a transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, loan *models.LoanRecord) (*models.LoanRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LoanRecord, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.LoanRecord, error)
	LockActiveByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error)
	LatestByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error)
	LatestLostByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error)
	LockLatestLostByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error)
	CountActiveByPatron(ctx context.Context, patronID uuid.UUID) (int64, error)
	ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]models.LoanRecord, error)
	Close(ctx context.Context, params CloseParams) (bool, error)
	UpdateSettlement(ctx context.Context, params SettlementUpdate) (bool, error)
	AppendFineEvent(ctx context.Context, event *models.FineEvent) error
	ListFineEvents(ctx context.Context, loanID uuid.UUID) ([]models.FineEvent, error)
}

// CloseParams ends an active loan and assesses its penalty.
type CloseParams struct {
	ID            uuid.UUID
	Version       int64
	ReturnedAt    time.Time
	Lost          bool
	PenaltyAmount decimal.Decimal
	PaymentStatus enums.PaymentStatus
}

// SettlementUpdate moves a loan's payment status from From to To. The
// timestamp and reason columns are overwritten, nil clears them.
type SettlementUpdate struct {
	ID          uuid.UUID
	Version     int64
	From        enums.PaymentStatus
	To          enums.PaymentStatus
	PaidAt      *time.Time
	WaivedAt    *time.Time
	WaiveReason *string
	At          time.Time
}
