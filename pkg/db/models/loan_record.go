package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// LoanRecord is one borrow episode of one asset by one patron. Rows are never deleted.
type LoanRecord struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AssetID       uuid.UUID           `gorm:"column:asset_id;type:uuid;not null"`
	PatronID      uuid.UUID           `gorm:"column:patron_id;type:uuid;not null"`
	BorrowedAt    time.Time           `gorm:"column:borrowed_at;not null"`
	DueAt         time.Time           `gorm:"column:due_at;not null"`
	ReturnedAt    *time.Time          `gorm:"column:returned_at"`
	Lost          bool                `gorm:"column:lost;not null;default:false"`
	PenaltyAmount decimal.Decimal     `gorm:"column:penalty_amount;type:numeric(12,2);not null;default:0"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:payment_status_enum;not null;default:'none'"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	WaivedAt      *time.Time          `gorm:"column:waived_at"`
	WaiveReason   *string             `gorm:"column:waive_reason"`
	Version       int64               `gorm:"column:version;not null;default:0"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsActive reports whether the loan is still open.
func (l LoanRecord) IsActive() bool {
	return l.ReturnedAt == nil
}
