package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// FineEvent records an immutable settlement lifecycle event tied to a loan record.
type FineEvent struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LoanRecordID uuid.UUID           `gorm:"column:loan_record_id;type:uuid;not null"`
	PatronID     uuid.UUID           `gorm:"column:patron_id;type:uuid;not null"`
	ActorID      *string             `gorm:"column:actor_id"`
	Type         enums.FineEventType `gorm:"column:type;type:fine_event_type_enum;not null"`
	Amount       decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	FromStatus   enums.PaymentStatus `gorm:"column:from_status;type:payment_status_enum;not null"`
	ToStatus     enums.PaymentStatus `gorm:"column:to_status;type:payment_status_enum;not null"`
	Reason       *string             `gorm:"column:reason"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
}
