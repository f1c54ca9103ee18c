package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// PatronNotice is a message queued for a patron in response to a circulation event.
type PatronNotice struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PatronID     uuid.UUID        `gorm:"column:patron_id;type:uuid;not null" json:"patron_id"`
	LoanRecordID uuid.UUID        `gorm:"column:loan_record_id;type:uuid;not null" json:"loan_record_id"`
	EventID      uuid.UUID        `gorm:"column:event_id;type:uuid;not null" json:"event_id"`
	Kind         enums.NoticeKind `gorm:"column:kind;type:notice_kind_enum;not null" json:"kind"`
	Message      string           `gorm:"column:message;type:text;not null" json:"message"`
	CreatedAt    time.Time        `gorm:"column:created_at;type:timestamptz;not null" json:"created_at"`
}
