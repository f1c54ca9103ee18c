package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Asset is one physical copy of a title. CustodyState is owned by the asset registry.
type Asset struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TitleID        uuid.UUID          `gorm:"column:title_id;type:uuid;not null"`
	Barcode        string             `gorm:"column:barcode;not null"`
	CustodyState   enums.CustodyState `gorm:"column:custody_state;type:custody_state_enum;not null"`
	Version        int64              `gorm:"column:version;not null;default:0"`
	StateChangedAt time.Time          `gorm:"column:state_changed_at;not null"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
