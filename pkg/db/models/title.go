package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Title is a catalogued work; assets are its physical copies.
type Title struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ISBN            *string             `gorm:"column:isbn"`
	Name            string              `gorm:"column:name;not null"`
	Author          *string             `gorm:"column:author"`
	DailyFineRate   decimal.NullDecimal `gorm:"column:daily_fine_rate;type:numeric(12,2)"`
	ReplacementCost decimal.NullDecimal `gorm:"column:replacement_cost;type:numeric(12,2)"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
