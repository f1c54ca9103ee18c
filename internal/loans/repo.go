package loans

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a loan repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, loan *models.LoanRecord) (*models.LoanRecord, error) {
	if err := r.db.WithContext(ctx).Create(loan).Error; err != nil {
		return nil, err
	}
	return loan, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LoanRecord, error) {
	var loan models.LoanRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&loan).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.LoanRecord, error) {
	var loan models.LoanRecord
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&loan).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *repository) LockActiveByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error) {
	var loan models.LoanRecord
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("asset_id = ? AND returned_at IS NULL", assetID).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *repository) LatestByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error) {
	var loan models.LoanRecord
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("borrowed_at DESC").Order("id DESC").
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// LatestLostByAsset returns the record that put the asset into Lost.
func (r *repository) LatestLostByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error) {
	return r.latestLost(ctx, r.db.WithContext(ctx), assetID)
}

func (r *repository) LockLatestLostByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error) {
	return r.latestLost(ctx, db.ForUpdate(r.db.WithContext(ctx)), assetID)
}

func (r *repository) latestLost(ctx context.Context, q *gorm.DB, assetID uuid.UUID) (*models.LoanRecord, error) {
	var loan models.LoanRecord
	err := q.Where("asset_id = ? AND lost = ?", assetID, true).
		Order("returned_at DESC").Order("id DESC").
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *repository) CountActiveByPatron(ctx context.Context, patronID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LoanRecord{}).
		Where("patron_id = ? AND returned_at IS NULL", patronID).
		Count(&count).Error
	return count, err
}

// ListOverdue returns active loans due before asOf, oldest due first.
func (r *repository) ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]models.LoanRecord, error) {
	var rows []models.LoanRecord
	err := r.db.WithContext(ctx).
		Where("returned_at IS NULL AND due_at < ?", asOf).
		Order("due_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Close(ctx context.Context, params CloseParams) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LoanRecord{}).
		Where("id = ? AND version = ? AND returned_at IS NULL", params.ID, params.Version).
		Updates(map[string]any{
			"returned_at":    params.ReturnedAt,
			"lost":           params.Lost,
			"penalty_amount": params.PenaltyAmount,
			"payment_status": params.PaymentStatus,
			"updated_at":     params.ReturnedAt,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateSettlement(ctx context.Context, params SettlementUpdate) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LoanRecord{}).
		Where("id = ? AND version = ? AND payment_status = ?", params.ID, params.Version, params.From).
		Updates(map[string]any{
			"payment_status": params.To,
			"paid_at":        params.PaidAt,
			"waived_at":      params.WaivedAt,
			"waive_reason":   params.WaiveReason,
			"updated_at":     params.At,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AppendFineEvent inserts an audit row. fine_events is never updated.
func (r *repository) AppendFineEvent(ctx context.Context, event *models.FineEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListFineEvents(ctx context.Context, loanID uuid.UUID) ([]models.FineEvent, error) {
	var rows []models.FineEvent
	err := r.db.WithContext(ctx).
		Where("loan_record_id = ?", loanID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
