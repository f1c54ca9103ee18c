package queries

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

// Repository holds the read-side queries. Nothing here writes.
type Repository interface {
	PatronStats(ctx context.Context, patronID uuid.UUID, asOf time.Time) (*PatronStats, error)
	PatronLoans(ctx context.Context, patronID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LoanRecord, error)
	OutstandingFines(ctx context.Context, patronID *uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LoanRecord, error)
	OutstandingTotal(ctx context.Context, patronID *uuid.UUID) (decimal.Decimal, error)
	LostAssets(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Asset, error)
	LatestLostByAssets(ctx context.Context, assetIDs []uuid.UUID) (map[uuid.UUID]models.LoanRecord, error)
	OverdueLoans(ctx context.Context, asOf time.Time, cursor *pagination.Cursor, limit int) ([]models.LoanRecord, error)
	TitlesForAssets(ctx context.Context, assetIDs []uuid.UUID) (map[uuid.UUID]models.Title, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the read queries to a gorm handle.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

type statsRow struct {
	TotalLoans   int64
	ActiveLoans  int64
	OverdueLoans int64
	LostLoans    int64
	TotalFines   decimal.Decimal
	PendingFines decimal.Decimal
	PaidFines    decimal.Decimal
	WaivedFines  decimal.Decimal
}

func (r *repository) PatronStats(ctx context.Context, patronID uuid.UUID, asOf time.Time) (*PatronStats, error) {
	var row statsRow
	err := r.db.WithContext(ctx).Raw(`
SELECT
  COUNT(*) AS total_loans,
  COALESCE(SUM(CASE WHEN returned_at IS NULL THEN 1 ELSE 0 END), 0) AS active_loans,
  COALESCE(SUM(CASE WHEN returned_at IS NULL AND due_at < ? THEN 1 ELSE 0 END), 0) AS overdue_loans,
  COALESCE(SUM(CASE WHEN lost = ? THEN 1 ELSE 0 END), 0) AS lost_loans,
  COALESCE(SUM(penalty_amount), 0) AS total_fines,
  COALESCE(SUM(CASE WHEN payment_status = ? THEN penalty_amount ELSE 0 END), 0) AS pending_fines,
  COALESCE(SUM(CASE WHEN payment_status = ? THEN penalty_amount ELSE 0 END), 0) AS paid_fines,
  COALESCE(SUM(CASE WHEN payment_status = ? THEN penalty_amount ELSE 0 END), 0) AS waived_fines
FROM loan_records
WHERE patron_id = ?`,
		asOf, true,
		enums.PaymentStatusPending, enums.PaymentStatusPaid, enums.PaymentStatusWaived,
		patronID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &PatronStats{
		TotalLoans:   row.TotalLoans,
		ActiveLoans:  row.ActiveLoans,
		OverdueLoans: row.OverdueLoans,
		LostLoans:    row.LostLoans,
		TotalFines:   row.TotalFines.Round(2),
		PendingFines: row.PendingFines.Round(2),
		PaidFines:    row.PaidFines.Round(2),
		WaivedFines:  row.WaivedFines.Round(2),
	}, nil
}

func (r *repository) PatronLoans(ctx context.Context, patronID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LoanRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.LoanRecord{}).Where("patron_id = ?", patronID)
	var rows []models.LoanRecord
	if err := query.Scopes(pagination.Keyset("borrowed_at", pagination.Newest, cursor)).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) outstanding(ctx context.Context, patronID *uuid.UUID) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.LoanRecord{}).
		Where("payment_status = ?", enums.PaymentStatusPending)
	if patronID != nil {
		query = query.Where("patron_id = ?", *patronID)
	}
	return query
}

func (r *repository) OutstandingFines(ctx context.Context, patronID *uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LoanRecord, error) {
	query := r.outstanding(ctx, patronID)
	var rows []models.LoanRecord
	if err := query.Scopes(pagination.Keyset("returned_at", pagination.Newest, cursor)).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) OutstandingTotal(ctx context.Context, patronID *uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := r.outstanding(ctx, patronID).Select("COALESCE(SUM(penalty_amount), 0)").Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}

func (r *repository) LostAssets(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Asset, error) {
	query := r.db.WithContext(ctx).Model(&models.Asset{}).Where("custody_state = ?", enums.CustodyLost)
	var rows []models.Asset
	if err := query.Scopes(pagination.Keyset("state_changed_at", pagination.Newest, cursor)).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestLostByAssets returns the governing lost record per asset.
func (r *repository) LatestLostByAssets(ctx context.Context, assetIDs []uuid.UUID) (map[uuid.UUID]models.LoanRecord, error) {
	out := make(map[uuid.UUID]models.LoanRecord, len(assetIDs))
	if len(assetIDs) == 0 {
		return out, nil
	}
	var rows []models.LoanRecord
	err := r.db.WithContext(ctx).
		Where("asset_id IN ? AND lost = ?", assetIDs, true).
		Order("returned_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, seen := out[row.AssetID]; !seen {
			out[row.AssetID] = row
		}
	}
	return out, nil
}

func (r *repository) OverdueLoans(ctx context.Context, asOf time.Time, cursor *pagination.Cursor, limit int) ([]models.LoanRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.LoanRecord{}).
		Where("returned_at IS NULL AND due_at < ?", asOf)
	var rows []models.LoanRecord
	if err := query.Scopes(pagination.Keyset("due_at", pagination.Oldest, cursor)).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) TitlesForAssets(ctx context.Context, assetIDs []uuid.UUID) (map[uuid.UUID]models.Title, error) {
	out := make(map[uuid.UUID]models.Title, len(assetIDs))
	if len(assetIDs) == 0 {
		return out, nil
	}
	type assetTitle struct {
		AssetID uuid.UUID
		models.Title
	}
	var rows []assetTitle
	err := r.db.WithContext(ctx).
		Table("assets").
		Select("assets.id AS asset_id, titles.*").
		Joins("JOIN titles ON titles.id = assets.title_id").
		Where("assets.id IN ?", assetIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.AssetID] = row.Title
	}
	return out, nil
}
