package queries

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/recovery"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

type changeFeed interface {
	ListSince(ctx context.Context, after *pagination.Cursor, limit int) ([]models.OutboxEvent, error)
}

// Service answers the read-only circulation queries.
type Service interface {
	PatronHistory(ctx context.Context, patronID uuid.UUID, asOf time.Time, page pagination.Params) (*PatronHistory, error)
	ListOutstandingFines(ctx context.Context, patronID *uuid.UUID, page pagination.Params) (*OutstandingFines, error)
	ListLostAssets(ctx context.Context, page pagination.Params) (*LostAssets, error)
	ListOverdueLoans(ctx context.Context, asOf time.Time, page pagination.Params) (*OverdueLoans, error)
	ChangesSince(ctx context.Context, page pagination.Params) (*Changes, error)
}

// ServiceParams bundles the dependencies required to build the query facade.
type ServiceParams struct {
	Repo    Repository
	Changes changeFeed
	Policy  fines.Policy
	Clock   func() time.Time
}

type service struct {
	repo    Repository
	changes changeFeed
	policy  fines.Policy
	now     func() time.Time
}

// NewService constructs the query facade.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "query repository required")
	}
	if params.Changes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "change feed required")
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		changes: params.Changes,
		policy:  params.Policy,
		now:     now,
	}, nil
}

func parseCursor(value string) (*pagination.Cursor, error) {
	cursor, err := pagination.ParseCursor(value)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return cursor, nil
}

// trim cuts the buffered row and returns the cursor of the last kept row.
func trim[T any](rows []T, limit int, key func(T) pagination.Cursor) ([]T, string) {
	normalized := pagination.NormalizeLimit(limit)
	if len(rows) <= normalized {
		return rows, ""
	}
	rows = rows[:normalized]
	return rows, pagination.EncodeCursor(key(rows[normalized-1]))
}

func (s *service) asOf(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return s.now()
	}
	return asOf.UTC()
}

func (s *service) PatronHistory(ctx context.Context, patronID uuid.UUID, asOf time.Time, page pagination.Params) (*PatronHistory, error) {
	if patronID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patron id required")
	}
	cursor, err := parseCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	asOf = s.asOf(asOf)

	var (
		stats *PatronStats
		rows  []models.LoanRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.repo.PatronStats(gctx, patronID, asOf)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.repo.PatronLoans(gctx, patronID, cursor, pagination.LimitWithBuffer(page.Limit))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load patron history")
	}

	rows, next := trim(rows, page.Limit, func(l models.LoanRecord) pagination.Cursor {
		return pagination.Cursor{At: l.BorrowedAt, ID: l.ID}
	})
	return &PatronHistory{
		PatronID: patronID,
		AsOf:     asOf,
		Stats:    *stats,
		Loans:    rows,
		Cursor:   next,
	}, nil
}

func (s *service) ListOutstandingFines(ctx context.Context, patronID *uuid.UUID, page pagination.Params) (*OutstandingFines, error) {
	cursor, err := parseCursor(page.Cursor)
	if err != nil {
		return nil, err
	}

	out := &OutstandingFines{}
	var rows []models.LoanRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.repo.OutstandingFines(gctx, patronID, cursor, pagination.LimitWithBuffer(page.Limit))
		return err
	})
	g.Go(func() error {
		var err error
		out.Total, err = s.repo.OutstandingTotal(gctx, patronID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list outstanding fines")
	}

	out.Items, out.Cursor = trim(rows, page.Limit, func(l models.LoanRecord) pagination.Cursor {
		var at time.Time
		if l.ReturnedAt != nil {
			at = *l.ReturnedAt
		}
		return pagination.Cursor{At: at, ID: l.ID}
	})
	return out, nil
}

func (s *service) ListLostAssets(ctx context.Context, page pagination.Params) (*LostAssets, error) {
	cursor, err := parseCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.LostAssets(ctx, cursor, pagination.LimitWithBuffer(page.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list lost assets")
	}
	rows, next := trim(rows, page.Limit, func(a models.Asset) pagination.Cursor {
		return pagination.Cursor{At: a.StateChangedAt, ID: a.ID}
	})

	ids := make([]uuid.UUID, 0, len(rows))
	for _, asset := range rows {
		ids = append(ids, asset.ID)
	}
	governing, err := s.repo.LatestLostByAssets(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load governing loan records")
	}

	items := make([]LostAsset, 0, len(rows))
	for _, asset := range rows {
		item := LostAsset{Asset: asset}
		if loan, ok := governing[asset.ID]; ok {
			id := loan.ID
			item.GoverningLoanID = &id
			item.PenaltyAmount = loan.PenaltyAmount
			item.PaymentStatus = loan.PaymentStatus
			item.Restorable = !recovery.Blocks(&loan)
		}
		items = append(items, item)
	}
	return &LostAssets{Items: items, Cursor: next}, nil
}

func (s *service) ListOverdueLoans(ctx context.Context, asOf time.Time, page pagination.Params) (*OverdueLoans, error) {
	cursor, err := parseCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	asOf = s.asOf(asOf)

	rows, err := s.repo.OverdueLoans(ctx, asOf, cursor, pagination.LimitWithBuffer(page.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list overdue loans")
	}
	rows, next := trim(rows, page.Limit, func(l models.LoanRecord) pagination.Cursor {
		return pagination.Cursor{At: l.DueAt, ID: l.ID}
	})

	ids := make([]uuid.UUID, 0, len(rows))
	for _, loan := range rows {
		ids = append(ids, loan.AssetID)
	}
	titles, err := s.repo.TitlesForAssets(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load titles")
	}

	items := make([]OverdueLoan, 0, len(rows))
	for _, loan := range rows {
		title := titles[loan.AssetID]
		items = append(items, OverdueLoan{
			Loan:           loan,
			TitleID:        title.ID,
			DaysOverdue:    fines.DaysLate(loan.DueAt, asOf),
			AccruedPenalty: s.policy.Accrued(loan.DueAt, asOf, title.DailyFineRate),
		})
	}
	return &OverdueLoans{AsOf: asOf, Items: items, Cursor: next}, nil
}

func (s *service) ChangesSince(ctx context.Context, page pagination.Params) (*Changes, error) {
	cursor, err := parseCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.changes.ListSince(ctx, cursor, pagination.LimitWithBuffer(page.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list changes")
	}

	normalized := pagination.NormalizeLimit(page.Limit)
	out := &Changes{Cursor: page.Cursor}
	if len(rows) > normalized {
		rows = rows[:normalized]
		out.HasMore = true
	}
	out.Items = make([]Change, 0, len(rows))
	for _, row := range rows {
		out.Items = append(out.Items, Change{
			ID:            row.ID,
			EventType:     row.EventType,
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			OccurredAt:    row.CreatedAt,
			Payload:       row.Payload,
		})
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		out.Cursor = pagination.EncodeCursor(pagination.Cursor{At: last.CreatedAt, ID: last.ID})
	}
	return out, nil
}
