package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/queries"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

const overdueMaxPages = 1000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type overdueLister interface {
	ListOverdueLoans(ctx context.Context, asOf time.Time, page pagination.Params) (*queries.OverdueLoans, error)
}

type outboxOnceEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// OverdueNoticesJobParams configures the overdue notice sweep.
type OverdueNoticesJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Queries   overdueLister
	Outbox    outboxOnceEmitter
	BatchSize int
}

// NewOverdueNoticesJob emits loan_overdue once for every active loan past due.
func NewOverdueNoticesJob(params OverdueNoticesJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Queries == nil {
		return nil, fmt.Errorf("overdue query required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &overdueNoticesJob{
		logg:      params.Logger,
		db:        params.DB,
		queries:   params.Queries,
		outbox:    params.Outbox,
		batchSize: pagination.NormalizeLimit(params.BatchSize),
		now:       time.Now,
	}, nil
}

type overdueNoticesJob struct {
	logg      *logger.Logger
	db        txRunner
	queries   overdueLister
	outbox    outboxOnceEmitter
	batchSize int
	now       func() time.Time
}

func (j *overdueNoticesJob) Name() string { return "overdue-notices" }

func (j *overdueNoticesJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	var (
		runErr  error
		scanned int
		emitted int
		cursor  string
	)
	for pages := 0; pages < overdueMaxPages; pages++ {
		page, err := j.queries.ListOverdueLoans(ctx, asOf, pagination.Params{Limit: j.batchSize, Cursor: cursor})
		if err != nil {
			return multierr.Append(runErr, fmt.Errorf("list overdue loans: %w", err))
		}
		for _, item := range page.Items {
			scanned++
			created, err := j.notify(ctx, asOf, item)
			if err != nil {
				runErr = multierr.Append(runErr, fmt.Errorf("loan %s: %w", item.Loan.ID, err))
				continue
			}
			if created {
				emitted++
			}
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"as_of":   asOf,
		"scanned": scanned,
		"emitted": emitted,
	})
	j.logg.Info(logCtx, "overdue notices sweep complete")
	return runErr
}

func (j *overdueNoticesJob) notify(ctx context.Context, asOf time.Time, item queries.OverdueLoan) (bool, error) {
	var created bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLoanOverdue,
			AggregateType: enums.AggregateLoanRecord,
			AggregateID:   item.Loan.ID,
			Data: payloads.LoanOverdueEvent{
				LoanRecordID:   item.Loan.ID,
				AssetID:        item.Loan.AssetID,
				PatronID:       item.Loan.PatronID,
				DueAt:          item.Loan.DueAt,
				DaysLate:       item.DaysOverdue,
				AccruedPenalty: item.AccruedPenalty,
			},
			OccurredAt: asOf,
		})
		created = ok
		return err
	})
	return created, err
}
