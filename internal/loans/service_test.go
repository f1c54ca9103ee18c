package loans

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/circulation-backend/internal/assets"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/locks"
	"github.com/angelmondragon/circulation-backend/internal/mutation"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/dbtest"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/retry"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	client *db.Client
	assets assets.Registry
	repo   Repository
	svc    Service
	clock  *testClock
}

func newFixture(t *testing.T, maxActive int) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	clock := &testClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	events := outbox.NewService(outbox.NewRepository(client.DB()), nil)

	registry, err := assets.NewRegistry(assets.RegistryParams{
		Repo:   assets.NewRepository(client.DB()),
		Tx:     client,
		Outbox: events,
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	runner, err := mutation.NewRunner(mutation.Params{
		Tx:     client,
		Locker: locks.NewLocalLocker(time.Second, nil),
		Retry:  retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)

	repo := NewRepository(client.DB())
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Assets: registry,
		Runner: runner,
		Outbox: events,
		Policy: fines.Policy{
			DefaultDailyRate:       decimal.RequireFromString("0.50"),
			DefaultReplacementCost: decimal.RequireFromString("25.00"),
			LoanPeriod:             14 * 24 * time.Hour,
		},
		MaxActiveLoansPerPatron: maxActive,
		Clock:                   clock.Now,
	})
	require.NoError(t, err)

	return &fixture{client: client, assets: registry, repo: repo, svc: svc, clock: clock}
}

func (f *fixture) asset(t *testing.T, rate string) *models.Asset {
	t.Helper()
	ctx := context.Background()
	input := assets.RegisterTitleInput{Name: "Kindred"}
	if rate != "" {
		d := decimal.RequireFromString(rate)
		input.DailyFineRate = &d
	}
	title, err := f.assets.RegisterTitle(ctx, input)
	require.NoError(t, err)
	asset, err := f.assets.Accession(ctx, assets.AccessionInput{TitleID: title.ID, Barcode: uuid.NewString()})
	require.NoError(t, err)
	return asset
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) map[string]any {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code(), "error: %v", err)
	details, _ := typed.Details().(map[string]any)
	return details
}

func at(day int) time.Time {
	return time.Date(2024, 1, day, 9, 0, 0, 0, time.UTC)
}

func TestBorrowCreatesActiveLoan(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "")
	patron := uuid.New()

	view, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: patron, ActorID: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, enums.CustodyOnLoan, view.Asset.CustodyState)
	assert.True(t, view.Loan.IsActive())
	assert.Equal(t, enums.PaymentStatusNone, view.Loan.PaymentStatus)
	assert.True(t, view.Loan.PenaltyAmount.IsZero())
	assert.True(t, view.Loan.DueAt.Equal(at(15)))

	got, err := f.svc.Get(context.Background(), view.Loan.ID)
	require.NoError(t, err)
	assert.Equal(t, patron, got.Loan.PatronID)
	assert.Equal(t, enums.CustodyOnLoan, got.Asset.CustodyState)
}

func TestBorrowUnavailableAsset(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "")

	_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New()})
	require.NoError(t, err)

	details := requireCode(t, func() error {
		_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New()})
		return err
	}(), pkgerrors.CodeAssetUnavailable)
	assert.Equal(t, enums.CustodyOnLoan, details["custody_state"])
}

func TestBorrowRejectsPastDueDate(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "")
	past := at(1).Add(-time.Hour)

	_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New(), DueAt: &past})
	requireCode(t, err, pkgerrors.CodeValidation)

	view, err := f.assets.Get(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CustodyAvailable, view.Asset.CustodyState)
}

func TestBorrowEnforcesPatronLimit(t *testing.T) {
	f := newFixture(t, 1)
	patron := uuid.New()
	first := f.asset(t, "")
	second := f.asset(t, "")

	_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: first.ID, PatronID: patron})
	require.NoError(t, err)

	details := requireCode(t, func() error {
		_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: second.ID, PatronID: patron})
		return err
	}(), pkgerrors.CodeDuplicatePatronLoan)
	assert.Equal(t, int64(1), details["active_loans"])
}

func TestConcurrentBorrowSingleWinner(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "")

	const callers = 4
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New()})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, unavailable int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case pkgerrors.HasCode(err, pkgerrors.CodeAssetUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, unavailable)

	var active int64
	require.NoError(t, f.client.DB().Model(&models.LoanRecord{}).
		Where("asset_id = ? AND returned_at IS NULL", asset.ID).Count(&active).Error)
	assert.Equal(t, int64(1), active)
}

func TestReturnLateAssessesPenaltyOnce(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "5.00")
	due := at(10)

	borrowed, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New(), DueAt: &due})
	require.NoError(t, err)

	f.clock.Set(at(15))
	returned, err := f.svc.Return(context.Background(), ReturnInput{AssetID: asset.ID})
	require.NoError(t, err)
	assert.Equal(t, "25.00", returned.Loan.PenaltyAmount.StringFixed(2))
	assert.Equal(t, enums.PaymentStatusPending, returned.Loan.PaymentStatus)
	assert.Equal(t, enums.CustodyAvailable, returned.Asset.CustodyState)

	f.clock.Set(at(20))
	details := requireCode(t, func() error {
		_, err := f.svc.Return(context.Background(), ReturnInput{AssetID: asset.ID})
		return err
	}(), pkgerrors.CodeAlreadyReturned)
	assert.Equal(t, borrowed.Loan.ID, details["loan_record_id"])

	stored, err := f.repo.FindByID(context.Background(), borrowed.Loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.PenaltyAmount.Equal(decimal.RequireFromString("25.00")))

	events, err := f.repo.ListFineEvents(context.Background(), borrowed.Loan.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.FineEventAssessed, events[0].Type)
	assert.Equal(t, enums.PaymentStatusPending, events[0].ToStatus)
}

func TestReturnOnTimeHasNoFine(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "5.00")

	_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New()})
	require.NoError(t, err)

	f.clock.Set(at(15))
	returned, err := f.svc.Return(context.Background(), ReturnInput{AssetID: asset.ID})
	require.NoError(t, err)
	assert.True(t, returned.Loan.PenaltyAmount.IsZero())
	assert.Equal(t, enums.PaymentStatusNone, returned.Loan.PaymentStatus)
}

func TestReturnWithoutLoan(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "")

	details := requireCode(t, func() error {
		_, err := f.svc.Return(context.Background(), ReturnInput{AssetID: asset.ID})
		return err
	}(), pkgerrors.CodeNoActiveLoan)
	assert.Equal(t, enums.CustodyAvailable, details["custody_state"])
}

func TestReportLostAssessesReplacementCost(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "")

	_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New()})
	require.NoError(t, err)

	f.clock.Set(at(3))
	lost, err := f.svc.ReportLost(context.Background(), ReportLostInput{AssetID: asset.ID})
	require.NoError(t, err)
	assert.True(t, lost.Loan.Lost)
	require.NotNil(t, lost.Loan.ReturnedAt)
	assert.Equal(t, "25.00", lost.Loan.PenaltyAmount.StringFixed(2))
	assert.Equal(t, enums.PaymentStatusPending, lost.Loan.PaymentStatus)
	assert.Equal(t, enums.CustodyLost, lost.Asset.CustodyState)

	_, err = f.svc.Return(context.Background(), ReturnInput{AssetID: asset.ID})
	requireCode(t, err, pkgerrors.CodeNoActiveLoan)

	_, err = f.svc.ReportLost(context.Background(), ReportLostInput{AssetID: asset.ID})
	requireCode(t, err, pkgerrors.CodeNoActiveLoan)
}

func TestReportLostZeroOverrideKeepsStatusNone(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "")
	zero := decimal.Zero

	_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New()})
	require.NoError(t, err)

	lost, err := f.svc.ReportLost(context.Background(), ReportLostInput{AssetID: asset.ID, ReplacementCost: &zero})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusNone, lost.Loan.PaymentStatus)
	assert.True(t, lost.Loan.PenaltyAmount.IsZero())
	assert.Equal(t, enums.CustodyLost, lost.Asset.CustodyState)
}

func TestReportLostRejectsNegativeOverride(t *testing.T) {
	f := newFixture(t, 0)
	negative := decimal.RequireFromString("-3")
	_, err := f.svc.ReportLost(context.Background(), ReportLostInput{AssetID: uuid.New(), ReplacementCost: &negative})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestListOverdue(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.asset(t, "")
	due := at(5)

	_, err := f.svc.Borrow(context.Background(), BorrowInput{AssetID: asset.ID, PatronID: uuid.New(), DueAt: &due})
	require.NoError(t, err)

	rows, err := f.repo.ListOverdue(context.Background(), at(4), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = f.repo.ListOverdue(context.Background(), at(6), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
