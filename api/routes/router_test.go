package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/internal/assets"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/locks"
	"github.com/angelmondragon/circulation-backend/internal/mutation"
	"github.com/angelmondragon/circulation-backend/internal/notices"
	"github.com/angelmondragon/circulation-backend/internal/queries"
	"github.com/angelmondragon/circulation-backend/internal/recovery"
	"github.com/angelmondragon/circulation-backend/internal/settlement"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db/dbtest"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/retry"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func testConfig() *config.Config {
	return &config.Config{
		App:  config.AppConfig{Env: "test"},
		HTTP: config.HTTPConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
}

func newTestRouter(t *testing.T) (http.Handler, *clock) {
	t.Helper()
	client := dbtest.Open(t)
	clk := &clock{now: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
	outboxRepo := outbox.NewRepository(client.DB())
	events := outbox.NewService(outboxRepo, nil)
	policy := fines.Policy{
		DefaultDailyRate:       decimal.RequireFromString("0.50"),
		DefaultReplacementCost: decimal.RequireFromString("20.00"),
		LoanPeriod:             7 * 24 * time.Hour,
	}

	registry, err := assets.NewRegistry(assets.RegistryParams{
		Repo:   assets.NewRepository(client.DB()),
		Tx:     client,
		Outbox: events,
		Clock:  clk.Now,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	runner, err := mutation.NewRunner(mutation.Params{
		Tx:     client,
		Locker: locks.NewLocalLocker(time.Second, nil),
		Retry:  retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	loanRepo := loans.NewRepository(client.DB())
	loanSvc, err := loans.NewService(loans.ServiceParams{
		Repo:   loanRepo,
		Assets: registry,
		Runner: runner,
		Outbox: events,
		Policy: policy,
		Clock:  clk.Now,
	})
	if err != nil {
		t.Fatalf("loans: %v", err)
	}
	settleSvc, err := settlement.NewService(settlement.ServiceParams{
		Repo:   loanRepo,
		Runner: runner,
		Outbox: events,
		Clock:  clk.Now,
	})
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	recoverySvc, err := recovery.NewService(recovery.ServiceParams{
		Assets:   registry,
		LoanRepo: loanRepo,
		Runner:   runner,
		Outbox:   events,
		Clock:    clk.Now,
	})
	if err != nil {
		t.Fatalf("recovery: %v", err)
	}
	querySvc, err := queries.NewService(queries.ServiceParams{
		Repo:    queries.NewRepository(client.DB()),
		Changes: outboxRepo,
		Policy:  policy,
		Clock:   clk.Now,
	})
	if err != nil {
		t.Fatalf("queries: %v", err)
	}

	noticeSvc, err := notices.NewService(notices.NewRepository(client.DB()))
	if err != nil {
		t.Fatalf("notices: %v", err)
	}

	router := NewRouter(Params{
		Config:     testConfig(),
		Logger:     testLogger(),
		DB:         client,
		Assets:     registry,
		Loans:      loanSvc,
		Settlement: settleSvc,
		Recovery:   recoverySvc,
		Queries:    querySvc,
		Notices:    noticeSvc,
	})
	return router, clk
}

func call(t *testing.T, h http.Handler, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Staff-Id", "desk-1")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	var env envelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, resp.Body.String())
	}
	return resp.Code, env
}

func decodeData(t *testing.T, env envelope, dest any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestHealthLive(t *testing.T) {
	router := NewRouter(Params{Config: testConfig(), Logger: testLogger()})
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("X-Circulation-Env"); got != "test" {
		t.Fatalf("expected env header, got %q", got)
	}
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	router := NewRouter(Params{
		Config: testConfig(),
		Logger: testLogger(),
		DB:     stubPinger{err: errors.New("connection refused")},
	})
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestHealthReadyOK(t *testing.T) {
	router := NewRouter(Params{Config: testConfig(), Logger: testLogger(), DB: stubPinger{}})
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUnwiredServiceReturnsInternal(t *testing.T) {
	router := NewRouter(Params{Config: testConfig(), Logger: testLogger()})
	code, env := call(t, router, http.MethodGet, "/api/v1/loans/"+uuid.NewString(), nil)
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	if env.Error == nil || env.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
}

func TestLateReturnPayFlow(t *testing.T) {
	router, clk := newTestRouter(t)
	patronID := uuid.New()

	code, env := call(t, router, http.MethodPost, "/api/v1/titles", map[string]any{
		"name":            "The Left Hand of Darkness",
		"daily_fine_rate": "0.50",
	})
	if code != http.StatusCreated {
		t.Fatalf("register title: %d %+v", code, env.Error)
	}
	var title struct {
		ID            uuid.UUID `json:"id"`
		DailyFineRate string    `json:"daily_fine_rate"`
	}
	decodeData(t, env, &title)
	if title.DailyFineRate != "0.50" {
		t.Fatalf("expected rate 0.50, got %q", title.DailyFineRate)
	}

	code, env = call(t, router, http.MethodPost, "/api/v1/assets", map[string]any{
		"title_id": title.ID,
		"barcode":  "LHD-0001",
	})
	if code != http.StatusCreated {
		t.Fatalf("accession: %d %+v", code, env.Error)
	}
	var asset struct {
		ID           uuid.UUID `json:"id"`
		CustodyState string    `json:"custody_state"`
	}
	decodeData(t, env, &asset)
	if asset.CustodyState != "available" {
		t.Fatalf("expected available, got %q", asset.CustodyState)
	}

	clk.Advance(time.Minute)
	code, env = call(t, router, http.MethodPost, "/api/v1/assets/"+asset.ID.String()+"/borrow", map[string]any{
		"patron_id": patronID,
	})
	if code != http.StatusCreated {
		t.Fatalf("borrow: %d %+v", code, env.Error)
	}
	var borrowed struct {
		Loan struct {
			ID uuid.UUID `json:"id"`
		} `json:"loan"`
		Asset struct {
			CustodyState string `json:"custody_state"`
		} `json:"asset"`
	}
	decodeData(t, env, &borrowed)
	if borrowed.Asset.CustodyState != "on_loan" {
		t.Fatalf("expected on_loan, got %q", borrowed.Asset.CustodyState)
	}
	loanPath := "/api/v1/loans/" + borrowed.Loan.ID.String()

	code, env = call(t, router, http.MethodPost, "/api/v1/assets/"+asset.ID.String()+"/borrow", map[string]any{
		"patron_id": uuid.New(),
	})
	if code != http.StatusConflict || env.Error.Code != "ASSET_UNAVAILABLE" {
		t.Fatalf("expected ASSET_UNAVAILABLE, got %d %+v", code, env.Error)
	}

	clk.Advance(10 * 24 * time.Hour)
	code, env = call(t, router, http.MethodPost, "/api/v1/assets/"+asset.ID.String()+"/return", nil)
	if code != http.StatusOK {
		t.Fatalf("return: %d %+v", code, env.Error)
	}

	code, env = call(t, router, http.MethodGet, loanPath, nil)
	if code != http.StatusOK {
		t.Fatalf("get loan: %d %+v", code, env.Error)
	}
	var returned struct {
		Loan struct {
			PenaltyAmount string `json:"penalty_amount"`
			PaymentStatus string `json:"payment_status"`
		} `json:"loan"`
	}
	decodeData(t, env, &returned)
	if returned.Loan.PenaltyAmount != "1.50" || returned.Loan.PaymentStatus != "pending" {
		t.Fatalf("unexpected fine: %+v", returned.Loan)
	}

	code, env = call(t, router, http.MethodGet, "/api/v1/fines/outstanding?patron_id="+patronID.String(), nil)
	if code != http.StatusOK {
		t.Fatalf("outstanding: %d %+v", code, env.Error)
	}
	var outstanding struct {
		Items []struct {
			ID uuid.UUID `json:"id"`
		} `json:"items"`
		Total string `json:"total"`
	}
	decodeData(t, env, &outstanding)
	if len(outstanding.Items) != 1 || outstanding.Total != "1.50" {
		t.Fatalf("unexpected outstanding fines: %+v", outstanding)
	}

	clk.Advance(time.Hour)
	code, env = call(t, router, http.MethodPost, loanPath+"/pay", nil)
	if code != http.StatusOK {
		t.Fatalf("pay: %d %+v", code, env.Error)
	}
	code, env = call(t, router, http.MethodPost, loanPath+"/pay", nil)
	if code != http.StatusConflict || env.Error.Code != "ALREADY_SETTLED" {
		t.Fatalf("expected ALREADY_SETTLED, got %d %+v", code, env.Error)
	}

	code, env = call(t, router, http.MethodGet, loanPath+"/fine-events", nil)
	if code != http.StatusOK {
		t.Fatalf("fine events: %d %+v", code, env.Error)
	}
	var history []struct {
		Type    string `json:"type"`
		ActorID string `json:"actor_id"`
	}
	decodeData(t, env, &history)
	if len(history) != 2 || history[1].Type != "paid" || history[1].ActorID != "desk-1" {
		t.Fatalf("unexpected history: %+v", history)
	}

	code, env = call(t, router, http.MethodGet, "/api/v1/patrons/"+patronID.String()+"/history", nil)
	if code != http.StatusOK {
		t.Fatalf("patron history: %d %+v", code, env.Error)
	}
	var patron struct {
		Stats struct {
			TotalLoans int64  `json:"total_loans"`
			PaidFines  string `json:"paid_fines"`
		} `json:"stats"`
		Loans []json.RawMessage `json:"loans"`
	}
	decodeData(t, env, &patron)
	if patron.Stats.TotalLoans != 1 || patron.Stats.PaidFines != "1.50" || len(patron.Loans) != 1 {
		t.Fatalf("unexpected patron history: %+v", patron)
	}

	code, env = call(t, router, http.MethodGet, "/api/v1/changes?limit=100", nil)
	if code != http.StatusOK {
		t.Fatalf("changes: %d %+v", code, env.Error)
	}
	var changes struct {
		Items []struct {
			EventType string `json:"event_type"`
		} `json:"items"`
		Cursor string `json:"cursor"`
	}
	decodeData(t, env, &changes)
	if len(changes.Items) == 0 || changes.Cursor == "" {
		t.Fatalf("expected change feed entries, got %+v", changes)
	}
}

func TestLostRestoreFlow(t *testing.T) {
	router, clk := newTestRouter(t)

	_, env := call(t, router, http.MethodPost, "/api/v1/titles", map[string]any{"name": "Kindred"})
	var title struct {
		ID uuid.UUID `json:"id"`
	}
	decodeData(t, env, &title)
	_, env = call(t, router, http.MethodPost, "/api/v1/assets", map[string]any{"title_id": title.ID, "barcode": "KIN-1"})
	var asset struct {
		ID uuid.UUID `json:"id"`
	}
	decodeData(t, env, &asset)
	assetPath := "/api/v1/assets/" + asset.ID.String()

	clk.Advance(time.Minute)
	code, env := call(t, router, http.MethodPost, assetPath+"/borrow", map[string]any{"patron_id": uuid.New()})
	if code != http.StatusCreated {
		t.Fatalf("borrow: %d %+v", code, env.Error)
	}

	clk.Advance(time.Hour)
	code, env = call(t, router, http.MethodPost, assetPath+"/lost", nil)
	if code != http.StatusOK {
		t.Fatalf("report lost: %d %+v", code, env.Error)
	}
	var lost struct {
		Loan struct {
			ID            uuid.UUID `json:"id"`
			PenaltyAmount string    `json:"penalty_amount"`
			Lost          bool      `json:"lost"`
		} `json:"loan"`
	}
	decodeData(t, env, &lost)
	if !lost.Loan.Lost || lost.Loan.PenaltyAmount != "20.00" {
		t.Fatalf("unexpected lost loan: %+v", lost.Loan)
	}

	code, env = call(t, router, http.MethodGet, "/api/v1/assets/lost", nil)
	if code != http.StatusOK {
		t.Fatalf("lost assets: %d %+v", code, env.Error)
	}
	var lostList struct {
		Items []struct {
			Restorable bool `json:"restorable"`
		} `json:"items"`
	}
	decodeData(t, env, &lostList)
	if len(lostList.Items) != 1 || lostList.Items[0].Restorable {
		t.Fatalf("unexpected lost list: %+v", lostList)
	}

	clk.Advance(time.Minute)
	code, env = call(t, router, http.MethodPost, assetPath+"/restore", nil)
	if code != http.StatusConflict || env.Error.Code != "UNPAID_FINE_BLOCKS_RESTORE" {
		t.Fatalf("expected restore blocked, got %d %+v", code, env.Error)
	}
	if env.Error.Details["loan_record_id"] != lost.Loan.ID.String() {
		t.Fatalf("expected blocking loan in details, got %+v", env.Error.Details)
	}

	code, env = call(t, router, http.MethodPost, "/api/v1/loans/"+lost.Loan.ID.String()+"/waive", map[string]any{})
	if code != http.StatusBadRequest {
		t.Fatalf("expected waive without reason to fail validation, got %d", code)
	}

	clk.Advance(time.Minute)
	code, env = call(t, router, http.MethodPost, "/api/v1/loans/"+lost.Loan.ID.String()+"/waive", map[string]any{"reason": "found damaged copy in drop box"})
	if code != http.StatusOK {
		t.Fatalf("waive: %d %+v", code, env.Error)
	}

	code, env = call(t, router, http.MethodGet, assetPath+"/restore-eligibility", nil)
	if code != http.StatusOK {
		t.Fatalf("eligibility: %d %+v", code, env.Error)
	}
	var eligibility struct {
		Restorable bool `json:"restorable"`
	}
	decodeData(t, env, &eligibility)
	if !eligibility.Restorable {
		t.Fatal("expected asset to be restorable after waive")
	}

	clk.Advance(time.Minute)
	code, env = call(t, router, http.MethodPost, assetPath+"/restore", nil)
	if code != http.StatusOK {
		t.Fatalf("restore: %d %+v", code, env.Error)
	}
	var restored struct {
		Asset struct {
			CustodyState string `json:"custody_state"`
		} `json:"asset"`
	}
	decodeData(t, env, &restored)
	if restored.Asset.CustodyState != "available" {
		t.Fatalf("expected available, got %q", restored.Asset.CustodyState)
	}
}

func TestBadIdentifiersAreValidationErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	code, env := call(t, router, http.MethodGet, "/api/v1/assets/not-a-uuid", nil)
	if code != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %d %+v", code, env.Error)
	}
	code, env = call(t, router, http.MethodGet, "/api/v1/changes?cursor=bm90LWEtY3Vyc29y", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected bad cursor to fail, got %d %+v", code, env.Error)
	}
	code, env = call(t, router, http.MethodGet, "/api/v1/assets/"+uuid.NewString(), nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %+v", code, env.Error)
	}
}

func TestPatronNoticesEndpoint(t *testing.T) {
	client := dbtest.Open(t)
	repo := notices.NewRepository(client.DB())
	svc, err := notices.NewService(repo)
	if err != nil {
		t.Fatalf("notices: %v", err)
	}
	patronID := uuid.New()
	if _, err := repo.Create(context.Background(), &models.PatronNotice{
		PatronID:     patronID,
		LoanRecordID: uuid.New(),
		EventID:      uuid.New(),
		Kind:         enums.NoticeOverdue,
		Message:      "Your loan is late.",
		CreatedAt:    time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed notice: %v", err)
	}
	router := NewRouter(Params{Config: testConfig(), Logger: testLogger(), Notices: svc})

	code, env := call(t, router, http.MethodGet, "/api/v1/patrons/"+patronID.String()+"/notices", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %+v", code, env.Error)
	}
	var page struct {
		Items []struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"items"`
		Cursor string `json:"cursor"`
	}
	decodeData(t, env, &page)
	if len(page.Items) != 1 || page.Items[0].Kind != "overdue" || page.Cursor != "" {
		t.Fatalf("unexpected notices page %+v", page)
	}
}
