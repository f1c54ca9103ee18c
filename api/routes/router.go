package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/circulation-backend/api/controllers"
	"github.com/angelmondragon/circulation-backend/api/middleware"
	"github.com/angelmondragon/circulation-backend/internal/assets"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/notices"
	"github.com/angelmondragon/circulation-backend/internal/queries"
	"github.com/angelmondragon/circulation-backend/internal/recovery"
	"github.com/angelmondragon/circulation-backend/internal/settlement"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
	"github.com/angelmondragon/circulation-backend/pkg/redis"
)

// Params carries everything the router mounts. Redis is optional: without it
// idempotency and the per-staff limit are skipped.
type Params struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          *redis.Client
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler

	Assets     assets.Registry
	Loans      loans.Service
	Settlement settlement.Service
	Recovery   recovery.Service
	Queries    queries.Service
	Notices    notices.Service
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)
	if p.HTTPMetrics != nil {
		r.Use(middleware.Metrics(p.HTTPMetrics))
	}
	r.Use(
		middleware.CORS(cfg.HTTP.AllowedOrigins),
		middleware.Actor(logg),
	)

	readyDeps := map[string]controllers.Pinger{"db": nil, "redis": nil}
	if p.DB != nil {
		readyDeps["db"] = p.DB
	}
	if p.Redis != nil {
		readyDeps["redis"] = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})
	if p.MetricsHandler != nil {
		r.Handle("/metrics", p.MetricsHandler)
	}

	mutating := []func(http.Handler) http.Handler{
		middleware.RateLimit(cfg.HTTP.MutationRatePerSec, cfg.HTTP.MutationBurst, logg),
	}
	if p.Redis != nil {
		mutating = append(mutating,
			middleware.StaffRateLimit(p.Redis, cfg.HTTP.StaffLimit, cfg.HTTP.StaffWindow, logg),
			middleware.Idempotency(p.Redis, logg),
		)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mutating...)

			r.Post("/titles", controllers.RegisterTitle(p.Assets, logg))
			r.Post("/assets", controllers.AccessionAsset(p.Assets, logg))
			r.Post("/assets/{assetId}/borrow", controllers.BorrowAsset(p.Loans, logg))
			r.Post("/assets/{assetId}/return", controllers.ReturnAsset(p.Loans, logg))
			r.Post("/assets/{assetId}/lost", controllers.ReportAssetLost(p.Loans, logg))
			r.Post("/assets/{assetId}/restore", controllers.RestoreAsset(p.Recovery, logg))
			r.Post("/loans/{loanId}/pay", controllers.PayFine(p.Settlement, logg))
			r.Post("/loans/{loanId}/waive", controllers.WaiveFine(p.Settlement, logg))
			r.Post("/loans/{loanId}/revert", controllers.RevertFine(p.Settlement, logg))
		})

		r.Get("/assets/lost", controllers.LostAssets(p.Queries, logg))
		r.Get("/assets/{assetId}", controllers.GetAsset(p.Assets, logg))
		r.Get("/assets/{assetId}/restore-eligibility", controllers.RestoreEligibility(p.Recovery, logg))
		r.Get("/loans/overdue", controllers.OverdueLoans(p.Queries, logg))
		r.Get("/loans/{loanId}", controllers.GetLoan(p.Loans, logg))
		r.Get("/loans/{loanId}/fine-events", controllers.FineHistory(p.Settlement, logg))
		r.Get("/fines/outstanding", controllers.OutstandingFines(p.Queries, logg))
		r.Get("/patrons/{patronId}/history", controllers.PatronHistory(p.Queries, logg))
		r.Get("/patrons/{patronId}/notices", controllers.PatronNotices(p.Notices, logg))
		r.Get("/changes", controllers.Changes(p.Queries, logg))
	})

	return r
}
