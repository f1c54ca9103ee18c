package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/api/middleware"
	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/recovery"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

type borrowRequest struct {
	PatronID uuid.UUID  `json:"patron_id" validate:"required"`
	DueAt    *time.Time `json:"due_at"`
}

type reportLostRequest struct {
	ReplacementCost *decimal.Decimal `json:"replacement_cost"`
}

func loanServiceUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loan service unavailable"))
}

func writeLoanView(w http.ResponseWriter, status int, view *loans.LoanView) {
	responses.WriteSuccessStatus(w, status, loanWithAssetResponse{
		Loan:  newLoanResponse(view.Loan),
		Asset: newAssetResponse(view.Asset, nil),
	})
}

// BorrowAsset lends an available asset to a patron.
func BorrowAsset(svc loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			loanServiceUnavailable(w, r, logg)
			return
		}
		assetID, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req borrowRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Borrow(r.Context(), loans.BorrowInput{
			AssetID:  assetID,
			PatronID: req.PatronID,
			DueAt:    req.DueAt,
			ActorID:  middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeLoanView(w, http.StatusCreated, view)
	}
}

// ReturnAsset closes the asset's active loan and assesses any late fee.
func ReturnAsset(svc loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			loanServiceUnavailable(w, r, logg)
			return
		}
		assetID, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Return(r.Context(), loans.ReturnInput{
			AssetID: assetID,
			ActorID: middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeLoanView(w, http.StatusOK, view)
	}
}

// ReportAssetLost closes the active loan as lost and assesses the replacement cost.
func ReportAssetLost(svc loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			loanServiceUnavailable(w, r, logg)
			return
		}
		assetID, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req reportLostRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		view, err := svc.ReportLost(r.Context(), loans.ReportLostInput{
			AssetID:         assetID,
			ReplacementCost: req.ReplacementCost,
			ActorID:         middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeLoanView(w, http.StatusOK, view)
	}
}

// GetLoan returns one loan record.
func GetLoan(svc loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			loanServiceUnavailable(w, r, logg)
			return
		}
		loanID, err := validators.ParseUUIDParam(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Get(r.Context(), loanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeLoanView(w, http.StatusOK, view)
	}
}

// RestoreAsset returns a lost asset to the shelf once its fine is settled.
func RestoreAsset(svc recovery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		assetID, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Restore(r.Context(), recovery.RestoreInput{
			AssetID: assetID,
			ActorID: middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, restoreResponse{
			Asset:         newAssetResponse(result.Asset, nil),
			GoverningLoan: newLoanResponse(result.GoverningLoan),
		})
	}
}

// RestoreEligibility reports whether the asset can be restored right now.
func RestoreEligibility(svc recovery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		assetID, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		eligibility, err := svc.Eligibility(r.Context(), assetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEligibilityResponse(*eligibility))
	}
}
