package controllers

import (
	"net/http"

	"github.com/angelmondragon/circulation-backend/api/middleware"
	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

type waiveRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type revertRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func settlementUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
}

// PayFine records payment of the pending fine.
func PayFine(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			settlementUnavailable(w, r, logg)
			return
		}
		loanID, err := validators.ParseUUIDParam(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		loan, err := svc.Pay(r.Context(), settlement.PayInput{
			LoanRecordID: loanID,
			ActorID:      middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLoanResponse(*loan))
	}
}

// WaiveFine cancels the pending fine with a reason.
func WaiveFine(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			settlementUnavailable(w, r, logg)
			return
		}
		loanID, err := validators.ParseUUIDParam(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req waiveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		loan, err := svc.Waive(r.Context(), settlement.WaiveInput{
			LoanRecordID: loanID,
			Reason:       validators.SanitizeString(req.Reason, 500),
			ActorID:      middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLoanResponse(*loan))
	}
}

// RevertFine reopens a paid or waived fine.
func RevertFine(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			settlementUnavailable(w, r, logg)
			return
		}
		loanID, err := validators.ParseUUIDParam(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req revertRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		loan, err := svc.RevertToUnpaid(r.Context(), settlement.RevertInput{
			LoanRecordID: loanID,
			Reason:       validators.SanitizeString(req.Reason, 500),
			ActorID:      middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLoanResponse(*loan))
	}
}

// FineHistory lists the settlement events of one loan, oldest first.
func FineHistory(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			settlementUnavailable(w, r, logg)
			return
		}
		loanID, err := validators.ParseUUIDParam(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := svc.History(r.Context(), loanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newFineEventResponses(events))
	}
}
