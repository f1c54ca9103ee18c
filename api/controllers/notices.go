package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/notices"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

type noticeResponse struct {
	ID           string    `json:"id"`
	LoanRecordID string    `json:"loan_record_id"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

type noticesResponse struct {
	Items  []noticeResponse `json:"items"`
	Cursor string           `json:"cursor"`
}

func newNoticeResponses(rows []models.PatronNotice) []noticeResponse {
	out := make([]noticeResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, noticeResponse{
			ID:           row.ID.String(),
			LoanRecordID: row.LoanRecordID.String(),
			Kind:         string(row.Kind),
			Message:      row.Message,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return out
}

// PatronNotices lists the notices queued for a patron, newest first.
func PatronNotices(svc notices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notices service unavailable"))
			return
		}
		patronID, err := validators.ParseUUIDParam(r, "patronId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ListForPatron(r.Context(), patronID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, noticesResponse{
			Items:  newNoticeResponses(result.Items),
			Cursor: result.Cursor,
		})
	}
}
