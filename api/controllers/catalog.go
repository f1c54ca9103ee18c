package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/api/middleware"
	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/assets"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

type registerTitleRequest struct {
	ISBN            *string          `json:"isbn" validate:"omitempty,max=32"`
	Name            string           `json:"name" validate:"required,max=300"`
	Author          *string          `json:"author" validate:"omitempty,max=300"`
	DailyFineRate   *decimal.Decimal `json:"daily_fine_rate"`
	ReplacementCost *decimal.Decimal `json:"replacement_cost"`
}

type accessionRequest struct {
	TitleID uuid.UUID `json:"title_id" validate:"required"`
	Barcode string    `json:"barcode" validate:"required,max=64"`
}

// RegisterTitle catalogues a new title.
func RegisterTitle(svc assets.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset registry unavailable"))
			return
		}
		var req registerTitleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		title, err := svc.RegisterTitle(r.Context(), assets.RegisterTitleInput{
			ISBN:            req.ISBN,
			Name:            req.Name,
			Author:          req.Author,
			DailyFineRate:   req.DailyFineRate,
			ReplacementCost: req.ReplacementCost,
			ActorID:         middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTitleResponse(*title))
	}
}

// AccessionAsset adds a physical copy of a title to the collection.
func AccessionAsset(svc assets.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset registry unavailable"))
			return
		}
		var req accessionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		asset, err := svc.Accession(r.Context(), assets.AccessionInput{
			TitleID: req.TitleID,
			Barcode: req.Barcode,
			ActorID: middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newAssetResponse(*asset, nil))
	}
}

// GetAsset returns the asset with its title.
func GetAsset(svc assets.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset registry unavailable"))
			return
		}
		assetID, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Get(r.Context(), assetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAssetResponse(view.Asset, &view.Title))
	}
}
