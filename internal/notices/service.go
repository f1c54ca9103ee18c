package notices

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

// Service lists the notices queued for a patron.
type Service interface {
	ListForPatron(ctx context.Context, patronID uuid.UUID, page pagination.Params) (*NoticePage, error)
}

// NoticePage is one page of notices, newest first.
type NoticePage struct {
	Items  []models.PatronNotice
	Cursor string
}

type service struct {
	repo Repository
}

// NewService wires the notices read path.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notices repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListForPatron(ctx context.Context, patronID uuid.UUID, page pagination.Params) (*NoticePage, error) {
	if patronID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patron id required")
	}
	cursor, err := pagination.ParseCursor(page.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListByPatron(ctx, patronID, cursor, pagination.LimitWithBuffer(page.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list patron notices")
	}

	out := &NoticePage{Items: rows}
	limit := pagination.NormalizeLimit(page.Limit)
	if len(rows) > limit {
		out.Items = rows[:limit]
		last := out.Items[limit-1]
		out.Cursor = pagination.EncodeCursor(pagination.Cursor{At: last.CreatedAt, ID: last.ID})
	}
	return out, nil
}
