package middleware

import (
	"net/http"

	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

const (
	actorHeader    = "X-Staff-Id"
	maxActorLength = 128
)

// Actor records the staff member named by X-Staff-Id. The header is optional;
// mutations without it are attributed to nobody.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := validators.SanitizeString(r.Header.Get(actorHeader), maxActorLength)
			if actorID == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithActorID(r.Context(), actorID)
			if logg != nil {
				ctx = logg.WithActorID(ctx, actorID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
