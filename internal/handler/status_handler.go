package handler

import (
	"net/http"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/resp"
)

// HandleStatus reports the open connection count and the number of rooms with
// at least one occupant.
func HandleStatus(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Hub.Stats(r.Context())
		if err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, stats)
	}
}
