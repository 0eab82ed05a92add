package handler

import (
	"net/http"

	"github.com/fielddispatch/gateway/internal/apperr"
)

// writeError translates any error surfaced by a domain collaborator into
// the §7 transport contract: apperr kinds map to their declared status
// code and are echoed verbatim; anything else is a Fatal.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := apperr.As(err); ok {
		if ae.Kind == apperr.KindFatal {
			h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("fatal application error")
		}
		writeJSON(w, apperr.HTTPStatus(ae.Kind), errorBody{Error: ae.Code(), Message: ae.Message})
		return
	}
	h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: string(apperr.KindFatal), Message: "internal error"})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: string(apperr.KindValidationFailed), Message: message})
}
