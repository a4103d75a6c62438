package http

import (
	"net/http"
)

func (h *Handlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	limit, err := queryInt(r, "limit", h.cfg.RecommendLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	recs, err := h.recs.Recommend(r.Context(), id.UserID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}
