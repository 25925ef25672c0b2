package api

import (
	"encoding/json"
	"net/http"
)

// writeError writes a JSON {"error": reason} body at the given status
// and bumps the request_error counter tagged with reason, mirroring
// symbolicate_resource.py's METRICS.incr("symbolicate.request_error",
// tags=[f"reason:{reason}"]) calls at each validation failure site.
func (h *Handler) writeError(w http.ResponseWriter, status int, reason, msg string) {
	h.logger.WithField("reason", reason).Warn(msg)
	h.metrics.Count("symbolicate.request_error", 1, "reason:"+reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: reason})
}

func (h *Handler) writeInternalError(w http.ResponseWriter, err error, msg string) {
	h.logger.WithError(err).Error(msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: "internal_error"})
}

func (h *Handler) writeResponseJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("encoding response body")
	}
}
