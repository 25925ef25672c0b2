package health

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mozilla-services/eliot/pkg/build"
)

// Handler exposes the liveness/readiness/version endpoints.
type Handler struct {
	controller *Controller
}

func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// Register mounts the heartbeat and version endpoints on router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/__lbheartbeat__", h.lbHeartbeat).Methods(http.MethodGet)
	router.HandleFunc("/__heartbeat__", h.heartbeat).Methods(http.MethodGet)
	router.HandleFunc("/__version__", h.version).Methods(http.MethodGet)
}

// lbHeartbeat is a bare liveness check: if the process can answer
// HTTP at all, it's up. The load balancer only cares about this one.
func (h *Handler) lbHeartbeat(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// heartbeat is the readiness check: degraded conditions are reported
// in the body but still answer 200, matching the reference service's
// convention of never failing heartbeat on a non-fatal condition.
func (h *Handler) heartbeat(w http.ResponseWriter, _ *http.Request) {
	notifications := h.controller.Notifications()

	status := http.StatusOK
	body := map[string]interface{}{"ok": true}
	if len(notifications) > 0 {
		body["ok"] = false
		body["messages"] = notifications
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) version(w http.ResponseWriter, _ *http.Request) {
	data, err := build.JSON()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
