package auditlog

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/calyptra/pulse/pkg/httputil"
)

// Handler serves the audit log routes.
type Handler struct {
	recorder *Recorder
}

// NewHandler wires the audit routes.
func NewHandler(recorder *Recorder) *Handler {
	return &Handler{recorder: recorder}
}

// Register mounts the audit routes on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/api/audit", h.List).Methods(http.MethodGet)
	router.HandleFunc("/api/audit", h.Record).Methods(http.MethodPost)
}

// List returns newest-first entries, filtered by the slugs query parameter.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.recorder.List(r.Context(), ListQuery{
		Slugs: httputil.QueryList(r, "slugs"),
		Limit: httputil.QueryInt(r, "limit", 0),
	})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries})
}

// Record appends caller-supplied entries.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entries []Entry `json:"entries"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if len(body.Entries) == 0 {
		httputil.WriteBadRequest(w, "entries is required")
		return
	}

	if err := h.recorder.Record(r.Context(), body.Entries); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]int{"recorded": len(body.Entries)})
}
