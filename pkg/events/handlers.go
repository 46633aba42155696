package events

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/calyptra/pulse/pkg/httputil"
)

// Handler serves the event routes.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler wires the event routes.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// Register mounts the event routes on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/api/events", h.Ingest).Methods(http.MethodPost)
	router.HandleFunc("/api/events/flush", h.Flush).Methods(http.MethodPost)
	router.HandleFunc("/api/events/summary", h.Summary).Methods(http.MethodGet)
	router.HandleFunc("/api/events/catalog", h.GetCatalog).Methods(http.MethodGet)
}

// Ingest accepts a batch of client events.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Events []IncomingEvent `json:"events"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), body.Events, requestContext(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// Flush drains queued events into the rollups.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	max := httputil.QueryInt(r, "max", 0)

	result, err := h.pipeline.Flush(r.Context(), max)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// Summary reports totals and a time series for the requested filters.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	query := SummaryQuery{
		EventNames:  httputil.QueryList(r, "events"),
		Slugs:       httputil.QueryList(r, "slugs"),
		Start:       httputil.QueryDate(r, "start"),
		End:         httputil.QueryDate(r, "end"),
		Granularity: Granularity(r.URL.Query().Get("granularity")),
	}
	if !query.End.IsZero() {
		// Make the end date inclusive.
		query.End = query.End.Add(24*time.Hour - time.Nanosecond)
	}

	result, err := h.pipeline.Summary(r.Context(), query)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, result)
}

// GetCatalog lists known event names and seen slugs.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.pipeline.Catalog(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, catalog)
}

// requestContext captures the server-observed side of an ingest call.
func requestContext(r *http.Request) RequestContext {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return RequestContext{
		IP:         ip,
		Referrer:   r.Referer(),
		Origin:     r.Header.Get("Origin"),
		UserAgent:  r.UserAgent(),
		ReceivedAt: time.Now().UTC(),
	}
}
