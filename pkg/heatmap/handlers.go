package heatmap

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/calyptra/pulse/pkg/cache"
	"github.com/calyptra/pulse/pkg/httputil"
)

const (
	cacheStore       = "heatmap"
	snapshotCacheTTL = 10 * time.Second
)

// Handler serves the heatmap routes.
type Handler struct {
	aggregator *Aggregator
	resolver   *cache.Resolver
}

// NewHandler wires the heatmap routes. The resolver may be nil.
func NewHandler(aggregator *Aggregator, resolver *cache.Resolver) *Handler {
	return &Handler{aggregator: aggregator, resolver: resolver}
}

// Register mounts the heatmap routes on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/api/heatmap", h.ListSummaries).Methods(http.MethodGet)
	router.HandleFunc("/api/heatmap/{slug:[a-zA-Z0-9_-]+}", h.GetSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/api/heatmap/{slug:[a-zA-Z0-9_-]+}", h.RecordSamples).Methods(http.MethodPost)
}

// RecordSamples applies one sample batch for a slug.
func (h *Handler) RecordSamples(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	var input RecordInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	result, err := h.aggregator.Record(r.Context(), slug, input)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if h.resolver != nil {
		h.resolver.Invalidate(cacheStore, slug)
	}
	httputil.WriteSuccess(w, result)
}

// GetSnapshot renders the slug's grids, cached briefly.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	fetch := func(ctx context.Context) (interface{}, error) {
		return h.aggregator.Snapshot(ctx, slug)
	}

	var result interface{}
	var err error
	if h.resolver != nil {
		result, err = h.resolver.Resolve(r.Context(), cacheStore, slug, snapshotCacheTTL, fetch)
	} else {
		result, err = fetch(r.Context())
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// ListSummaries reports per-slug totals, cached briefly.
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	fetch := func(ctx context.Context) (interface{}, error) {
		return h.aggregator.ListSummaries(ctx)
	}

	var result interface{}
	var err error
	if h.resolver != nil {
		result, err = h.resolver.Resolve(r.Context(), cacheStore, "_summaries", snapshotCacheTTL, fetch)
	} else {
		result, err = fetch(r.Context())
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
