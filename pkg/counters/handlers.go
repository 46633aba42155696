package counters

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/calyptra/pulse/pkg/cache"
	"github.com/calyptra/pulse/pkg/httputil"
	"github.com/calyptra/pulse/pkg/identity"
	"github.com/calyptra/pulse/pkg/observability"
)

const cacheStore = "metrics"

// AuditSink receives before/after records for admin overwrites.
type AuditSink interface {
	RecordChange(ctx context.Context, slug, changedBy string, before, after interface{}) error
}

// Handler serves the counter routes.
type Handler struct {
	store     *Store
	resolver  *cache.Resolver
	identity  *identity.Resolver
	audit     AuditSink
	viewerTTL time.Duration
	anonTTL   time.Duration
}

// NewHandler wires the counter routes. The resolver and audit sink may be nil.
func NewHandler(store *Store, resolver *cache.Resolver, ident *identity.Resolver, audit AuditSink, viewerTTL, anonTTL time.Duration) *Handler {
	return &Handler{
		store:     store,
		resolver:  resolver,
		identity:  ident,
		audit:     audit,
		viewerTTL: viewerTTL,
		anonTTL:   anonTTL,
	}
}

// Register mounts the counter routes on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/api/metrics/{slug:[a-zA-Z0-9_-]+}", h.GetMetrics).Methods(http.MethodGet)
	router.HandleFunc("/api/metrics/{slug:[a-zA-Z0-9_-]+}", h.OverwriteMetrics).Methods(http.MethodPut)
	router.HandleFunc("/api/metrics/{slug:[a-zA-Z0-9_-]+}/view", h.BumpView).Methods(http.MethodPost)
	router.HandleFunc("/api/metrics/{slug:[a-zA-Z0-9_-]+}/like", h.ToggleLike).Methods(http.MethodPost)
}

// GetMetrics returns the counter snapshot, optionally narrowed to a date
// range via start/end query parameters. Responses are cached briefly, with a
// shorter TTL for cookie-carrying viewers since their payload includes like
// state.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	viewerID, _ := h.identity.GetViewerID(r)

	opts := GetOptions{
		ViewerID:  viewerID,
		StartDate: httputil.QueryDate(r, "start"),
		EndDate:   httputil.QueryDate(r, "end"),
	}

	fetch := func(ctx context.Context) (interface{}, error) {
		return h.store.GetMetrics(ctx, slug, opts)
	}

	var result interface{}
	var err error
	if h.resolver != nil {
		ttl := h.anonTTL
		if viewerID != "" {
			ttl = h.viewerTTL
		}
		result, err = h.resolver.Resolve(r.Context(), cacheStore, readCacheKey(slug, viewerID, r), ttl, fetch)
	} else {
		result, err = fetch(r.Context())
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// BumpView counts a view for the requesting viewer, minting an identity
// cookie when none is present.
func (h *Handler) BumpView(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	viewerID := h.identity.EnsureViewerID(w, r)
	ctx := observability.WithViewerID(r.Context(), viewerID)

	result, err := h.store.BumpView(ctx, slug, viewerID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	h.invalidateReads(slug, viewerID)
	httputil.WriteSuccess(w, result)
}

// ToggleLike sets the viewer's like state from the request body. An omitted
// liked field, or no body at all, flips the current state.
func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	viewerID := h.identity.EnsureViewerID(w, r)
	ctx := observability.WithViewerID(r.Context(), viewerID)

	var body struct {
		Liked *bool `json:"liked"`
	}
	if err := httputil.ParseJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.store.SetLikeState(ctx, slug, viewerID, body.Liked)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	h.invalidateReads(slug, viewerID)
	httputil.WriteSuccess(w, result)
}

// OverwriteMetrics is the admin absolute-set path. The change is audited
// with before and after snapshots.
func (h *Handler) OverwriteMetrics(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	var input OverwriteInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	before, err := h.store.GetMetrics(r.Context(), slug, GetOptions{})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	after, err := h.store.OverwriteMetrics(r.Context(), slug, input)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			httputil.WriteValidationError(w, vErr.Error(), vErr.Fields)
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if h.audit != nil {
		changedBy := "admin"
		if viewerID, ok := h.identity.GetViewerID(r); ok {
			changedBy = viewerID
		}
		beforeSnap := &Snapshot{Views: before.Views, Likes: before.Likes, History: before.History}
		if err := h.audit.RecordChange(r.Context(), slug, changedBy, beforeSnap, after); err != nil {
			observability.FromContext(r.Context()).WithError(err).
				WithField("slug", slug).Warn("audit record failed")
		}
	}

	h.invalidateReads(slug, "")
	httputil.WriteSuccess(w, after)
}

// readCacheKey builds the per-variant cache key for a metrics read.
func readCacheKey(slug, viewerID string, r *http.Request) string {
	key := slug + "|" + viewerID
	if start := r.URL.Query().Get("start"); start != "" {
		key += "|s=" + start
	}
	if end := r.URL.Query().Get("end"); end != "" {
		key += "|e=" + end
	}
	return key
}

// invalidateReads drops the plain cached variants for a slug. Range-scoped
// entries age out on their own short TTL.
func (h *Handler) invalidateReads(slug, viewerID string) {
	if h.resolver == nil {
		return
	}
	h.resolver.Invalidate(cacheStore, slug+"|")
	if viewerID != "" {
		h.resolver.Invalidate(cacheStore, slug+"|"+viewerID)
	}
}
