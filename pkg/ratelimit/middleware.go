package ratelimit

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/calyptra/pulse/pkg/httputil"
	"github.com/calyptra/pulse/pkg/observability"
)

// Middleware wraps a handler with a fixed-window limit for one endpoint
// bucket. Rejections carry the standard headers plus a JSON body with retry
// timing. Metrics may be nil.
func Middleware(limiter *Limiter, metrics *observability.Metrics, bucketID string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Apply(bucketID, ClientID(r), limit, window)
			SetHeaders(w, res)

			if !res.OK {
				if metrics != nil {
					metrics.RateLimitRejectionsTotal.WithLabelValues(bucketID).Inc()
				}
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":       "rate limit exceeded",
					"retry_after": int(res.RetryAfter.Seconds()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteMethodMiddleware limits every non-GET route on a mux router, keying
// each window by method plus route template so endpoints throttle
// independently. Reads pass through untouched.
func WriteMethodMiddleware(limiter *Limiter, metrics *observability.Metrics, limit int, window time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			bucketID := r.Method + " " + r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					bucketID = r.Method + " " + template
				}
			}

			res := limiter.Apply(bucketID, ClientID(r), limit, window)
			SetHeaders(w, res)

			if !res.OK {
				if metrics != nil {
					metrics.RateLimitRejectionsTotal.WithLabelValues(bucketID).Inc()
				}
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":       "rate limit exceeded",
					"retry_after": int(res.RetryAfter.Seconds()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
