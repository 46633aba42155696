package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// evictScanLimit bounds the stale-bucket sweep done on each call so a single
// request never pays for a full map scan.
const evictScanLimit = 50

// Result is the outcome of a rate limit check. Rejection is a value, not an
// error: callers translate it into a 429 with retry timing.
type Result struct {
	OK         bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks fixed windows keyed by bucket and client.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Apply checks and counts one request for (bucketID, clientID). The first
// request in a window creates it; requests past the limit are rejected
// without counting further. Expired windows reset lazily on next access.
func (l *Limiter) Apply(bucketID, clientID string, limit int, windowDur time.Duration) Result {
	key := bucketID + ":" + clientID

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictStale(now)

	w, ok := l.windows[key]
	if !ok || !w.resetAt.After(now) {
		w = &window{count: 1, resetAt: now.Add(windowDur)}
		l.windows[key] = w
		return Result{
			OK:        true,
			Limit:     limit,
			Remaining: limit - 1,
			ResetAt:   w.resetAt,
		}
	}

	if w.count >= limit {
		return Result{
			OK:         false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: w.resetAt.Sub(now),
		}
	}

	w.count++
	return Result{
		OK:        true,
		Limit:     limit,
		Remaining: limit - w.count,
		ResetAt:   w.resetAt,
	}
}

// evictStale removes up to evictScanLimit expired windows. Map iteration
// order is random, so repeated calls eventually cover every key.
func (l *Limiter) evictStale(now time.Time) {
	scanned := 0
	for key, w := range l.windows {
		if scanned >= evictScanLimit {
			return
		}
		scanned++
		if !w.resetAt.After(now) {
			delete(l.windows, key)
		}
	}
}

// ClientID derives the rate limit client key for a request: the first
// X-Forwarded-For entry, else the socket address host, else "unknown".
func ClientID(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// SetHeaders writes the standard rate limit headers for a check result.
func SetHeaders(w http.ResponseWriter, res Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.OK {
		secs := int(res.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}
