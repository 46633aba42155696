package identity

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CookieName is the long-lived viewer identity cookie.
const CookieName = "pulse_viewer"

// cookieMaxAge is one year; the id only needs to outlive the like TTL (90d).
const cookieMaxAge = int(365 * 24 * time.Hour / time.Second)

// Resolver reads and mints viewer ids.
type Resolver struct {
	// Secure marks minted cookies Secure; set in production.
	Secure bool
}

// NewResolver creates a viewer identity resolver.
func NewResolver(secure bool) *Resolver {
	return &Resolver{Secure: secure}
}

// GetViewerID reads the viewer id from the request cookie. It never mints
// one; read paths must work for cookie-less clients.
func (rs *Resolver) GetViewerID(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// EnsureViewerID returns the existing viewer id or mints a new one, setting
// the cookie on the response. The minted cookie is also written back onto
// the request so later reads within the same handler chain observe it.
func (rs *Resolver) EnsureViewerID(w http.ResponseWriter, r *http.Request) string {
	if id, ok := rs.GetViewerID(r); ok {
		return id
	}

	id := uuid.NewString()
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   rs.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)
	r.AddCookie(cookie)

	return id
}
