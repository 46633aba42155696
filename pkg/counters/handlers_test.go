package counters

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/pulse/pkg/identity"
)

type recordedChange struct {
	slug      string
	changedBy string
}

type fakeAudit struct {
	changes []recordedChange
}

func (f *fakeAudit) RecordChange(ctx context.Context, slug, changedBy string, before, after interface{}) error {
	f.changes = append(f.changes, recordedChange{slug: slug, changedBy: changedBy})
	return nil
}

func newTestRouter(t *testing.T) (*mux.Router, *fakeAudit) {
	t.Helper()
	store := newTestStore(t)
	audit := &fakeAudit{}
	h := NewHandler(store, nil, identity.NewResolver(false), audit, 3*time.Second, 12*time.Second)
	router := mux.NewRouter()
	h.Register(router)
	return router, audit
}

func viewerCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == identity.CookieName {
			return c
		}
	}
	return nil
}

func TestBumpViewRoute_MintsCookieAndDedups(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/metrics/hello/view", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cookie := viewerCookie(rec.Result())
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)

	var first BumpResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, int64(1), first.Views)
	assert.False(t, first.Deduped)

	// Same viewer again: deduped, no new cookie needed.
	req := httptest.NewRequest(http.MethodPost, "/api/metrics/hello/view", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var second BumpResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, int64(1), second.Views)
	assert.True(t, second.Deduped)
}

func TestToggleLikeRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	body := bytes.NewBufferString(`{"liked": true}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/metrics/hello/like", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var result LikeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(1), result.Likes)
	assert.True(t, result.Liked)
}

func TestToggleLikeRoute_OmittedFieldFlips(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/metrics/hello/like", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	cookie := viewerCookie(rec.Result())
	require.NotNil(t, cookie)

	var first LikeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.Liked)
	assert.Equal(t, int64(1), first.Likes)

	// Same viewer, no body at all: flips back off.
	req := httptest.NewRequest(http.MethodPost, "/api/metrics/hello/like", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var second LikeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.False(t, second.Liked)
	assert.Equal(t, int64(0), second.Likes)
}

func TestToggleLikeRoute_MalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/metrics/hello/like", bytes.NewBufferString(`{"liked":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMetricsRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/metrics/hello/view", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/hello", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result MetricsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(1), result.Views)
	assert.Nil(t, result.Liked)
}

func TestOverwriteRoute_AuditsChange(t *testing.T) {
	router, audit := newTestRouter(t)

	body := bytes.NewBufferString(`{"views": 10, "likes": 2}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/metrics/hello", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(10), snap.Views)

	require.Len(t, audit.changes, 1)
	assert.Equal(t, "hello", audit.changes[0].slug)
	assert.Equal(t, "admin", audit.changes[0].changedBy)
}

func TestOverwriteRoute_ValidationError(t *testing.T) {
	router, audit := newTestRouter(t)

	body := bytes.NewBufferString(`{"views": -5}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/metrics/hello", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, audit.changes)

	var resp struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Details, "views")
}

func TestRoutes_RejectBadSlug(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/bad%2Fslug", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
