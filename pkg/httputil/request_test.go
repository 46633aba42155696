package httputil

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"slug":"a"}`))
	var body struct {
		Slug string `json:"slug"`
	}
	require.NoError(t, ParseJSON(r, &body))
	assert.Equal(t, "a", body.Slug)

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{`))
	assert.Error(t, ParseJSON(r, &body))
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=25&bad=x", nil)
	assert.Equal(t, 25, QueryInt(r, "limit", 50))
	assert.Equal(t, 50, QueryInt(r, "missing", 50))
	assert.Equal(t, 50, QueryInt(r, "bad", 50))
}

func TestQueryDate(t *testing.T) {
	r := httptest.NewRequest("GET", "/?start=2026-08-01&bad=yesterday", nil)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), QueryDate(r, "start"))
	assert.True(t, QueryDate(r, "bad").IsZero())
	assert.True(t, QueryDate(r, "missing").IsZero())
}

func TestQueryList(t *testing.T) {
	r := httptest.NewRequest("GET", "/?slugs=a,%20b,,c", nil)
	assert.Equal(t, []string{"a", "b", "c"}, QueryList(r, "slugs"))
	assert.Nil(t, QueryList(r, "missing"))
}
