package httpgin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func etagTestRouter(v any) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/events", func(c *gin.Context) {
		writeJSONWithCache(c, http.StatusOK, v, "public, max-age=15", true)
	})
	return r
}

func TestWriteJSONWithCache(t *testing.T) {
	r := etagTestRouter(gin.H{"title": "Go Conf", "availableSeats": 8})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)
	assert.True(t, len(tag) > 2 && tag[:2] == "W/", "weak tag, got %q", tag)
	assert.Equal(t, "public, max-age=15", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "Go Conf")

	// Revalidation with the tag short-circuits to 304 with no body.
	req = httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("If-None-Match", tag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteJSONWithCache_TagTracksBody(t *testing.T) {
	first := etagTestRouter(gin.H{"availableSeats": 8})
	second := etagTestRouter(gin.H{"availableSeats": 6})

	tagFor := func(r *gin.Engine) string {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
		return w.Header().Get("ETag")
	}

	assert.NotEqual(t, tagFor(first), tagFor(second), "seat movement must invalidate the tag")
}
