package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ok", func(c *gin.Context) {
		authenticated, _ := c.Get("authenticated")
		c.JSON(http.StatusOK, gin.H{"auth": authenticated})
	})
	r.GET("/big", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("x", 2048))
	})
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	r := newRouter(CORS())

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Origin", "http://example.com")
	w := serve(r, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGzip(t *testing.T) {
	r := newRouter(Gzip())

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(r, req)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/big", nil))
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestSecureHeaders(t *testing.T) {
	r := newRouter(SecureHeaders())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}

func TestRateLimiter(t *testing.T) {
	_, err := RateLimiter("nonsense")
	assert.Error(t, err)

	mw, err := RateLimiter("2-M")
	require.NoError(t, err)
	r := newRouter(mw)

	for range 2 {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_RATE_LIMITED")
}

func TestTokenAuthDisabled(t *testing.T) {
	r := newRouter(TokenAuth(TokenAuthConfig{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenAuth(t *testing.T) {
	r := newRouter(TokenAuth(TokenAuthConfig{Token: "secret"}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"auth":true`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ok?token=secret", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger(t *testing.T) {
	r := newRouter(Logger())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
