package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/pkg/apperrors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(mw...)
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, Principal(c))
	})
	return r
}

func do(r http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAnonymousWhenOptional(t *testing.T) {
	r := newRouter(AuthMiddleware(config.AuthConfig{}))
	w := do(r, "/whoami", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())
}

func TestAuthRequired(t *testing.T) {
	r := newRouter(AuthMiddleware(config.AuthConfig{RequireAPIKey: true, APIKeys: []string{"secret-abcd"}}))

	w := do(r, "/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body apperrors.AppError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperrors.ErrAuthFailed, body.Type)
	assert.Equal(t, "missing API key", body.Message)

	w = do(r, "/whoami", map[string]string{HeaderGatewayKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "/whoami", map[string]string{HeaderGatewayKey: "secret-abcd"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "key:****abcd", w.Body.String())

	w = do(r, "/whoami?api_key=secret-abcd", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInvalidKeyRejectedEvenWhenOptional(t *testing.T) {
	r := newRouter(AuthMiddleware(config.AuthConfig{APIKeys: []string{"k1"}}))
	w := do(r, "/whoami", map[string]string{HeaderGatewayKey: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIPLimiter(t *testing.T) {
	l := NewIPLimiter(1, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("1.1.1.1"))
}

func TestIPLimiterEvictsIdle(t *testing.T) {
	l := NewIPLimiter(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow("1.1.1.1")
	now = now.Add(time.Hour)
	l.Allow("2.2.2.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.limiters, 1)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newRouter(RateLimitMiddleware(NewIPLimiter(0.001, 1)))
	assert.Equal(t, http.StatusOK, do(r, "/whoami", nil).Code)

	w := do(r, "/whoami", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestErrorHandlerHidesInternalText(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New("pq: connection refused at 10.0.0.3"))
	})
	r.GET("/missing", func(c *gin.Context) {
		c.Error(apperrors.New(apperrors.ErrNotFound, "Unsupported exchange: foo", nil))
	})

	w := do(r, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")

	w = do(r, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Unsupported exchange: foo")
}
