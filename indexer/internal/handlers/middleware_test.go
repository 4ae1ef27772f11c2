package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"template-hub-indexer/shared/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func authTestRouter(t *testing.T, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/hook", RequireWebhookAuth(secret, testLogger(t)), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestRequireWebhookAuth(t *testing.T) {
	router := authTestRouter(t, "s3cret")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid token", header: "Bearer s3cret", want: http.StatusOK},
		{name: "wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "missing scheme", header: "s3cret", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/hook", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRequireWebhookAuthEmptySecretRejectsAll(t *testing.T) {
	router := authTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiterFixedWindow(t *testing.T) {
	current := time.Unix(1700000000, 0)
	rl := NewRateLimiter(100, time.Minute)
	rl.now = func() time.Time { return current }

	for i := 0; i < 100; i++ {
		assert.True(t, rl.allow("1.2.3.4"), "request %d should pass", i+1)
	}
	assert.False(t, rl.allow("1.2.3.4"), "101st request must be rejected")

	// A different source has its own budget.
	assert.True(t, rl.allow("5.6.7.8"))

	// Still blocked just before the boundary, open again at it.
	current = current.Add(59 * time.Second)
	assert.False(t, rl.allow("1.2.3.4"))
	current = current.Add(time.Second)
	assert.True(t, rl.allow("1.2.3.4"))
}

func TestRateLimiterSweepDropsExpiredWindows(t *testing.T) {
	current := time.Unix(1700000000, 0)
	rl := NewRateLimiter(10, time.Minute)
	rl.now = func() time.Time { return current }

	rl.allow("1.2.3.4")
	rl.allow("5.6.7.8")
	assert.Len(t, rl.windows, 2)

	current = current.Add(2 * time.Minute)
	rl.sweep()
	assert.Empty(t, rl.windows)
}

func TestRateLimiterMiddlewareResponds429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Minute)
	router := gin.New()
	router.POST("/hook", rl.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/hook", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/hook", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
