package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-presence/internal/middleware"
)

func newLimitedRouter(t *testing.T, max int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	router := gin.New()
	router.Use(middleware.RateLimit(client, "cp:", max, time.Second))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return router, mr
}

func hit(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BlocksAfterMax(t *testing.T) {
	router, mr := newLimitedRouter(t, 2)

	assert.Equal(t, http.StatusOK, hit(router).Code)
	w := hit(router)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusTooManyRequests, hit(router).Code)

	assert.True(t, mr.Exists("cp:ratelimit:10.0.0.1"))
	assert.Equal(t, time.Second, mr.TTL("cp:ratelimit:10.0.0.1"))

	// 窗口过期后重新计数
	mr.FastForward(time.Second)
	assert.Equal(t, http.StatusOK, hit(router).Code)
}

func TestRateLimit_FailsOpenWithoutRedis(t *testing.T) {
	router, mr := newLimitedRouter(t, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, hit(router).Code)
	}
}
