package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"collab-presence/internal/fanout"
	"collab-presence/internal/hub"
	memorystate "collab-presence/internal/infra/state/memory"
	"collab-presence/internal/metrics"
	"collab-presence/internal/service"
	"collab-presence/internal/timer"
)

func TestNewRouter_Routes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &Config{
		AppEnv:            "test",
		KeyPrefix:         "cp:",
		CORSAllowedOrigin: "http://example.test",
		RateLimitMax:      100,
		RateLimitWindow:   time.Second,
	}
	store := memorystate.NewPresenceStore()
	timers := timer.NewManager()
	t.Cleanup(timers.Stop)
	bridge := fanout.NewLocalBridge()
	lifecycle := service.NewLifecycleService(store, nil, timers, bridge, nil, service.LifecycleConfig{
		GracePeriod:         time.Second,
		InactivityThreshold: time.Minute,
	})
	h := hub.NewHub(lifecycle, bridge, nil)
	reg := prometheus.NewRegistry()
	lifecycle.SetMetrics(metrics.New(reg))
	router := newRouter(cfg, logrus.New(), client, h, service.NewRoomService(store), nil, reg)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/ping", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/rooms/r1/members", http.StatusNotFound},
		{http.MethodOptions, "/api/rooms/r1/members", http.StatusNoContent},
		// 未配置数据库时不注册历史接口
		{http.MethodGet, "/api/members/alice/sessions", http.StatusNotFound},
		// 非 WebSocket 请求缺少 memberId
		{http.MethodGet, "/ws/rooms/r1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, w.Code, "%s %s", tt.method, tt.path)
		assert.Equal(t, "http://example.test", w.Header().Get("Access-Control-Allow-Origin"))
	}
}
