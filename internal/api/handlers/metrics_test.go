package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 1500 * time.Millisecond, want: "1.50s"},
		{in: 2*time.Minute + 3*time.Second, want: "2m3.00s"},
		{in: time.Hour + 5*time.Minute, want: "1h5m0.00s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.in))
	}
}

func TestInfillStats(t *testing.T) {
	stats := NewInfillStats()
	stats.begin()
	stats.begin()
	assert.Equal(t, int64(2), stats.Snapshot()["in_flight"])

	stats.end(true)
	stats.end(false)
	assert.Equal(t, map[string]int64{"in_flight": 0, "total": 2, "succeeded": 1, "failed": 1}, stats.Snapshot())
}

func TestGetMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stats := NewInfillStats()
	stats.begin()

	router := gin.New()
	router.GET("/api/metrics", NewMetricsHandler("v1.2.3", "http", stats).GetMetrics)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
	assert.Equal(t, int64(1), resp.Infill["in_flight"])
	assert.NotEmpty(t, resp.System.GoVersion)
}
