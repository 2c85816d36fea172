package logger

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestLogAPIRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLog(t)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/infill", nil)
	c.Set("request_id", "req-123")

	fields := Fields{"mode": "full"}
	LogAPIRequest(c, 1500*time.Millisecond, http.StatusOK, fields)

	assert.Equal(t, int64(1500), fields["duration_ms"])
	assert.Equal(t, http.StatusOK, fields["status_code"])
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "/infill", fields["path"])
	assert.Contains(t, buf.String(), "[INFO] API request completed")
	assert.Contains(t, buf.String(), "mode=full")
}

func TestLogAPIRequestNilFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLog(t)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	assert.NotPanics(t, func() { LogAPIRequest(c, time.Millisecond, http.StatusOK, nil) })
	assert.Contains(t, buf.String(), "path=/health")
}

func TestLevels(t *testing.T) {
	buf := captureLog(t)

	Debug("workspace removed", Fields{"dir": "/tmp/x"})
	Warn("slow pass", nil)
	Error("pass failed", errors.New("boom"), Fields{"pass": "chord.basic"})

	out := buf.String()
	assert.Contains(t, out, "[DEBUG] workspace removed")
	assert.Contains(t, out, "[WARN] slow pass")
	assert.Contains(t, out, "[ERROR] pass failed: boom")
}
