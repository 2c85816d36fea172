package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves liveness and connectivity checks
type HealthHandler struct {
	backend          string
	soundFontPath    string
	mode             string
	connectTestDelay time.Duration
}

func NewHealthHandler(backend, soundFontPath, mode string, connectTestDelay time.Duration) *HealthHandler {
	return &HealthHandler{
		backend:          backend,
		soundFontPath:    soundFontPath,
		mode:             mode,
		connectTestDelay: connectTestDelay,
	}
}

// HealthCheck returns the health status of the API
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	soundFontStatus := "disabled"
	if h.soundFontPath != "" {
		soundFontStatus = "loaded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"infill_mode": h.mode,
		"engine": gin.H{
			"backend": h.backend,
		},
		"soundfont": gin.H{
			"status": soundFontStatus,
			"path":   h.soundFontPath,
		},
	})
}

// ConnectTest waits for the configured delay and then answers, so clients
// can check that long-running requests survive their network path.
func (h *HealthHandler) ConnectTest(c *gin.Context) {
	timer := time.NewTimer(h.connectTestDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		c.JSON(http.StatusOK, gin.H{"message": connectTestMessage})
	case <-c.Request.Context().Done():
		c.Status(http.StatusServiceUnavailable)
	}
}
