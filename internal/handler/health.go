package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SergeiKhy/shortlink-analytics/internal/service"
)

// HealthCheck проверка одной зависимости (Postgres, Redis)
type HealthCheck func(ctx context.Context) error

// HealthHandler проверяет зависимости и отдаёт состояние очереди кликов
type HealthHandler struct {
	checks   map[string]HealthCheck
	recorder service.ClickRecorder
	timeout  time.Duration
}

func NewHealthHandler(checks map[string]HealthCheck, recorder service.ClickRecorder) *HealthHandler {
	return &HealthHandler{
		checks:   checks,
		recorder: recorder,
		timeout:  2 * time.Second,
	}
}

// Health GET /health: 200 если все зависимости доступны, иначе 503
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := gin.H{
		"status":       "ok",
		"dependencies": deps,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.recorder != nil {
		body["clicks"] = h.recorder.Stats()
	}
	c.JSON(status, body)
}
