package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthResponse lists the state of each probed dependency
type HealthResponse struct {
	Message string            `json:"message"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HandleHealthCheck godoc
// @Summary Health check endpoint
// @Description Check if the service and its database and redis connections are up
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func HandleHealthCheck(checks map[string]HealthCheck) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		response := HealthResponse{Message: "ok"}
		status := http.StatusOK

		for _, name := range names {
			if response.Checks == nil {
				response.Checks = make(map[string]string, len(names))
			}
			if err := checks[name](ctx); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("check", name).Msg("health check failed")
				response.Checks[name] = err.Error()
				response.Message = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			response.Checks[name] = "ok"
		}

		c.JSON(status, response)
	}
}
