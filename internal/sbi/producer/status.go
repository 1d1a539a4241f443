package producer

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appContext "github.com/nextranet/gateway/acs/internal/context"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
)

// GetSystemStatus returns runtime counters plus queue depth per status
func GetSystemStatus(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := appContext.GetContext().GetStatus()

		queue := gin.H{}
		for _, s := range []string{
			models.TaskStatusPending, models.TaskStatusSent,
			models.TaskStatusCompleted, models.TaskStatusFailed,
		} {
			n, err := p.Tasks.CountByStatus(c.Request.Context(), s)
			if err != nil {
				logger.SBILog.Errorf("Failed to count tasks: %v", err)
				c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to read queue"})
				return
			}
			queue[s] = n
		}
		deviceCount, err := p.Devices.Count(c.Request.Context())
		if err != nil {
			logger.SBILog.Errorf("Failed to count devices: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to read devices"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"runtime":   status,
			"devices":   deviceCount,
			"tasks":     queue,
		})
	}
}
