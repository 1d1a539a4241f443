package producer

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
)

var validTaskTypes = map[string]bool{
	models.TaskGetParams:              true,
	models.TaskSetParams:              true,
	models.TaskReboot:                 true,
	models.TaskFactoryReset:           true,
	models.TaskDownload:               true,
	models.TaskUpload:                 true,
	models.TaskAddObject:              true,
	models.TaskDeleteObject:           true,
	models.TaskPingDiagnostics:        true,
	models.TaskTracerouteDiagnostics:  true,
}

type createTaskRequest struct {
	Type       string          `json:"type" binding:"required"`
	Parameters json.RawMessage `json:"parameters"`
}

// CreateDeviceTask queues an ad-hoc task for a device
func CreateDeviceTask(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		if _, err := p.Devices.Get(c.Request.Context(), deviceID); err != nil {
			respondStoreError(c, err)
			return
		}

		var req createTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
			return
		}
		if !validTaskTypes[req.Type] {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrInvalidTaskType.Error(), Message: req.Type})
			return
		}

		task := &models.Task{
			DeviceID:   deviceID,
			Type:       req.Type,
			Parameters: []byte(req.Parameters),
		}
		if err := p.Tasks.Create(c.Request.Context(), task); err != nil {
			logger.SBILog.Errorf("Failed to create task: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to create task"})
			return
		}
		c.JSON(http.StatusCreated, task)
	}
}

// GetDeviceTasks returns a page of tasks for a device
func GetDeviceTasks(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		if _, err := p.Devices.Get(c.Request.Context(), deviceID); err != nil {
			respondStoreError(c, err)
			return
		}
		offset, limit := pagination(c)
		tasks, err := p.Tasks.ListByDevice(c.Request.Context(), deviceID, offset, limit)
		if err != nil {
			logger.SBILog.Errorf("Failed to list tasks for %s: %v", deviceID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to retrieve tasks"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	}
}

// GetTask returns a single task by ID
func GetTask(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := p.Tasks.Get(c.Request.Context(), c.Param("taskId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// RetryTask resets a terminal task back to pending
func RetryTask(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := p.Tasks.Get(c.Request.Context(), c.Param("taskId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		if err := p.Tasks.RetryReset(c.Request.Context(), task); err != nil {
			c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, task)
	}
}
