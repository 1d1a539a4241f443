package producer

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
)

// GetDevices returns a page of devices
func GetDevices(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		offset, limit := pagination(c)

		devices, err := p.Devices.List(c.Request.Context(), offset, limit)
		if err != nil {
			logger.SBILog.Errorf("Failed to list devices: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to retrieve devices"})
			return
		}
		total, err := p.Devices.Count(c.Request.Context())
		if err != nil {
			logger.SBILog.Errorf("Failed to count devices: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to retrieve devices"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"devices": devices,
			"total":   total,
		})
	}
}

// GetDevice returns a single device by ID
func GetDevice(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		device, err := p.Devices.Get(c.Request.Context(), c.Param("deviceId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, device)
	}
}

// GetDeviceParameters returns the cached parameter tree of a device
func GetDeviceParameters(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		if _, err := p.Devices.Get(c.Request.Context(), deviceID); err != nil {
			respondStoreError(c, err)
			return
		}
		params, err := p.Devices.GetParameters(c.Request.Context(), deviceID)
		if err != nil {
			logger.SBILog.Errorf("Failed to get parameters for %s: %v", deviceID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to retrieve parameters"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"deviceId":   deviceID,
			"parameters": params,
		})
	}
}

// GetDeviceSessions returns recent CWMP sessions of a device
func GetDeviceSessions(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		if _, err := p.Devices.Get(c.Request.Context(), deviceID); err != nil {
			respondStoreError(c, err)
			return
		}
		limit := 20
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		sessions, err := p.Sessions.ListByDevice(c.Request.Context(), deviceID, limit)
		if err != nil {
			logger.SBILog.Errorf("Failed to get sessions for %s: %v", deviceID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to retrieve sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// ConnectionRequest asks a device to open a session now
func ConnectionRequest(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		device, err := p.Devices.Get(c.Request.Context(), c.Param("deviceId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		if err := p.ConnReq.Dispatch(c.Request.Context(), device); err != nil {
			logger.SBILog.Warnf("Connection request to %s failed: %v", device.ID, err)
			c.JSON(http.StatusBadGateway, models.ErrorResponse{
				Error:   "connection request failed",
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
	}
}

func pagination(c *gin.Context) (offset, limit int) {
	limit = 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return offset, limit
}

func respondStoreError(c *gin.Context, err error) {
	if models.IsNotFound(err) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	}
	logger.SBILog.Errorf("Store error: %v", err)
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal error"})
}
