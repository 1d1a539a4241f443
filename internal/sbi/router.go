package sbi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nextranet/gateway/acs/internal/context"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/sbi/producer"
)

// InitRouter initializes the SBI router with all routes
func InitRouter(router *gin.Engine, appContext *context.Context, p *producer.Processor) {
	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Health check
		v1.GET("/health", healthCheck(appContext))

		// System routes
		v1.GET("/status", producer.GetSystemStatus(p))

		// Device routes
		devices := v1.Group("/devices")
		{
			devices.GET("", producer.GetDevices(p))
			devices.GET("/:deviceId", producer.GetDevice(p))
			devices.GET("/:deviceId/parameters", producer.GetDeviceParameters(p))
			devices.GET("/:deviceId/sessions", producer.GetDeviceSessions(p))
			devices.GET("/:deviceId/tasks", producer.GetDeviceTasks(p))
			devices.POST("/:deviceId/tasks", producer.CreateDeviceTask(p))
			devices.POST("/:deviceId/connection-request", producer.ConnectionRequest(p))
		}

		// Task routes
		tasks := v1.Group("/tasks")
		{
			tasks.GET("/:taskId", producer.GetTask(p))
			tasks.POST("/:taskId/retry", producer.RetryTask(p))
		}

		// Device group routes
		groups := v1.Group("/groups")
		{
			groups.GET("", producer.GetGroups(p))
			groups.POST("", producer.CreateGroup(p))
			groups.POST("/preview", producer.PreviewGroup(p))
			groups.GET("/:groupId", producer.GetGroup(p))
			groups.GET("/:groupId/devices", producer.GetGroupDevices(p))
		}

		// Workflow routes
		workflows := v1.Group("/workflows")
		{
			workflows.POST("", producer.CreateWorkflow(p))
			workflows.GET("/:workflowId", producer.GetWorkflow(p))
			workflows.GET("/:workflowId/executions", producer.GetWorkflowExecutions(p))
			workflows.POST("/:workflowId/activate", producer.ActivateWorkflow(p))
			workflows.POST("/:workflowId/pause", producer.PauseWorkflow(p))
			workflows.POST("/:workflowId/cancel", producer.CancelWorkflow(p))
			workflows.POST("/:workflowId/retry-failed", producer.RetryFailedExecutions(p))
		}
	}
}

// LoggerMiddleware creates a logger middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		// Custom log format
		var statusColor, methodColor, resetColor string
		if param.IsOutputColor() {
			statusColor = param.StatusCodeColor()
			methodColor = param.MethodColor()
			resetColor = param.ResetColor()
		}

		if param.Latency > time.Minute {
			param.Latency = param.Latency - param.Latency%time.Second
		}

		logger.HTTPLog.Infof("%s %3d %s| %13v | %15s |%s %-7s %s %#v",
			statusColor, param.StatusCode, resetColor,
			param.Latency,
			param.ClientIP,
			methodColor, param.Method, resetColor,
			param.Path,
		)

		return ""
	})
}

// CORSMiddleware creates a CORS middleware
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Allow all origins in development, restrict in production
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ErrorHandlerMiddleware creates an error handler middleware
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Handle any errors that occurred during request processing
		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			logger.SBILog.Errorf("Request error: %v", err)

			// Return appropriate error response
			status := c.Writer.Status()
			if status == http.StatusOK {
				status = http.StatusInternalServerError
			}

			c.JSON(status, gin.H{
				"error": err.Error(),
			})
		}
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set("requestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()
	}
}

// healthCheck returns a health check handler
func healthCheck(appContext *context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := appContext.GetStatus()

		response := gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"database":  status.DatabaseHealthy,
		}

		statusCode := http.StatusOK
		if !status.DatabaseHealthy {
			response["status"] = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
