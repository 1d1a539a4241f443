package producer

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nextranet/gateway/acs/internal/groups"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
)

type createGroupRequest struct {
	Name        string                   `json:"name" binding:"required"`
	Description string                   `json:"description"`
	MatchType   string                   `json:"matchType"`
	Rules       []models.DeviceGroupRule `json:"rules" binding:"required"`
}

// CreateGroup creates a device group from a rule set
func CreateGroup(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
			return
		}
		if req.MatchType == "" {
			req.MatchType = models.MatchTypeAll
		}
		if req.MatchType != models.MatchTypeAll && req.MatchType != models.MatchTypeAny {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrInvalidMatchType.Error(), Message: req.MatchType})
			return
		}
		if err := groups.ValidateRules(req.Rules); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}

		group := &models.DeviceGroup{
			Name:        req.Name,
			Description: req.Description,
			MatchType:   req.MatchType,
		}
		if err := p.Groups.Create(c.Request.Context(), group, req.Rules); err != nil {
			logger.SBILog.Errorf("Failed to create group: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to create group"})
			return
		}
		c.JSON(http.StatusCreated, group)
	}
}

// GetGroups lists all device groups
func GetGroups(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := p.Groups.List(c.Request.Context())
		if err != nil {
			logger.SBILog.Errorf("Failed to list groups: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to retrieve groups"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"groups": list})
	}
}

// GetGroup returns a single group with its current member count
func GetGroup(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		group, err := p.Groups.Get(c.Request.Context(), c.Param("groupId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		count, err := p.Matcher.Count(c.Request.Context(), group.ID)
		if err != nil {
			logger.SBILog.Errorf("Failed to count group %s: %v", group.ID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to evaluate group"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"group":       group,
			"deviceCount": count,
		})
	}
}

// GetGroupDevices returns a page of the group's current members
func GetGroupDevices(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		offset, limit := pagination(c)
		devices, err := p.Matcher.Devices(c.Request.Context(), c.Param("groupId"), offset, limit)
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"devices": devices})
	}
}

type previewGroupRequest struct {
	DeviceID  string                   `json:"deviceId" binding:"required"`
	MatchType string                   `json:"matchType"`
	Rules     []models.DeviceGroupRule `json:"rules" binding:"required"`
}

// PreviewGroup evaluates an unsaved rule set against one device, so
// operators can check rules before creating the group.
func PreviewGroup(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req previewGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
			return
		}
		if req.MatchType == "" {
			req.MatchType = models.MatchTypeAll
		}
		device, err := p.Devices.Get(c.Request.Context(), req.DeviceID)
		if err != nil {
			respondStoreError(c, err)
			return
		}
		match, err := groups.Preview(device, req.MatchType, req.Rules)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"deviceId": device.ID,
			"matches":  match,
		})
	}
}
