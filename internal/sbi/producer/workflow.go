package producer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
)

type createWorkflowRequest struct {
	Name                 string          `json:"name" binding:"required"`
	GroupID              string          `json:"groupId" binding:"required"`
	TaskType             string          `json:"taskType" binding:"required"`
	Parameters           json.RawMessage `json:"parameters"`
	ScheduleType         string          `json:"scheduleType"`
	ScheduledAt          *time.Time      `json:"scheduledAt"`
	Recurrence           string          `json:"recurrence"`
	RateLimit            int             `json:"rateLimit"`
	MaxConcurrent        int             `json:"maxConcurrent"`
	RetryCount           int             `json:"retryCount"`
	RetryDelayMinutes    int             `json:"retryDelayMinutes"`
	StopOnFailurePercent int             `json:"stopOnFailurePercent"`
	DependsOnWorkflowID  *string         `json:"dependsOnWorkflowId"`
}

// CreateWorkflow creates a workflow in draft state
func CreateWorkflow(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWorkflowRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
			return
		}
		if !validTaskTypes[req.TaskType] {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrInvalidTaskType.Error(), Message: req.TaskType})
			return
		}
		if _, err := p.Groups.Get(c.Request.Context(), req.GroupID); err != nil {
			respondStoreError(c, err)
			return
		}

		if req.ScheduleType == "" {
			req.ScheduleType = models.ScheduleImmediate
		}
		switch req.ScheduleType {
		case models.ScheduleImmediate, models.ScheduleOnConnect:
		case models.ScheduleScheduled:
			if req.ScheduledAt == nil {
				c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "scheduledAt is required for scheduled workflows"})
				return
			}
		case models.ScheduleRecurring:
			if _, err := cron.ParseStandard(req.Recurrence); err != nil {
				c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid recurrence expression", Message: err.Error()})
				return
			}
		default:
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrInvalidScheduleType.Error(), Message: req.ScheduleType})
			return
		}

		if req.DependsOnWorkflowID != nil {
			if _, err := p.Workflows.Get(c.Request.Context(), *req.DependsOnWorkflowID); err != nil {
				respondStoreError(c, err)
				return
			}
		}

		wf := &models.GroupWorkflow{
			Name:                 req.Name,
			GroupID:              req.GroupID,
			TaskType:             req.TaskType,
			Parameters:           []byte(req.Parameters),
			ScheduleType:         req.ScheduleType,
			ScheduledAt:          req.ScheduledAt,
			Recurrence:           req.Recurrence,
			RateLimit:            req.RateLimit,
			MaxConcurrent:        req.MaxConcurrent,
			RetryCount:           req.RetryCount,
			RetryDelayMinutes:    req.RetryDelayMinutes,
			StopOnFailurePercent: req.StopOnFailurePercent,
			DependsOnWorkflowID:  req.DependsOnWorkflowID,
			Status:               models.WorkflowStatusDraft,
		}
		if err := p.Workflows.Create(c.Request.Context(), wf); err != nil {
			logger.SBILog.Errorf("Failed to create workflow: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to create workflow"})
			return
		}
		c.JSON(http.StatusCreated, wf)
	}
}

// GetWorkflow returns a workflow with its execution totals
func GetWorkflow(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		wf, err := p.Workflows.Get(c.Request.Context(), c.Param("workflowId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}

		stats := gin.H{}
		for _, status := range []string{
			models.ExecStatusPending, models.ExecStatusQueued, models.ExecStatusInProgress,
			models.ExecStatusCompleted, models.ExecStatusFailed, models.ExecStatusSkipped,
			models.ExecStatusCancelled,
		} {
			n, err := p.Workflows.CountByStatus(c.Request.Context(), wf.ID, status)
			if err != nil {
				logger.SBILog.Errorf("Failed to count executions: %v", err)
				c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to retrieve workflow"})
				return
			}
			stats[status] = n
		}
		c.JSON(http.StatusOK, gin.H{
			"workflow":   wf,
			"executions": stats,
		})
	}
}

// GetWorkflowExecutions returns a page of per-device executions
func GetWorkflowExecutions(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		wf, err := p.Workflows.Get(c.Request.Context(), c.Param("workflowId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		offset, limit := pagination(c)
		execs, err := p.Workflows.ListExecutions(c.Request.Context(), wf.ID, offset, limit)
		if err != nil {
			logger.SBILog.Errorf("Failed to list executions: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to retrieve executions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"executions": execs})
	}
}

// workflowTransitions lists the legal status changes an operator can make.
var workflowTransitions = map[string]map[string]bool{
	models.WorkflowStatusActive: {
		models.WorkflowStatusDraft:  true,
		models.WorkflowStatusPaused: true,
	},
	models.WorkflowStatusPaused: {
		models.WorkflowStatusActive: true,
	},
	models.WorkflowStatusCancelled: {
		models.WorkflowStatusDraft:  true,
		models.WorkflowStatusActive: true,
		models.WorkflowStatusPaused: true,
	},
}

func setWorkflowStatus(p *Processor, target string) gin.HandlerFunc {
	return func(c *gin.Context) {
		wf, err := p.Workflows.Get(c.Request.Context(), c.Param("workflowId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		if !workflowTransitions[target][wf.Status] {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   models.ErrInvalidStatusChange.Error(),
				Message: wf.Status + " -> " + target,
			})
			return
		}
		if target == models.WorkflowStatusCancelled {
			if _, err := p.Workflows.CancelOpen(c.Request.Context(), wf.ID); err != nil {
				logger.SBILog.Errorf("Failed to cancel executions: %v", err)
				c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to cancel workflow"})
				return
			}
		}
		if err := p.Workflows.SetStatus(c.Request.Context(), wf, target); err != nil {
			logger.SBILog.Errorf("Failed to update workflow status: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to update workflow"})
			return
		}
		c.JSON(http.StatusOK, wf)
	}
}

// ActivateWorkflow moves a draft or paused workflow to active
func ActivateWorkflow(p *Processor) gin.HandlerFunc {
	return setWorkflowStatus(p, models.WorkflowStatusActive)
}

// PauseWorkflow pauses an active workflow
func PauseWorkflow(p *Processor) gin.HandlerFunc {
	return setWorkflowStatus(p, models.WorkflowStatusPaused)
}

// CancelWorkflow cancels a workflow and its open executions
func CancelWorkflow(p *Processor) gin.HandlerFunc {
	return setWorkflowStatus(p, models.WorkflowStatusCancelled)
}

// RetryFailedExecutions requeues every failed execution of a workflow
func RetryFailedExecutions(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		wf, err := p.Workflows.Get(c.Request.Context(), c.Param("workflowId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		n, err := p.Workflows.ResetFailed(c.Request.Context(), wf.ID)
		if err != nil {
			logger.SBILog.Errorf("Failed to reset executions: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to reset executions"})
			return
		}
		// A completed workflow with requeued executions runs again.
		if n > 0 && wf.Status == models.WorkflowStatusCompleted {
			if err := p.Workflows.SetStatus(c.Request.Context(), wf, models.WorkflowStatusActive); err != nil {
				logger.SBILog.Errorf("Failed to reactivate workflow: %v", err)
			}
		}
		c.JSON(http.StatusOK, gin.H{"requeued": n})
	}
}
