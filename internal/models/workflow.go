package models

import (
	"time"

	"gorm.io/datatypes"
)

// GroupWorkflow is a fleet-wide automation definition: run one task type,
// with a parameter template, against every device in a group, under rate
// and concurrency limits.
type GroupWorkflow struct {
	ID      string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name    string `json:"name" gorm:"type:varchar(128);not null"`
	GroupID string `json:"groupId" gorm:"type:varchar(64);index;not null"`

	TaskType string `json:"taskType" gorm:"type:varchar(32);not null"`
	// Template for the tasks this workflow creates, same shape as
	// Task.Parameters for TaskType.
	Parameters datatypes.JSON `json:"parameters"`

	ScheduleType string     `json:"scheduleType" gorm:"type:varchar(16);not null;default:'immediate'"`
	ScheduledAt  *time.Time `json:"scheduledAt,omitempty"`
	// Cron expression for recurring workflows.
	Recurrence string `json:"recurrence,omitempty" gorm:"type:varchar(64)"`

	// Executions per minute; 0 means unlimited.
	RateLimit int `json:"rateLimit"`
	// Executions allowed in queued/in_progress at once; 0 means unlimited.
	MaxConcurrent        int `json:"maxConcurrent"`
	RetryCount           int `json:"retryCount"`
	RetryDelayMinutes    int `json:"retryDelayMinutes"`
	StopOnFailurePercent int `json:"stopOnFailurePercent"`

	DependsOnWorkflowID *string `json:"dependsOnWorkflowId,omitempty" gorm:"type:varchar(64);index"`

	Status      string     `json:"status" gorm:"type:varchar(16);index;not null;default:'draft'"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (GroupWorkflow) TableName() string {
	return "group_workflows"
}

// Workflow status values.
const (
	WorkflowStatusDraft     = "draft"
	WorkflowStatusActive    = "active"
	WorkflowStatusPaused    = "paused"
	WorkflowStatusCancelled = "cancelled"
	WorkflowStatusCompleted = "completed"
)

// Workflow schedule types.
const (
	ScheduleImmediate = "immediate"
	ScheduleScheduled = "scheduled"
	ScheduleRecurring = "recurring"
	ScheduleOnConnect = "on_connect"
)

// WorkflowExecution is the per-device instance of a workflow. Exactly one
// row exists per (workflow, device) unless explicitly re-queued for retry.
type WorkflowExecution struct {
	ID         string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	WorkflowID string `json:"workflowId" gorm:"type:varchar(64);not null;uniqueIndex:idx_workflow_device"`
	DeviceID   string `json:"deviceId" gorm:"type:varchar(128);not null;uniqueIndex:idx_workflow_device"`

	Status  string `json:"status" gorm:"type:varchar(16);index;not null;default:'pending'"`
	Attempt int    `json:"attempt"`

	TaskID      *string    `json:"taskId,omitempty" gorm:"type:varchar(64);index"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty" gorm:"index"`
	Result      string     `json:"result" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime;index"`
}

func (WorkflowExecution) TableName() string {
	return "workflow_executions"
}

// Execution status values.
const (
	ExecStatusPending    = "pending"
	ExecStatusQueued     = "queued"
	ExecStatusInProgress = "in_progress"
	ExecStatusCompleted  = "completed"
	ExecStatusFailed     = "failed"
	ExecStatusSkipped    = "skipped"
	ExecStatusCancelled  = "cancelled"
)
