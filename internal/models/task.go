package models

import (
	"time"

	"gorm.io/datatypes"
)

// Task is one command directed at one device. Tasks are drained by the
// session handler one RPC per HTTP round trip; at most one task per device
// is in sent state at a time.
type Task struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	DeviceID string `json:"deviceId" gorm:"type:varchar(128);index;not null"`
	Type     string `json:"type" gorm:"type:varchar(32);index;not null"`
	Status   string `json:"status" gorm:"type:varchar(16);index;not null;default:'pending'"`

	// Payload shape depends on Type; see the builders in internal/cwmp.
	Parameters datatypes.JSON `json:"parameters"`
	Result     datatypes.JSON `json:"result"`
	// Failure reason or completion note; empty on success paths that carry
	// their detail in Result.
	Message string `json:"message" gorm:"type:text"`

	CreatedAt   time.Time  `json:"createdAt" gorm:"autoCreateTime;index"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// Recency correlation and reaper deadlines both key off UpdatedAt.
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime;index"`
}

func (Task) TableName() string {
	return "tasks"
}

// Task status values. The only legal transitions are
// pending -> sent -> completed|failed, plus the explicit retry reset.
const (
	TaskStatusPending   = "pending"
	TaskStatusSent      = "sent"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Task types.
const (
	TaskGetParams             = "get_params"
	TaskSetParams             = "set_params"
	TaskReboot                = "reboot"
	TaskFactoryReset          = "factory_reset"
	TaskDownload              = "download"
	TaskUpload                = "upload"
	TaskAddObject             = "add_object"
	TaskDeleteObject          = "delete_object"
	TaskPingDiagnostics       = "ping_diagnostics"
	TaskTracerouteDiagnostics = "traceroute_diagnostics"
	TaskGetDiagnosticResults  = "get_diagnostic_results"
)

// IsDiagnosticTrigger reports whether the task type starts a device-side
// diagnostic that completes asynchronously via an 8 DIAGNOSTICS COMPLETE
// event rather than with its SetParameterValuesResponse.
func IsDiagnosticTrigger(taskType string) bool {
	return taskType == TaskPingDiagnostics || taskType == TaskTracerouteDiagnostics
}

// IsTerminalTaskStatus reports whether a task status is final.
func IsTerminalTaskStatus(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusFailed
}
