package models

import "errors"

// Common errors
var (
	// Device errors
	ErrDeviceNotFound  = errors.New("device not found")
	ErrInvalidDeviceID = errors.New("invalid device ID")
	ErrDeviceOffline   = errors.New("device is offline")

	// Task errors
	ErrTaskNotFound       = errors.New("task not found")
	ErrInvalidTaskType    = errors.New("invalid task type")
	ErrTaskNotRetryable   = errors.New("task is not in a terminal state")
	ErrNoTaskInFlight     = errors.New("no matching task in sent state")
	ErrTaskAlreadyClaimed = errors.New("task already claimed")
	ErrBadTaskPayload     = errors.New("malformed task payload")

	// Group errors
	ErrGroupNotFound    = errors.New("device group not found")
	ErrInvalidMatchType = errors.New("invalid group match type")
	ErrInvalidOperator  = errors.New("invalid rule operator")
	ErrInvalidRuleField = errors.New("invalid rule field")

	// Workflow errors
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrExecutionNotFound    = errors.New("workflow execution not found")
	ErrWorkflowNotActive    = errors.New("workflow is not active")
	ErrInvalidScheduleType  = errors.New("invalid schedule type")
	ErrInvalidStatusChange  = errors.New("invalid status transition")
	ErrDependencyUnresolved = errors.New("dependency workflow has no completed execution")

	// Protocol errors
	ErrUnknownRPCMethod   = errors.New("unknown RPC method")
	ErrMalformedEnvelope  = errors.New("malformed SOAP envelope")
	ErrSessionUnresolved  = errors.New("cannot resolve device for empty POST")
	ErrAuthenticationFailed = errors.New("authentication failed")

	// Database errors
	ErrRecordNotFound = errors.New("record not found")
)

// IsNotFound checks if an error is a "not found" type error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
