package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nextranet/gateway/acs/internal/models"
	"gorm.io/gorm"
)

// WorkflowStore persists workflow definitions and their per-device
// executions.
type WorkflowStore struct {
	db *gorm.DB
}

// NewWorkflowStore creates a workflow store
func NewWorkflowStore(db *gorm.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

// Create inserts a workflow definition.
func (s *WorkflowStore) Create(ctx context.Context, w *models.GroupWorkflow) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = models.WorkflowStatusDraft
	}
	if w.ScheduleType == "" {
		w.ScheduleType = models.ScheduleImmediate
	}
	return s.db.WithContext(ctx).Create(w).Error
}

// Get retrieves a workflow by ID.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*models.GroupWorkflow, error) {
	var w models.GroupWorkflow
	err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListActive returns all workflows in active status, oldest first.
func (s *WorkflowStore) ListActive(ctx context.Context) ([]models.GroupWorkflow, error) {
	var workflows []models.GroupWorkflow
	err := s.db.WithContext(ctx).
		Where("status = ?", models.WorkflowStatusActive).
		Order("created_at ASC").
		Find(&workflows).Error
	return workflows, err
}

// SetStatus updates a workflow's status, stamping started_at on the first
// transition to active and completed_at on terminal transitions.
func (s *WorkflowStore) SetStatus(ctx context.Context, w *models.GroupWorkflow, status string) error {
	updates := map[string]interface{}{"status": status}
	now := time.Now()
	if status == models.WorkflowStatusActive && w.StartedAt == nil {
		updates["started_at"] = now
		w.StartedAt = &now
	}
	if status == models.WorkflowStatusCompleted || status == models.WorkflowStatusCancelled {
		updates["completed_at"] = now
		w.CompletedAt = &now
	}
	w.Status = status
	return s.db.WithContext(ctx).Model(w).Updates(updates).Error
}

// Execution operations

// CreateExecutions bulk-inserts pending executions, one per device. Used
// for the one-time fan-out when a workflow is first processed.
func (s *WorkflowStore) CreateExecutions(ctx context.Context, workflowID string, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return nil
	}
	execs := make([]models.WorkflowExecution, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		execs = append(execs, models.WorkflowExecution{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			DeviceID:   deviceID,
			Status:     models.ExecStatusPending,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(execs, 100).Error
}

// HasExecutions reports whether any execution was ever created for a
// workflow. Guards against double-initialization of the fan-out.
func (s *WorkflowStore) HasExecutions(ctx context.Context, workflowID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ?", workflowID).Count(&n).Error
	return n > 0, err
}

// ReadyExecutions returns up to limit pending executions whose retry time
// has arrived, oldest first.
func (s *WorkflowStore) ReadyExecutions(ctx context.Context, workflowID string, limit int) ([]models.WorkflowExecution, error) {
	var execs []models.WorkflowExecution
	q := s.db.WithContext(ctx).
		Where("workflow_id = ? AND status = ?", workflowID, models.ExecStatusPending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", time.Now()).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return execs, q.Find(&execs).Error
}

// CountInFlight returns the number of executions in queued or in_progress
// for a workflow. This is the concurrency-limit input.
func (s *WorkflowStore) CountInFlight(ctx context.Context, workflowID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND status IN ?", workflowID,
			[]string{models.ExecStatusQueued, models.ExecStatusInProgress}).
		Count(&n).Error
	return n, err
}

// CountStartedSince returns the number of executions started after the
// cutoff. This is the rate-limit input (trailing window).
func (s *WorkflowStore) CountStartedSince(ctx context.Context, workflowID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND started_at IS NOT NULL AND started_at >= ?", workflowID, since).
		Count(&n).Error
	return n, err
}

// CountByStatus returns per-status totals for a workflow.
func (s *WorkflowStore) CountByStatus(ctx context.Context, workflowID, status string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND status = ?", workflowID, status).
		Count(&n).Error
	return n, err
}

// CountAll returns the total number of executions for a workflow.
func (s *WorkflowStore) CountAll(ctx context.Context, workflowID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ?", workflowID).Count(&n).Error
	return n, err
}

// ClaimPending atomically moves a pending execution to queued. Of two
// competing scheduler passes only one sees a row flip; the other gets
// ErrTaskAlreadyClaimed. A claim abandoned before its task lands is
// returned to pending by the stale-queued sweep.
func (s *WorkflowStore) ClaimPending(ctx context.Context, e *models.WorkflowExecution) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("id = ? AND status = ?", e.ID, models.ExecStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ExecStatusQueued,
			"started_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrTaskAlreadyClaimed
	}
	e.Status = models.ExecStatusQueued
	e.StartedAt = &now
	return nil
}

// MarkQueued transitions an execution to queued with its task reference.
func (s *WorkflowStore) MarkQueued(ctx context.Context, e *models.WorkflowExecution, taskID string) error {
	now := time.Now()
	e.Status = models.ExecStatusQueued
	e.TaskID = &taskID
	e.StartedAt = &now
	return s.db.WithContext(ctx).Model(e).Updates(map[string]interface{}{
		"status":     models.ExecStatusQueued,
		"task_id":    taskID,
		"started_at": now,
	}).Error
}

// MarkInProgress transitions a queued execution once its task is dispatched
// to the device.
func (s *WorkflowStore) MarkInProgress(ctx context.Context, e *models.WorkflowExecution) error {
	e.Status = models.ExecStatusInProgress
	return s.db.WithContext(ctx).Model(e).
		Update("status", models.ExecStatusInProgress).Error
}

// MarkSkipped records that an execution's device no longer exists.
func (s *WorkflowStore) MarkSkipped(ctx context.Context, e *models.WorkflowExecution, reason string) error {
	e.Status = models.ExecStatusSkipped
	e.Result = reason
	return s.db.WithContext(ctx).Model(e).Updates(map[string]interface{}{
		"status": models.ExecStatusSkipped,
		"result": reason,
	}).Error
}

// MarkCompleted records a successful execution.
func (s *WorkflowStore) MarkCompleted(ctx context.Context, e *models.WorkflowExecution, result string) error {
	e.Status = models.ExecStatusCompleted
	e.Result = result
	return s.db.WithContext(ctx).Model(e).Updates(map[string]interface{}{
		"status": models.ExecStatusCompleted,
		"result": result,
	}).Error
}

// MarkFailed records a failed execution.
func (s *WorkflowStore) MarkFailed(ctx context.Context, e *models.WorkflowExecution, result string) error {
	e.Status = models.ExecStatusFailed
	e.Result = result
	return s.db.WithContext(ctx).Model(e).Updates(map[string]interface{}{
		"status": models.ExecStatusFailed,
		"result": result,
	}).Error
}

// ScheduleRetry moves a failed attempt back to pending with a retry time
// and an incremented attempt counter.
func (s *WorkflowStore) ScheduleRetry(ctx context.Context, e *models.WorkflowExecution, at time.Time, result string) error {
	e.Status = models.ExecStatusPending
	e.Attempt++
	e.NextRetryAt = &at
	e.TaskID = nil
	e.Result = result
	return s.db.WithContext(ctx).Model(e).Updates(map[string]interface{}{
		"status":        models.ExecStatusPending,
		"attempt":       e.Attempt,
		"next_retry_at": at,
		"task_id":       nil,
		"result":        result,
	}).Error
}

// ResetStaleQueued returns executions stuck in queued since before the
// cutoff to pending with their task reference cleared. Covers the crash
// window between task creation and device pickup.
func (s *WorkflowStore) ResetStaleQueued(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("status = ? AND updated_at < ?", models.ExecStatusQueued, cutoff).
		Updates(map[string]interface{}{
			"status":  models.ExecStatusPending,
			"task_id": nil,
		})
	return res.RowsAffected, res.Error
}

// ResetFailed returns failed executions of a workflow to pending with a
// zeroed attempt counter. This is the explicit admin re-trigger action.
func (s *WorkflowStore) ResetFailed(ctx context.Context, workflowID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND status = ?", workflowID, models.ExecStatusFailed).
		Updates(map[string]interface{}{
			"status":        models.ExecStatusPending,
			"attempt":       0,
			"next_retry_at": nil,
			"task_id":       nil,
			"result":        "",
		})
	return res.RowsAffected, res.Error
}

// RequeueFinished returns all terminal executions of a workflow to pending.
// Recurring workflows call this at each occurrence so the same device set
// runs again.
func (s *WorkflowStore) RequeueFinished(ctx context.Context, workflowID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND status IN ?", workflowID,
			[]string{models.ExecStatusCompleted, models.ExecStatusFailed, models.ExecStatusSkipped}).
		Updates(map[string]interface{}{
			"status":        models.ExecStatusPending,
			"attempt":       0,
			"next_retry_at": nil,
			"task_id":       nil,
			"result":        "",
		})
	return res.RowsAffected, res.Error
}

// CancelOpen transitions all pending and queued executions of a workflow to
// cancelled. In-flight tasks are left untouched.
func (s *WorkflowStore) CancelOpen(ctx context.Context, workflowID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND status IN ?", workflowID,
			[]string{models.ExecStatusPending, models.ExecStatusQueued}).
		Update("status", models.ExecStatusCancelled)
	return res.RowsAffected, res.Error
}

// HasCompletedFor reports whether a workflow has a completed execution for
// the device. This is the dependency-ordering check.
func (s *WorkflowStore) HasCompletedFor(ctx context.Context, workflowID, deviceID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND device_id = ? AND status = ?",
			workflowID, deviceID, models.ExecStatusCompleted).
		Count(&n).Error
	return n > 0, err
}

// FindByTaskID resolves the execution that owns a task, if any.
func (s *WorkflowStore) FindByTaskID(ctx context.Context, taskID string) (*models.WorkflowExecution, error) {
	var e models.WorkflowExecution
	err := s.db.WithContext(ctx).First(&e, "task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExecutions returns a page of executions for a workflow, oldest first.
func (s *WorkflowStore) ListExecutions(ctx context.Context, workflowID string, offset, limit int) ([]models.WorkflowExecution, error) {
	var execs []models.WorkflowExecution
	q := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return execs, q.Find(&execs).Error
}
