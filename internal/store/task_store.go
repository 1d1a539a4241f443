package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nextranet/gateway/acs/internal/database"
	"github.com/nextranet/gateway/acs/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskStore persists the per-device task queue.
type TaskStore struct {
	db *gorm.DB
}

// NewTaskStore creates a task store
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Create inserts a new pending task.
func (s *TaskStore) Create(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	return s.db.WithContext(ctx).Create(t).Error
}

// Get retrieves a task by ID.
func (s *TaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NextPending returns the oldest pending task for a device, or
// ErrTaskNotFound when the queue is empty.
func (s *TaskStore) NextPending(ctx context.Context, deviceID string) (*models.Task, error) {
	var t models.Task
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND status = ?", deviceID, models.TaskStatusPending).
		Order("created_at ASC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindInFlight returns the most-recently-updated sent task for a device
// whose type is in types. Correlation is by status+type+recency: this
// protocol variant carries no correlation ID, so the design assumes a
// single task in flight per device.
func (s *TaskStore) FindInFlight(ctx context.Context, deviceID string, types ...string) (*models.Task, error) {
	var t models.Task
	q := s.db.WithContext(ctx).
		Where("device_id = ? AND status = ?", deviceID, models.TaskStatusSent)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	err := q.Order("updated_at DESC").First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNoTaskInFlight
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ClaimNext atomically picks the device's oldest pending task and marks
// it sent. The transaction holds the pool's single connection, so two
// sessions racing on the same device cannot both claim; at most one
// non-diagnostic task is ever in flight per device. A diagnostic trigger
// awaiting its completion event does not block the claim. Returns
// ErrTaskAlreadyClaimed when something is already in flight and
// ErrTaskNotFound when the queue is empty.
func (s *TaskStore) ClaimNext(ctx context.Context, deviceID string) (*models.Task, error) {
	var claimed models.Task
	claim := func(db *gorm.DB) error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var inflight models.Task
			err := tx.Where("device_id = ? AND status = ?", deviceID, models.TaskStatusSent).
				Order("updated_at DESC").First(&inflight).Error
			if err == nil && !models.IsDiagnosticTrigger(inflight.Type) {
				return models.ErrTaskAlreadyClaimed
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			var t models.Task
			err = tx.Where("device_id = ? AND status = ?", deviceID, models.TaskStatusPending).
				Order("created_at ASC").First(&t).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrTaskNotFound
			}
			if err != nil {
				return err
			}

			now := time.Now()
			if err := tx.Model(&t).Updates(map[string]interface{}{
				"status":  models.TaskStatusSent,
				"sent_at": now,
			}).Error; err != nil {
				return err
			}
			t.Status = models.TaskStatusSent
			t.SentAt = &now
			claimed = t
			return nil
		})
	}
	if err := database.WithRetry(s.db, claim, 3, 50*time.Millisecond); err != nil {
		return nil, err
	}
	return &claimed, nil
}

// MarkSent transitions a pending task to sent.
func (s *TaskStore) MarkSent(ctx context.Context, t *models.Task) error {
	now := time.Now()
	t.Status = models.TaskStatusSent
	t.SentAt = &now
	return s.db.WithContext(ctx).Model(t).Updates(map[string]interface{}{
		"status":  models.TaskStatusSent,
		"sent_at": now,
	}).Error
}

// Complete transitions a task to completed with an optional result payload.
func (s *TaskStore) Complete(ctx context.Context, t *models.Task, result datatypes.JSON, message string) error {
	now := time.Now()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
	t.Result = result
	t.Message = message
	return s.db.WithContext(ctx).Model(t).Updates(map[string]interface{}{
		"status":       models.TaskStatusCompleted,
		"completed_at": now,
		"result":       result,
		"message":      message,
	}).Error
}

// Fail transitions a task to failed with a reason.
func (s *TaskStore) Fail(ctx context.Context, t *models.Task, message string) error {
	now := time.Now()
	t.Status = models.TaskStatusFailed
	t.CompletedAt = &now
	t.Message = message
	return s.db.WithContext(ctx).Model(t).Updates(map[string]interface{}{
		"status":       models.TaskStatusFailed,
		"completed_at": now,
		"message":      message,
	}).Error
}

// RetryReset moves a terminal task back to pending. This is the explicit
// admin retry action; no other code path may leave a terminal state.
func (s *TaskStore) RetryReset(ctx context.Context, t *models.Task) error {
	if !models.IsTerminalTaskStatus(t.Status) {
		return models.ErrTaskNotRetryable
	}
	t.Status = models.TaskStatusPending
	t.SentAt = nil
	t.CompletedAt = nil
	t.Message = ""
	return s.db.WithContext(ctx).Model(t).Updates(map[string]interface{}{
		"status":       models.TaskStatusPending,
		"sent_at":      nil,
		"completed_at": nil,
		"message":      "",
	}).Error
}

// ListByDevice returns a page of tasks for a device, newest first.
func (s *TaskStore) ListByDevice(ctx context.Context, deviceID string, offset, limit int) ([]models.Task, error) {
	var tasks []models.Task
	q := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return tasks, q.Find(&tasks).Error
}

// ListByStatus returns all tasks in the given status, oldest update first.
// Used by the reapers to sweep stuck work.
func (s *TaskStore) ListByStatus(ctx context.Context, status string) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListPendingOlderThan returns pending tasks created before the cutoff,
// meaning the device never started a session to claim them.
func (s *TaskStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TaskStatusPending, cutoff).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// CountByStatus returns the number of tasks in a status.
func (s *TaskStore) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ?", status).Count(&n).Error
	return n, err
}
