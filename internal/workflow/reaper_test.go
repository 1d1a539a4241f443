package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/database"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

type reaperEnv struct {
	db        *gorm.DB
	tasks     *store.TaskStore
	workflows *store.WorkflowStore
	reaper    *Reaper
}

func newReaperEnv(t *testing.T, cfg *config.Reaper) *reaperEnv {
	t.Helper()
	db, err := database.Open(&config.Database{Path: filepath.Join(t.TempDir(), "acs.db")})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	env := &reaperEnv{
		db:        db,
		tasks:     store.NewTaskStore(db),
		workflows: store.NewWorkflowStore(db),
	}
	if cfg == nil {
		cfg = &config.Reaper{SentTimeout: 2 * time.Minute, PendingMaxAge: 24 * time.Hour}
	}
	env.reaper = NewReaper(cfg, env.tasks, env.workflows)
	return env
}

// taskAged creates a task in the given status with its updated_at (and for
// pending sweeps, created_at) pushed into the past.
func (e *reaperEnv) taskAged(t *testing.T, taskType, status string, age time.Duration) *models.Task {
	t.Helper()
	task := &models.Task{DeviceID: "001122-SN0001", Type: taskType}
	require.NoError(t, e.tasks.Create(context.Background(), task))
	stamp := time.Now().Add(-age)
	require.NoError(t, e.db.Exec(
		"UPDATE tasks SET status = ?, updated_at = ?, created_at = ? WHERE id = ?",
		status, stamp, stamp, task.ID).Error)
	task.Status = status
	return task
}

func (e *reaperEnv) status(t *testing.T, id string) string {
	t.Helper()
	task, err := e.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	return task.Status
}

func TestReapSentHonorsPerTypeDeadlines(t *testing.T) {
	env := newReaperEnv(t, nil)

	youngDownload := env.taskAged(t, models.TaskDownload, models.TaskStatusSent, 19*time.Minute)
	oldDownload := env.taskAged(t, models.TaskDownload, models.TaskStatusSent, 21*time.Minute)
	youngReboot := env.taskAged(t, models.TaskReboot, models.TaskStatusSent, 4*time.Minute)
	oldReboot := env.taskAged(t, models.TaskReboot, models.TaskStatusSent, 6*time.Minute)
	oldDefault := env.taskAged(t, models.TaskGetParams, models.TaskStatusSent, 3*time.Minute)

	require.NoError(t, env.reaper.ReapSent(context.Background()))

	assert.Equal(t, models.TaskStatusSent, env.status(t, youngDownload.ID))
	assert.Equal(t, models.TaskStatusFailed, env.status(t, oldDownload.ID))
	assert.Equal(t, models.TaskStatusSent, env.status(t, youngReboot.ID))
	assert.Equal(t, models.TaskStatusFailed, env.status(t, oldReboot.ID))
	assert.Equal(t, models.TaskStatusFailed, env.status(t, oldDefault.ID))

	failed, err := env.tasks.Get(context.Background(), oldDownload.ID)
	require.NoError(t, err)
	assert.Contains(t, failed.Message, "no response")
}

func TestReapPendingSweepsStaleQueue(t *testing.T) {
	env := newReaperEnv(t, nil)

	fresh := env.taskAged(t, models.TaskGetParams, models.TaskStatusPending, time.Hour)
	stale := env.taskAged(t, models.TaskGetParams, models.TaskStatusPending, 25*time.Hour)

	require.NoError(t, env.reaper.ReapPending(context.Background()))

	assert.Equal(t, models.TaskStatusPending, env.status(t, fresh.ID))
	assert.Equal(t, models.TaskStatusFailed, env.status(t, stale.ID))

	failed, err := env.tasks.Get(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Contains(t, failed.Message, "did not inform")
}

func TestReapPropagatesToExecutionWithRetry(t *testing.T) {
	env := newReaperEnv(t, nil)

	wf := &models.GroupWorkflow{
		Name: "fw", GroupID: "g1", TaskType: models.TaskGetParams,
		Status: models.WorkflowStatusActive, RetryCount: 1, RetryDelayMinutes: 5,
	}
	require.NoError(t, env.workflows.Create(context.Background(), wf))
	require.NoError(t, env.workflows.CreateExecutions(context.Background(), wf.ID, []string{"001122-SN0001"}))
	execs, err := env.workflows.ListExecutions(context.Background(), wf.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	// First attempt times out; retry budget is left, so the execution
	// goes back to pending with a retry time.
	task := env.taskAged(t, models.TaskGetParams, models.TaskStatusSent, 3*time.Minute)
	require.NoError(t, env.workflows.MarkQueued(context.Background(), &execs[0], task.ID))
	require.NoError(t, env.reaper.ReapSent(context.Background()))

	retried, err := env.workflows.ListExecutions(context.Background(), wf.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, models.ExecStatusPending, retried[0].Status)
	assert.Equal(t, 1, retried[0].Attempt)
	assert.NotNil(t, retried[0].NextRetryAt)

	// Second attempt exhausts the budget and the execution fails.
	task2 := env.taskAged(t, models.TaskGetParams, models.TaskStatusSent, 3*time.Minute)
	require.NoError(t, env.workflows.MarkQueued(context.Background(), &retried[0], task2.ID))
	require.NoError(t, env.reaper.ReapSent(context.Background()))

	final, err := env.workflows.ListExecutions(context.Background(), wf.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, models.ExecStatusFailed, final[0].Status)
}

func TestDryRunLeavesTasksAlone(t *testing.T) {
	env := newReaperEnv(t, &config.Reaper{SentTimeout: 2 * time.Minute, PendingMaxAge: 24 * time.Hour, DryRun: true})

	sent := env.taskAged(t, models.TaskGetParams, models.TaskStatusSent, time.Hour)
	pending := env.taskAged(t, models.TaskGetParams, models.TaskStatusPending, 48*time.Hour)

	require.NoError(t, env.reaper.ReapSent(context.Background()))
	require.NoError(t, env.reaper.ReapPending(context.Background()))

	assert.Equal(t, models.TaskStatusSent, env.status(t, sent.ID))
	assert.Equal(t, models.TaskStatusPending, env.status(t, pending.ID))
}
