package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/database"
	"github.com/nextranet/gateway/acs/internal/models"
)

const taskDeviceID = "001122-SN0001"

func newTaskStore(t *testing.T) (*TaskStore, *gorm.DB) {
	t.Helper()
	db, err := database.Open(&config.Database{Path: filepath.Join(t.TempDir(), "acs.db")})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return NewTaskStore(db), db
}

func TestCreateDefaultsToPending(t *testing.T) {
	s, _ := newTaskStore(t)

	task := &models.Task{DeviceID: taskDeviceID, Type: models.TaskReboot}
	require.NoError(t, s.Create(context.Background(), task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	got, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskReboot, got.Type)
}

func TestGetUnknownTask(t *testing.T) {
	s, _ := newTaskStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestNextPendingIsOldestFirst(t *testing.T) {
	s, db := newTaskStore(t)

	older := &models.Task{DeviceID: taskDeviceID, Type: models.TaskGetParams}
	newer := &models.Task{DeviceID: taskDeviceID, Type: models.TaskReboot}
	require.NoError(t, s.Create(context.Background(), older))
	require.NoError(t, s.Create(context.Background(), newer))
	require.NoError(t, db.Exec("UPDATE tasks SET created_at = ? WHERE id = ?",
		time.Now().Add(-time.Hour), older.ID).Error)

	next, err := s.NextPending(context.Background(), taskDeviceID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, next.ID)

	require.NoError(t, s.MarkSent(context.Background(), next))
	next, err = s.NextPending(context.Background(), taskDeviceID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, next.ID)
}

func TestNextPendingEmptyQueue(t *testing.T) {
	s, _ := newTaskStore(t)

	_, err := s.NextPending(context.Background(), taskDeviceID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestClaimNextTakesOldestPending(t *testing.T) {
	s, db := newTaskStore(t)

	older := &models.Task{DeviceID: taskDeviceID, Type: models.TaskGetParams}
	newer := &models.Task{DeviceID: taskDeviceID, Type: models.TaskReboot}
	require.NoError(t, s.Create(context.Background(), older))
	require.NoError(t, s.Create(context.Background(), newer))
	require.NoError(t, db.Exec("UPDATE tasks SET created_at = ? WHERE id = ?",
		time.Now().Add(-time.Hour), older.ID).Error)

	claimed, err := s.ClaimNext(context.Background(), taskDeviceID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, models.TaskStatusSent, claimed.Status)
	assert.NotNil(t, claimed.SentAt)

	// With a task in flight the queue is blocked.
	_, err = s.ClaimNext(context.Background(), taskDeviceID)
	assert.ErrorIs(t, err, models.ErrTaskAlreadyClaimed)

	require.NoError(t, s.Complete(context.Background(), claimed, nil, ""))
	claimed, err = s.ClaimNext(context.Background(), taskDeviceID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, claimed.ID)

	_, err = s.ClaimNext(context.Background(), "001122-SN0099")
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestClaimNextIgnoresArmedDiagnosticTrigger(t *testing.T) {
	s, _ := newTaskStore(t)

	trigger := &models.Task{DeviceID: taskDeviceID, Type: models.TaskPingDiagnostics}
	fetch := &models.Task{DeviceID: taskDeviceID, Type: models.TaskGetDiagnosticResults}
	require.NoError(t, s.Create(context.Background(), trigger))
	require.NoError(t, s.MarkSent(context.Background(), trigger))
	require.NoError(t, s.Create(context.Background(), fetch))

	// The armed trigger sits in sent until the device reports back; the
	// result fetch must still get through.
	claimed, err := s.ClaimNext(context.Background(), taskDeviceID)
	require.NoError(t, err)
	assert.Equal(t, fetch.ID, claimed.ID)
}

func TestConcurrentClaimsYieldOneSentTask(t *testing.T) {
	s, db := newTaskStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(context.Background(), &models.Task{
			DeviceID: taskDeviceID, Type: models.TaskGetParams,
		}))
	}

	var g errgroup.Group
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := s.ClaimNext(context.Background(), taskDeviceID)
			if err == nil {
				wins.Add(1)
				return nil
			}
			if errors.Is(err, models.ErrTaskAlreadyClaimed) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, wins.Load())
	var sent int64
	require.NoError(t, db.Model(&models.Task{}).
		Where("device_id = ? AND status = ?", taskDeviceID, models.TaskStatusSent).
		Count(&sent).Error)
	assert.EqualValues(t, 1, sent)
}

func TestFindInFlightFiltersByTypeAndRecency(t *testing.T) {
	s, db := newTaskStore(t)

	first := &models.Task{DeviceID: taskDeviceID, Type: models.TaskPingDiagnostics}
	second := &models.Task{DeviceID: taskDeviceID, Type: models.TaskSetParams}
	require.NoError(t, s.Create(context.Background(), first))
	require.NoError(t, s.Create(context.Background(), second))
	require.NoError(t, s.MarkSent(context.Background(), first))
	require.NoError(t, s.MarkSent(context.Background(), second))
	require.NoError(t, db.Exec("UPDATE tasks SET updated_at = ? WHERE id = ?",
		time.Now().Add(-time.Minute), first.ID).Error)

	// Most recent wins when both types qualify.
	got, err := s.FindInFlight(context.Background(), taskDeviceID,
		models.TaskPingDiagnostics, models.TaskSetParams)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	// A type filter narrows it down to the older one.
	got, err = s.FindInFlight(context.Background(), taskDeviceID, models.TaskPingDiagnostics)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	// No filter means any sent task.
	got, err = s.FindInFlight(context.Background(), taskDeviceID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = s.FindInFlight(context.Background(), taskDeviceID, models.TaskReboot)
	assert.ErrorIs(t, err, models.ErrNoTaskInFlight)
}

func TestLifecycleTransitions(t *testing.T) {
	s, _ := newTaskStore(t)

	task := &models.Task{DeviceID: taskDeviceID, Type: models.TaskGetParams}
	require.NoError(t, s.Create(context.Background(), task))
	require.NoError(t, s.MarkSent(context.Background(), task))
	assert.NotNil(t, task.SentAt)

	require.NoError(t, s.Complete(context.Background(), task, []byte(`{"ok":true}`), "done"))

	got, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.Equal(t, "done", got.Message)
}

func TestRetryResetRequiresTerminalStatus(t *testing.T) {
	s, _ := newTaskStore(t)

	task := &models.Task{DeviceID: taskDeviceID, Type: models.TaskReboot}
	require.NoError(t, s.Create(context.Background(), task))

	assert.ErrorIs(t, s.RetryReset(context.Background(), task), models.ErrTaskNotRetryable)

	require.NoError(t, s.MarkSent(context.Background(), task))
	assert.ErrorIs(t, s.RetryReset(context.Background(), task), models.ErrTaskNotRetryable)

	require.NoError(t, s.Fail(context.Background(), task, "timed out"))
	require.NoError(t, s.RetryReset(context.Background(), task))

	got, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Nil(t, got.SentAt)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Message)
}

func TestListPendingOlderThan(t *testing.T) {
	s, db := newTaskStore(t)

	stale := &models.Task{DeviceID: taskDeviceID, Type: models.TaskGetParams}
	fresh := &models.Task{DeviceID: taskDeviceID, Type: models.TaskGetParams}
	require.NoError(t, s.Create(context.Background(), stale))
	require.NoError(t, s.Create(context.Background(), fresh))
	require.NoError(t, db.Exec("UPDATE tasks SET created_at = ? WHERE id = ?",
		time.Now().Add(-25*time.Hour), stale.ID).Error)

	old, err := s.ListPendingOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, stale.ID, old[0].ID)
}
