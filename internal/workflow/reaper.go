package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

const defaultSentTimeout = 2 * time.Minute

// sentDeadlines gives slow task types more room than the default before
// the in-flight sweep declares them dead.
var sentDeadlines = map[string]time.Duration{
	models.TaskDownload:     20 * time.Minute,
	models.TaskUpload:       10 * time.Minute,
	models.TaskReboot:       5 * time.Minute,
	models.TaskFactoryReset: 5 * time.Minute,
	models.TaskAddObject:    3 * time.Minute,
	models.TaskDeleteObject: 3 * time.Minute,
}

// Reaper fails tasks the device will never answer: sent tasks whose
// response never arrived, and pending tasks the device never collected.
// Without it a dead session would block a device's queue forever, since
// the dispatcher refuses to send past an in-flight task.
type Reaper struct {
	cfg       *config.Reaper
	tasks     *store.TaskStore
	workflows *store.WorkflowStore

	log *logrus.Entry
}

func NewReaper(cfg *config.Reaper, tasks *store.TaskStore, workflows *store.WorkflowStore) *Reaper {
	return &Reaper{
		cfg:       cfg,
		tasks:     tasks,
		workflows: workflows,
		log:       logger.ReaperLog,
	}
}

// ReapSent sweeps sent tasks whose type-specific deadline has passed
// since the last update.
func (r *Reaper) ReapSent(ctx context.Context) error {
	now := time.Now()
	tasks, err := r.tasks.ListByStatus(ctx, models.TaskStatusSent)
	if err != nil {
		return err
	}

	reaped := 0
	for i := range tasks {
		t := &tasks[i]
		deadline, ok := sentDeadlines[t.Type]
		if !ok {
			deadline = r.cfg.SentTimeout
			if deadline <= 0 {
				deadline = defaultSentTimeout
			}
		}
		elapsed := now.Sub(t.UpdatedAt)
		if elapsed < deadline {
			continue
		}

		msg := fmt.Sprintf("no response after %d minutes", int(elapsed.Minutes()))
		if r.cfg.DryRun {
			r.log.WithFields(logrus.Fields{
				"task":   t.ID,
				"device": t.DeviceID,
				"type":   t.Type,
			}).Info("dry run: would fail sent task")
			continue
		}
		if err := r.failTask(ctx, t, msg); err != nil {
			r.log.WithError(err).WithField("task", t.ID).Error("sent-task reap failed")
			continue
		}
		reaped++
	}
	if reaped > 0 {
		r.log.WithField("count", reaped).Warn("reaped unanswered sent tasks")
	}
	return nil
}

// ReapPending sweeps pending tasks older than the pending age limit. The
// device has not informed since the task was created; leaving the task
// around would fire it at some arbitrarily later session.
func (r *Reaper) ReapPending(ctx context.Context) error {
	maxAge := r.cfg.PendingMaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	tasks, err := r.tasks.ListPendingOlderThan(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return err
	}

	reaped := 0
	for i := range tasks {
		t := &tasks[i]
		if r.cfg.DryRun {
			r.log.WithFields(logrus.Fields{
				"task":   t.ID,
				"device": t.DeviceID,
				"type":   t.Type,
			}).Info("dry run: would fail pending task")
			continue
		}
		if err := r.failTask(ctx, t, "device did not inform before the task expired"); err != nil {
			r.log.WithError(err).WithField("task", t.ID).Error("pending-task reap failed")
			continue
		}
		reaped++
	}
	if reaped > 0 {
		r.log.WithField("count", reaped).Warn("reaped uncollected pending tasks")
	}
	return nil
}

// failTask fails the task and propagates the failure to its workflow
// execution with the same retry rules the session handler applies.
func (r *Reaper) failTask(ctx context.Context, t *models.Task, msg string) error {
	if err := r.tasks.Fail(ctx, t, msg); err != nil {
		return err
	}
	exec, err := r.workflows.FindByTaskID(ctx, t.ID)
	if err != nil {
		if errors.Is(err, models.ErrExecutionNotFound) {
			return nil
		}
		return err
	}
	wf, err := r.workflows.Get(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	if exec.Attempt < wf.RetryCount {
		at := time.Now().Add(time.Duration(wf.RetryDelayMinutes) * time.Minute)
		return r.workflows.ScheduleRetry(ctx, exec, at, msg)
	}
	return r.workflows.MarkFailed(ctx, exec, msg)
}
