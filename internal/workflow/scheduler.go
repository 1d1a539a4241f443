package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/groups"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

const (
	defaultBudget      = 50
	defaultQueuedStale = 5 * time.Minute
	rateWindow         = time.Minute
)

// Scheduler is the workflow control loop. Each tick it recovers stale
// queued executions, walks every active workflow, and dispatches ready
// executions under a global budget plus per-workflow rate and
// concurrency limits.
type Scheduler struct {
	cfg       *config.Scheduler
	workflows *store.WorkflowStore
	devices   *store.DeviceStore
	matcher   *groups.Matcher
	executor  *Executor

	runMu   sync.Mutex
	mu      sync.Mutex
	lastRun map[string]time.Time

	log *logrus.Entry
}

func NewScheduler(cfg *config.Scheduler, workflows *store.WorkflowStore,
	devices *store.DeviceStore, matcher *groups.Matcher, executor *Executor) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		workflows: workflows,
		devices:   devices,
		matcher:   matcher,
		executor:  executor,
		lastRun:   make(map[string]time.Time),
		log:       logger.SchedulerLog,
	}
}

// Tick runs one scheduling pass. It is safe to call from a cron job or
// as a one-shot; the loop holds no state beyond recurrence bookmarks.
// A pass that finds the previous one still running returns immediately,
// so overlapping timers never double-dispatch.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.runMu.TryLock() {
		s.log.Debug("previous pass still running, skipping tick")
		return nil
	}
	defer s.runMu.Unlock()

	now := time.Now()

	stale := s.cfg.QueuedStaleAfter
	if stale <= 0 {
		stale = defaultQueuedStale
	}
	if s.cfg.DryRun {
		s.log.Info("dry run: skipping stale-queued recovery")
	} else if n, err := s.workflows.ResetStaleQueued(ctx, now.Add(-stale)); err != nil {
		s.log.WithError(err).Error("stale-queued recovery failed")
	} else if n > 0 {
		s.log.WithField("count", n).Warn("recovered stale queued executions")
	}

	budget := s.cfg.Limit
	if budget <= 0 {
		budget = defaultBudget
	}

	wfs, err := s.workflows.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range wfs {
		if budget <= 0 {
			s.log.Debug("global budget exhausted")
			break
		}
		used, err := s.processWorkflow(ctx, &wfs[i], now, budget)
		if err != nil {
			s.log.WithError(err).WithField("workflow", wfs[i].ID).Error("workflow pass failed")
			continue
		}
		budget -= used
	}
	return nil
}

// processWorkflow runs one workflow's share of the tick and returns how
// much of the global budget it consumed.
func (s *Scheduler) processWorkflow(ctx context.Context, wf *models.GroupWorkflow,
	now time.Time, budget int) (int, error) {
	due, occurrence := s.isDue(wf, now)
	if !due {
		return 0, nil
	}

	if err := s.fanOut(ctx, wf, occurrence); err != nil {
		return 0, err
	}
	if stopped, err := s.checkFailureStop(ctx, wf); err != nil || stopped {
		return 0, err
	}

	batch := budget
	if wf.RateLimit > 0 {
		started, err := s.workflows.CountStartedSince(ctx, wf.ID, now.Add(-rateWindow))
		if err != nil {
			return 0, err
		}
		if avail := wf.RateLimit - int(started); avail < batch {
			batch = avail
		}
	}
	if wf.MaxConcurrent > 0 {
		inflight, err := s.workflows.CountInFlight(ctx, wf.ID)
		if err != nil {
			return 0, err
		}
		if avail := wf.MaxConcurrent - int(inflight); avail < batch {
			batch = avail
		}
	}
	if batch <= 0 {
		return 0, nil
	}

	execs, err := s.workflows.ReadyExecutions(ctx, wf.ID, batch)
	if err != nil {
		return 0, err
	}

	used := 0
	for i := range execs {
		dispatched, err := s.dispatch(ctx, wf, &execs[i])
		if err != nil {
			s.log.WithError(err).WithField("execution", execs[i].ID).Error("dispatch failed")
			continue
		}
		if dispatched {
			used++
		}
	}

	if err := s.maybeComplete(ctx, wf); err != nil {
		s.log.WithError(err).WithField("workflow", wf.ID).Error("completion check failed")
	}
	return used, nil
}

// dispatch runs the per-execution gates and hands ready work to the
// executor. Gated executions stay pending without consuming budget.
func (s *Scheduler) dispatch(ctx context.Context, wf *models.GroupWorkflow,
	exec *models.WorkflowExecution) (bool, error) {
	device, err := s.devices.Get(ctx, exec.DeviceID)
	if err != nil {
		if models.IsNotFound(err) {
			return false, s.workflows.MarkSkipped(ctx, exec, "device no longer exists")
		}
		return false, err
	}

	// Offline devices are never nudged; immediate and on_connect
	// executions wait as pending until the device shows up.
	if !device.Online &&
		(wf.ScheduleType == models.ScheduleImmediate || wf.ScheduleType == models.ScheduleOnConnect) {
		return false, nil
	}

	if wf.DependsOnWorkflowID != nil {
		done, err := s.workflows.HasCompletedFor(ctx, *wf.DependsOnWorkflowID, device.ID)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}

	if s.cfg.DryRun {
		s.log.WithFields(logrus.Fields{
			"workflow": wf.ID,
			"device":   device.ID,
			"type":     wf.TaskType,
		}).Info("dry run: would dispatch")
		return false, nil
	}
	return true, s.executor.ExecuteForDevice(ctx, wf, exec, device)
}

// fanOut creates the execution set. It happens once per workflow; a new
// recurring occurrence instead requeues the finished executions.
func (s *Scheduler) fanOut(ctx context.Context, wf *models.GroupWorkflow, occurrence bool) error {
	exists, err := s.workflows.HasExecutions(ctx, wf.ID)
	if err != nil {
		return err
	}
	if exists {
		if occurrence && !s.cfg.DryRun {
			n, err := s.workflows.RequeueFinished(ctx, wf.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				s.log.WithFields(logrus.Fields{
					"workflow": wf.ID,
					"count":    n,
				}).Info("recurrence requeued executions")
			}
		}
		return nil
	}

	ids, err := s.matcher.DeviceIDs(ctx, wf.GroupID)
	if err != nil {
		return err
	}
	if s.cfg.DryRun {
		s.log.WithFields(logrus.Fields{
			"workflow": wf.ID,
			"devices":  len(ids),
		}).Info("dry run: would fan out")
		return nil
	}
	if err := s.workflows.CreateExecutions(ctx, wf.ID, ids); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"workflow": wf.ID,
		"devices":  len(ids),
	}).Info("workflow fanned out")
	return nil
}

// isDue decides whether a workflow may run now. The second return is true
// when a recurring workflow just crossed a cron occurrence.
func (s *Scheduler) isDue(wf *models.GroupWorkflow, now time.Time) (bool, bool) {
	switch wf.ScheduleType {
	case models.ScheduleImmediate, models.ScheduleOnConnect:
		return true, false

	case models.ScheduleScheduled:
		return wf.ScheduledAt != nil && !now.Before(*wf.ScheduledAt), false

	case models.ScheduleRecurring:
		sched, err := cron.ParseStandard(wf.Recurrence)
		if err != nil {
			s.log.WithError(err).WithField("workflow", wf.ID).Error("bad recurrence expression")
			return false, false
		}
		s.mu.Lock()
		last, ok := s.lastRun[wf.ID]
		s.mu.Unlock()
		if !ok {
			last = wf.CreatedAt
		}
		if !sched.Next(last).After(now) {
			s.mu.Lock()
			s.lastRun[wf.ID] = now
			s.mu.Unlock()
			return true, ok
		}
		// Between occurrences the workflow still drains whatever is
		// pending from the last one.
		return ok, false
	}
	return false, false
}

// checkFailureStop pauses a workflow whose failure ratio crossed its
// stop threshold.
func (s *Scheduler) checkFailureStop(ctx context.Context, wf *models.GroupWorkflow) (bool, error) {
	if wf.StopOnFailurePercent <= 0 {
		return false, nil
	}
	total, err := s.workflows.CountAll(ctx, wf.ID)
	if err != nil || total == 0 {
		return false, err
	}
	failed, err := s.workflows.CountByStatus(ctx, wf.ID, models.ExecStatusFailed)
	if err != nil {
		return false, err
	}
	if int(failed*100/total) < wf.StopOnFailurePercent {
		return false, nil
	}
	if s.cfg.DryRun {
		s.log.WithField("workflow", wf.ID).Warn("dry run: failure threshold crossed")
		return true, nil
	}
	s.log.WithFields(logrus.Fields{
		"workflow": wf.ID,
		"failed":   failed,
		"total":    total,
	}).Warn("failure threshold crossed, pausing workflow")
	return true, s.workflows.SetStatus(ctx, wf, models.WorkflowStatusPaused)
}

// maybeComplete finishes a non-recurring workflow once every execution is
// terminal.
func (s *Scheduler) maybeComplete(ctx context.Context, wf *models.GroupWorkflow) error {
	if wf.ScheduleType == models.ScheduleRecurring || wf.ScheduleType == models.ScheduleOnConnect {
		return nil
	}
	total, err := s.workflows.CountAll(ctx, wf.ID)
	if err != nil || total == 0 {
		return err
	}
	open := int64(0)
	for _, status := range []string{models.ExecStatusPending, models.ExecStatusQueued, models.ExecStatusInProgress} {
		n, err := s.workflows.CountByStatus(ctx, wf.ID, status)
		if err != nil {
			return err
		}
		open += n
	}
	if open > 0 || s.cfg.DryRun {
		return nil
	}
	s.log.WithField("workflow", wf.ID).Info("workflow completed")
	return s.workflows.SetStatus(ctx, wf, models.WorkflowStatusCompleted)
}
