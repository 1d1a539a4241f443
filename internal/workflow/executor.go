package workflow

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/nextranet/gateway/acs/internal/connreq"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

// Executor materializes one workflow execution into a device task. The
// task then travels the normal queue: the device collects it on its next
// session and the session handler reports the outcome back onto the
// execution.
type Executor struct {
	tasks     *store.TaskStore
	workflows *store.WorkflowStore
	devices   *store.DeviceStore
	nudge     connreq.Dispatcher

	log *logrus.Entry
}

func NewExecutor(tasks *store.TaskStore, workflows *store.WorkflowStore,
	devices *store.DeviceStore, nudge connreq.Dispatcher) *Executor {
	return &Executor{
		tasks:     tasks,
		workflows: workflows,
		devices:   devices,
		nudge:     nudge,
		log:       logger.WorkflowLog,
	}
}

// ExecuteForDevice claims one execution, creates its task, and moves it
// to queued. The claim is atomic, so a second pass landing on the same
// execution is a no-op. Online devices additionally get a connection
// request so they pick the task up without waiting for their periodic
// inform.
func (e *Executor) ExecuteForDevice(ctx context.Context, wf *models.GroupWorkflow,
	exec *models.WorkflowExecution, device *models.Device) error {
	if err := e.workflows.ClaimPending(ctx, exec); err != nil {
		if errors.Is(err, models.ErrTaskAlreadyClaimed) {
			e.log.WithField("execution", exec.ID).Debug("execution already claimed")
			return nil
		}
		return err
	}

	task := &models.Task{
		DeviceID:   device.ID,
		Type:       wf.TaskType,
		Parameters: wf.Parameters,
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return err
	}
	if err := e.workflows.MarkQueued(ctx, exec, task.ID); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"workflow":  wf.ID,
		"execution": exec.ID,
		"device":    device.ID,
		"task":      task.ID,
	}).Info("execution queued")

	if e.nudge != nil && device.Online && device.ConnReqURL != "" {
		// Best effort and off the tick's critical path: the task waits
		// in the queue either way.
		target := *device
		go func() {
			if err := e.nudge.Dispatch(context.Background(), &target); err != nil {
				e.log.WithError(err).WithField("device", target.ID).Debug("connection request failed")
			}
		}()
	}
	return nil
}
