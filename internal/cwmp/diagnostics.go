package cwmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

// Collector turns 8 DIAGNOSTICS COMPLETE events into follow-up
// get_diagnostic_results tasks and copies fetched results back onto the
// diagnostic task that triggered them.
type Collector struct {
	tasks *store.TaskStore
	log   *logrus.Entry
}

func NewCollector(tasks *store.TaskStore) *Collector {
	return &Collector{tasks: tasks, log: logger.DiagLog}
}

// OnDiagnosticsComplete reacts to the completion event carried by an
// Inform. It finds the diagnostic trigger task still in sent state and
// enqueues a result fetch for it. No in-flight trigger is not an error;
// the event may belong to a diagnostic started outside this system.
func (c *Collector) OnDiagnosticsComplete(ctx context.Context, device *models.Device) error {
	trigger, err := c.tasks.FindInFlight(ctx, device.ID,
		models.TaskPingDiagnostics, models.TaskTracerouteDiagnostics)
	if err != nil {
		if errors.Is(err, models.ErrNoTaskInFlight) {
			c.log.WithField("device", device.ID).Debug("diagnostics complete event with no trigger task")
			return nil
		}
		return err
	}

	var names []string
	switch trigger.Type {
	case models.TaskPingDiagnostics:
		names = PingResultNames(device.DataModelRoot)
	case models.TaskTracerouteDiagnostics:
		names = TracerouteResultNames(device.DataModelRoot)
	}

	payload, err := json.Marshal(ResultsPayload{
		Names:            names,
		DiagnosticTaskID: trigger.ID,
		DiagnosticType:   trigger.Type,
	})
	if err != nil {
		return fmt.Errorf("marshal results payload: %w", err)
	}

	fetch := &models.Task{
		DeviceID:   device.ID,
		Type:       models.TaskGetDiagnosticResults,
		Parameters: payload,
	}
	if err := c.tasks.Create(ctx, fetch); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"device":  device.ID,
		"trigger": trigger.ID,
		"fetch":   fetch.ID,
	}).Info("queued diagnostic result fetch")
	return nil
}

// OnResults handles a completed get_diagnostic_results fetch: the fetched
// parameter values are stored as the result of the original diagnostic
// task, which then completes. The fetch task's own completion is handled
// by the session handler like any other task.
func (c *Collector) OnResults(ctx context.Context, fetch *models.Task, params map[string]ParamValue) error {
	var payload ResultsPayload
	if err := json.Unmarshal(fetch.Parameters, &payload); err != nil {
		return fmt.Errorf("fetch task %s: %w: %v", fetch.ID, models.ErrBadTaskPayload, err)
	}
	if payload.DiagnosticTaskID == "" {
		return fmt.Errorf("fetch task %s: %w: no diagnostic_task_id", fetch.ID, models.ErrBadTaskPayload)
	}

	trigger, err := c.tasks.Get(ctx, payload.DiagnosticTaskID)
	if err != nil {
		return err
	}

	result, err := json.Marshal(flattenParams(params))
	if err != nil {
		return fmt.Errorf("marshal diagnostic result: %w", err)
	}
	if err := c.tasks.Complete(ctx, trigger, result, "diagnostic results collected"); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"device":  fetch.DeviceID,
		"trigger": trigger.ID,
		"params":  len(params),
	}).Info("diagnostic results stored")
	return nil
}

func flattenParams(params map[string]ParamValue) map[string]string {
	out := make(map[string]string, len(params))
	for name, p := range params {
		out[name] = p.Value
	}
	return out
}
