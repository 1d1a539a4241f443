// Package provision queues initial work for devices on first contact.
package provision

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/nextranet/gateway/acs/internal/cwmp"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

// Bootstrapper is the default provisioner: the first time a device ever
// informs, it queues a full parameter tree read so the device record has
// a populated cache before any operator looks at it. The same session
// usually drains the task.
type Bootstrapper struct {
	tasks *store.TaskStore
	log   *logrus.Entry
}

func NewBootstrapper(tasks *store.TaskStore) *Bootstrapper {
	return &Bootstrapper{tasks: tasks, log: logger.CwmpLog}
}

// OnInform runs on every inform but only acts on first contact; a known
// device already has its cache.
func (b *Bootstrapper) OnInform(ctx context.Context, device *models.Device, inform *cwmp.Inform, firstContact bool) error {
	if !firstContact {
		return nil
	}
	payload, err := json.Marshal(cwmp.GetParamsPayload{
		Names: []string{device.DataModelRoot + "."},
	})
	if err != nil {
		return err
	}
	task := &models.Task{
		DeviceID:   device.ID,
		Type:       models.TaskGetParams,
		Parameters: payload,
	}
	if err := b.tasks.Create(ctx, task); err != nil {
		return err
	}
	b.log.WithFields(logrus.Fields{
		"device": device.ID,
		"task":   task.ID,
	}).Info("queued bootstrap parameter read")
	return nil
}
