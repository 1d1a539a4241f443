package provision

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/cwmp"
	"github.com/nextranet/gateway/acs/internal/database"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

func TestBootstrapQueuesFullTreeRead(t *testing.T) {
	db, err := database.Open(&config.Database{Path: filepath.Join(t.TempDir(), "acs.db")})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	tasks := store.NewTaskStore(db)
	device := &models.Device{
		ID:            models.DeviceKey("001122", "SN0001"),
		OUI:           "001122",
		SerialNumber:  "SN0001",
		DataModelRoot: models.RootTR181,
	}

	b := NewBootstrapper(tasks)
	require.NoError(t, b.OnInform(context.Background(), device, &cwmp.Inform{}, true))

	queued, err := tasks.ListByDevice(context.Background(), device.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, models.TaskGetParams, queued[0].Type)
	assert.Equal(t, models.TaskStatusPending, queued[0].Status)
	assert.Contains(t, string(queued[0].Parameters), "Device.")

	// Subsequent informs from the same device queue nothing.
	require.NoError(t, b.OnInform(context.Background(), device, &cwmp.Inform{}, false))
	queued, err = tasks.ListByDevice(context.Background(), device.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}
