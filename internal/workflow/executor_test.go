package workflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextranet/gateway/acs/internal/models"
)

// slowDispatcher blocks the way an unreachable NAT'd device does while the
// connection request times out.
type slowDispatcher struct {
	calls   atomic.Int32
	release chan struct{}
}

func (d *slowDispatcher) Dispatch(ctx context.Context, device *models.Device) error {
	d.calls.Add(1)
	<-d.release
	return nil
}

func TestExecuteForDeviceDoesNotWaitOnConnectionRequest(t *testing.T) {
	env := newSchedEnv(t, nil)
	nudge := &slowDispatcher{release: make(chan struct{})}
	t.Cleanup(func() { close(nudge.release) })
	executor := NewExecutor(env.tasks, env.workflows, env.devices, nudge)

	wf := env.createWorkflow(t, nil)
	require.NoError(t, env.workflows.CreateExecutions(context.Background(), wf.ID, []string{"001122-SN0001"}))
	execs, err := env.workflows.ListExecutions(context.Background(), wf.ID, 0, 10)
	require.NoError(t, err)
	device, err := env.devices.Get(context.Background(), "001122-SN0001")
	require.NoError(t, err)
	device.ConnReqURL = "http://192.0.2.10:7547/cr"

	done := make(chan error, 1)
	go func() { done <- executor.ExecuteForDevice(context.Background(), wf, &execs[0], device) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteForDevice blocked on the connection request")
	}

	// The execution is queued and its task created even though the
	// nudge never returned.
	assert.Equal(t, models.ExecStatusQueued, execs[0].Status)
	tasks, err := env.tasks.ListByDevice(context.Background(), device.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	assert.Eventually(t, func() bool { return nudge.calls.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}
