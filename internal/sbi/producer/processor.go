package producer

import (
	"github.com/nextranet/gateway/acs/internal/connreq"
	"github.com/nextranet/gateway/acs/internal/groups"
	"github.com/nextranet/gateway/acs/internal/store"
)

// Processor bundles the stores the API handlers read and write. All
// handlers hang off it so the router wires exactly one value.
type Processor struct {
	Devices   *store.DeviceStore
	Tasks     *store.TaskStore
	Sessions  *store.SessionStore
	Groups    *store.GroupStore
	Workflows *store.WorkflowStore
	Matcher   *groups.Matcher
	ConnReq   connreq.Dispatcher
}

func NewProcessor(devices *store.DeviceStore, tasks *store.TaskStore,
	sessions *store.SessionStore, groupStore *store.GroupStore,
	workflows *store.WorkflowStore, matcher *groups.Matcher,
	dispatcher connreq.Dispatcher) *Processor {
	return &Processor{
		Devices:   devices,
		Tasks:     tasks,
		Sessions:  sessions,
		Groups:    groupStore,
		Workflows: workflows,
		Matcher:   matcher,
		ConnReq:   dispatcher,
	}
}
