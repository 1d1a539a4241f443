package context

import (
	"sync"
	"time"
)

var (
	context *Context
	once    sync.Once
)

// Context holds runtime status shared between the session endpoint, the
// background jobs, and the health handler. Everything here is advisory;
// the database is the source of truth.
type Context struct {
	mutex sync.RWMutex

	// Configuration
	config interface{}

	status Status
}

// Status is a snapshot of what the background machinery did last.
type Status struct {
	DatabaseHealthy  bool       `json:"databaseHealthy"`
	LastInformAt     *time.Time `json:"lastInformAt,omitempty"`
	LastSchedulerRun *time.Time `json:"lastSchedulerRun,omitempty"`
	LastReaperRun    *time.Time `json:"lastReaperRun,omitempty"`
	SessionsHandled  uint64     `json:"sessionsHandled"`
	TasksDispatched  uint64     `json:"tasksDispatched"`
	LastError        string     `json:"lastError,omitempty"`
}

// GetContext returns the singleton context instance
func GetContext() *Context {
	once.Do(func() {
		context = &Context{}
	})
	return context
}

// GetStatus returns the current runtime status snapshot.
func (c *Context) GetStatus() Status {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.status
}

// SetDatabaseHealthy records the result of the last database ping.
func (c *Context) SetDatabaseHealthy(ok bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.status.DatabaseHealthy = ok
}

// NoteInform bumps the session counter and inform timestamp.
func (c *Context) NoteInform() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now()
	c.status.LastInformAt = &now
	c.status.SessionsHandled++
}

// NoteDispatch bumps the dispatched-task counter.
func (c *Context) NoteDispatch() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.status.TasksDispatched++
}

// NoteSchedulerRun stamps the last scheduler tick, recording its error
// if any.
func (c *Context) NoteSchedulerRun(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now()
	c.status.LastSchedulerRun = &now
	if err != nil {
		c.status.LastError = err.Error()
	}
}

// NoteReaperRun stamps the last reaper sweep, recording its error if any.
func (c *Context) NoteReaperRun(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now()
	c.status.LastReaperRun = &now
	if err != nil {
		c.status.LastError = err.Error()
	}
}

// SetConfig sets the application configuration
func (c *Context) SetConfig(config interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.config = config
}

// GetConfig returns the application configuration
func (c *Context) GetConfig() interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.config
}
