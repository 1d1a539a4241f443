package cwmp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nextranet/gateway/acs/config"
	appContext "github.com/nextranet/gateway/acs/internal/context"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
	"github.com/nextranet/gateway/acs/internal/store"
)

const contentTypeXML = `text/xml; charset="utf-8"`

// Provisioner sees every inform, with firstContact marking a device the
// ACS has never met. Tasks it queues drain in the same session.
type Provisioner interface {
	OnInform(ctx context.Context, device *models.Device, inform *Inform, firstContact bool) error
}

// Handler is the device-facing session endpoint. A session is one HTTP
// connection: Inform, then the device posts empty bodies to collect
// queued RPCs one at a time, then a 204 closes it.
type Handler struct {
	cfg       *config.CWMP
	codec     Codec
	devices   *store.DeviceStore
	tasks     *store.TaskStore
	sessions  *store.SessionStore
	workflows *store.WorkflowStore
	collector *Collector
	provision Provisioner

	log *logrus.Entry
}

func NewHandler(cfg *config.CWMP, codec Codec, devices *store.DeviceStore,
	tasks *store.TaskStore, sessions *store.SessionStore,
	workflows *store.WorkflowStore, collector *Collector, provision Provisioner) *Handler {
	return &Handler{
		cfg:       cfg,
		codec:     codec,
		devices:   devices,
		tasks:     tasks,
		sessions:  sessions,
		workflows: workflows,
		collector: collector,
		provision: provision,
		log:       logger.SessionLog,
	}
}

// Handle is the single CWMP endpoint. All device traffic, regardless of
// message kind, arrives here as POST.
func (h *Handler) Handle(c *gin.Context) {
	body, err := c.GetRawData()

	// A 500 tells the device to retry the session later; a panic mid
	// session must never tear the server down.
	defer func() {
		if r := recover(); r != nil {
			h.log.WithFields(logrus.Fields{
				"panic": r,
				"ip":    c.ClientIP(),
				"body":  truncate(string(body), 2048),
			}).Error("session handler panic")
			c.String(http.StatusInternalServerError, "internal error")
		}
	}()

	if err != nil {
		h.log.WithError(err).Warn("failed to read request body")
		c.Status(http.StatusBadRequest)
		return
	}
	if !h.authorized(c) {
		c.Header("WWW-Authenticate", `Basic realm="acs"`)
		c.Status(http.StatusUnauthorized)
		return
	}

	ctx := c.Request.Context()
	switch Classify(body) {
	case KindEmpty:
		h.handleEmpty(ctx, c)
	case KindInform:
		h.handleInform(ctx, c, body)
	case KindResponse:
		h.handleResponse(ctx, c, body)
	}
}

func (h *Handler) authorized(c *gin.Context) bool {
	if h.cfg.Username == "" {
		return true
	}
	user, pass, ok := c.Request.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.cfg.Password)) == 1
	return userOK && passOK
}

func (h *Handler) handleInform(ctx context.Context, c *gin.Context, body []byte) {
	inform, err := h.codec.ParseInform(body)
	if err != nil {
		h.log.WithError(err).WithField("ip", c.ClientIP()).Warn("rejecting unparseable envelope")
		c.Status(http.StatusBadRequest)
		return
	}

	device := &models.Device{
		ID:            models.DeviceKey(inform.OUI, inform.SerialNumber),
		Manufacturer:  inform.Manufacturer,
		OUI:           inform.OUI,
		ProductClass:  inform.ProductClass,
		SerialNumber:  inform.SerialNumber,
		IPAddress:     c.ClientIP(),
		Online:        true,
		LastInform:    time.Now(),
		DataModelRoot: rootFromParams(inform.Parameters),
	}
	applyInformParams(device, inform.Parameters)

	created, err := h.devices.Upsert(ctx, device)
	if err != nil {
		h.fail(c, err, "device upsert")
		return
	}

	if len(inform.Parameters) > 0 {
		params := make([]models.DeviceParameter, 0, len(inform.Parameters))
		for name, p := range inform.Parameters {
			params = append(params, models.DeviceParameter{
				DeviceID: device.ID,
				Name:     name,
				Value:    p.Value,
				Type:     p.Type,
			})
		}
		if err := h.devices.SaveParameters(ctx, device.ID, params); err != nil {
			h.fail(c, err, "save inform parameters")
			return
		}
	}
	if device.ProductClass != "" {
		if err := h.devices.EnsureDeviceType(ctx, device.ProductClass, device.Manufacturer); err != nil {
			h.log.WithError(err).Warn("device type registration failed")
		}
	}
	if _, err := h.sessions.Create(ctx, device.ID, inform.Events, 1); err != nil {
		h.log.WithError(err).Warn("session record failed")
	}

	if inform.HasEvent(models.EventDiagnosticsComplete) {
		if err := h.collector.OnDiagnosticsComplete(ctx, device); err != nil {
			h.log.WithError(err).WithField("device", device.ID).Error("diagnostic collection failed")
		}
	}
	if h.provision != nil {
		if err := h.provision.OnInform(ctx, device, inform, created); err != nil {
			h.log.WithError(err).WithField("device", device.ID).Error("auto provisioning failed")
		}
	}

	appContext.GetContext().NoteInform()
	h.log.WithFields(logrus.Fields{
		"device": device.ID,
		"events": inform.Events,
		"new":    created,
	}).Info("inform processed")

	// The InformResponse never carries an RPC; the device asks for work
	// with its next empty POST.
	envelope, err := h.codec.BuildInformResponse(inform.MaxEnvelopes)
	if err != nil {
		h.fail(c, err, "build inform response")
		return
	}
	h.writeEnvelope(c, envelope)
}

func (h *Handler) handleEmpty(ctx context.Context, c *gin.Context) {
	device, err := h.resolveByIP(ctx, c)
	if err != nil {
		h.log.WithField("ip", c.ClientIP()).Warn("empty post from unresolvable source")
		c.Status(http.StatusNoContent)
		return
	}
	h.dispatchNext(ctx, c, device)
}

func (h *Handler) handleResponse(ctx context.Context, c *gin.Context, body []byte) {
	device, err := h.resolveByIP(ctx, c)
	if err != nil {
		h.log.WithField("ip", c.ClientIP()).Warn("response from unresolvable source")
		c.Status(http.StatusNoContent)
		return
	}

	resp, err := h.codec.ParseResponse(body)
	if err != nil {
		h.log.WithError(err).WithField("device", device.ID).Warn("rejecting unparseable response")
		c.Status(http.StatusBadRequest)
		return
	}

	if resp.Method == MethodFault {
		h.handleFault(ctx, c, device, resp)
		return
	}

	task, err := h.tasks.FindInFlight(ctx, device.ID, ResponseTaskTypes(resp.Method)...)
	if err != nil {
		if errors.Is(err, models.ErrNoTaskInFlight) {
			h.log.WithFields(logrus.Fields{
				"device": device.ID,
				"method": resp.Method,
			}).Warn("unsolicited response, ending session")
			c.Status(http.StatusNoContent)
			return
		}
		h.fail(c, err, "task correlation")
		return
	}

	h.log.WithFields(logrus.Fields{
		"device": device.ID,
		"method": resp.Method,
		"task":   task.ID,
		"type":   task.Type,
	}).Info("response correlated")

	switch resp.Method {
	case MethodSetParameterValuesResp:
		if resp.Status != 0 {
			h.failTask(ctx, device, task, fmt.Sprintf("set rejected with status %d", resp.Status))
			h.dispatchNext(ctx, c, device)
			return
		}
		if models.IsDiagnosticTrigger(task.Type) {
			// The trigger stays sent until the device reports
			// 8 DIAGNOSTICS COMPLETE on a later Inform.
			c.Status(http.StatusNoContent)
			return
		}
		h.completeTask(ctx, c, device, task, statusResult(resp.Status), "")

	case MethodGetParameterValuesResp:
		if task.Type == models.TaskGetDiagnosticResults {
			if err := h.collector.OnResults(ctx, task, resp.Parameters); err != nil {
				h.log.WithError(err).WithField("task", task.ID).Error("storing diagnostic results failed")
			}
		} else if len(resp.Parameters) > 0 {
			params := make([]models.DeviceParameter, 0, len(resp.Parameters))
			for name, p := range resp.Parameters {
				params = append(params, models.DeviceParameter{
					DeviceID: device.ID,
					Name:     name,
					Value:    p.Value,
					Type:     p.Type,
				})
			}
			if err := h.devices.SaveParameters(ctx, device.ID, params); err != nil {
				h.log.WithError(err).Warn("parameter cache refresh failed")
			}
		}
		h.completeTask(ctx, c, device, task, paramsResult(resp.Parameters), "")

	case MethodRebootResp, MethodFactoryResetResp:
		// The device is about to go down; end the session instead of
		// dispatching more work.
		h.finishTask(ctx, device, task, nil, "")
		c.Status(http.StatusNoContent)

	case MethodTransferComplete:
		if resp.FaultCode != 0 {
			h.failTask(ctx, device, task, fmt.Sprintf("transfer fault %d: %s", resp.FaultCode, resp.FaultString))
		} else {
			h.finishTask(ctx, device, task, transferResult(resp), "")
		}
		// TransferComplete is a device RPC and must be acknowledged
		// before the session can move on.
		envelope, err := h.codec.BuildTransferCompleteResponse()
		if err != nil {
			h.fail(c, err, "build transfer complete response")
			return
		}
		h.writeEnvelope(c, envelope)

	case MethodAddObjectResp, MethodDeleteObjectResp:
		h.completeTask(ctx, c, device, task, statusResult(resp.Status), "")

	default:
		c.Status(http.StatusNoContent)
	}
}

// handleFault fails whatever task is in flight and ends the session.
func (h *Handler) handleFault(ctx context.Context, c *gin.Context, device *models.Device, resp *Response) {
	task, err := h.tasks.FindInFlight(ctx, device.ID)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"device": device.ID,
			"code":   resp.FaultCode,
			"fault":  resp.FaultString,
		}).Warn("fault with no task in flight")
		c.Status(http.StatusNoContent)
		return
	}
	h.failTask(ctx, device, task, fmt.Sprintf("cwmp fault %d: %s", resp.FaultCode, resp.FaultString))
	c.Status(http.StatusNoContent)
}

// completeTask finalizes the task and keeps the session going.
func (h *Handler) completeTask(ctx context.Context, c *gin.Context, device *models.Device,
	task *models.Task, result []byte, message string) {
	h.finishTask(ctx, device, task, result, message)
	h.dispatchNext(ctx, c, device)
}

func (h *Handler) finishTask(ctx context.Context, device *models.Device,
	task *models.Task, result []byte, message string) {
	if err := h.tasks.Complete(ctx, task, result, message); err != nil {
		h.log.WithError(err).WithField("task", task.ID).Error("task completion failed")
		return
	}
	h.reportExecution(ctx, task, true, message)
}

func (h *Handler) failTask(ctx context.Context, device *models.Device, task *models.Task, message string) {
	if err := h.tasks.Fail(ctx, task, message); err != nil {
		h.log.WithError(err).WithField("task", task.ID).Error("task failure update failed")
		return
	}
	h.log.WithFields(logrus.Fields{
		"device": device.ID,
		"task":   task.ID,
		"reason": message,
	}).Warn("task failed")
	h.reportExecution(ctx, task, false, message)
}

// reportExecution propagates a task outcome to the workflow execution
// that spawned it, if any. A failed execution with retry budget left is
// rescheduled for the control loop to pick up again.
func (h *Handler) reportExecution(ctx context.Context, task *models.Task, ok bool, detail string) {
	exec, err := h.workflows.FindByTaskID(ctx, task.ID)
	if err != nil {
		if !errors.Is(err, models.ErrExecutionNotFound) {
			h.log.WithError(err).WithField("task", task.ID).Error("execution lookup failed")
		}
		return
	}
	if ok {
		if err := h.workflows.MarkCompleted(ctx, exec, detail); err != nil {
			h.log.WithError(err).WithField("execution", exec.ID).Error("execution completion failed")
		}
		return
	}

	wf, err := h.workflows.Get(ctx, exec.WorkflowID)
	if err != nil {
		h.log.WithError(err).WithField("execution", exec.ID).Error("workflow lookup failed")
		return
	}
	if exec.Attempt < wf.RetryCount {
		at := time.Now().Add(time.Duration(wf.RetryDelayMinutes) * time.Minute)
		if err := h.workflows.ScheduleRetry(ctx, exec, at, detail); err != nil {
			h.log.WithError(err).WithField("execution", exec.ID).Error("retry scheduling failed")
		}
		return
	}
	if err := h.workflows.MarkFailed(ctx, exec, detail); err != nil {
		h.log.WithError(err).WithField("execution", exec.ID).Error("execution failure update failed")
	}
}

// dispatchNext claims and sends the oldest pending task, or ends the
// session with a 204 when there is nothing to do or something is already
// in flight. The claim is a single transaction, so concurrent posts for
// one device never put two tasks in flight.
func (h *Handler) dispatchNext(ctx context.Context, c *gin.Context, device *models.Device) {
	task, err := h.tasks.ClaimNext(ctx, device.ID)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) || errors.Is(err, models.ErrTaskAlreadyClaimed) {
			c.Status(http.StatusNoContent)
			return
		}
		h.fail(c, err, "task claim")
		return
	}

	envelope, err := BuildRPC(h.codec, device, task)
	if err != nil {
		h.failTask(ctx, device, task, fmt.Sprintf("cannot build RPC: %v", err))
		c.Status(http.StatusNoContent)
		return
	}
	if exec, err := h.workflows.FindByTaskID(ctx, task.ID); err == nil {
		if err := h.workflows.MarkInProgress(ctx, exec); err != nil {
			h.log.WithError(err).WithField("execution", exec.ID).Error("execution progress update failed")
		}
	}

	appContext.GetContext().NoteDispatch()
	h.log.WithFields(logrus.Fields{
		"device": device.ID,
		"task":   task.ID,
		"type":   task.Type,
	}).Info("task dispatched")
	h.writeEnvelope(c, envelope)
}

// resolveByIP maps an anonymous post back to the device whose most
// recent Inform came from the same source address within the session
// window. Devices behind shared NAT can defeat this; the window keeps
// the ambiguity short.
func (h *Handler) resolveByIP(ctx context.Context, c *gin.Context) (*models.Device, error) {
	window := h.cfg.SessionWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	device, err := h.devices.FindRecentByIP(ctx, c.ClientIP(), time.Now().Add(-window))
	if err != nil {
		return nil, models.ErrSessionUnresolved
	}
	return device, nil
}

func (h *Handler) writeEnvelope(c *gin.Context, envelope []byte) {
	c.Header("SOAPAction", "")
	c.Data(http.StatusOK, contentTypeXML, envelope)
}

func (h *Handler) fail(c *gin.Context, err error, op string) {
	h.log.WithError(err).Error(op + " failed")
	c.String(http.StatusInternalServerError, "internal error")
}

// rootFromParams derives the data-model root from reported parameter
// names. TR-181 devices prefix everything with Device.
func rootFromParams(params map[string]ParamValue) string {
	for name := range params {
		if strings.HasPrefix(name, models.RootTR181+".") {
			return models.RootTR181
		}
	}
	return models.RootTR098
}

// applyInformParams lifts well-known DeviceInfo and ManagementServer
// values off the inform parameter list onto the device record.
func applyInformParams(device *models.Device, params map[string]ParamValue) {
	for name, p := range params {
		switch {
		case strings.HasSuffix(name, ".DeviceInfo.SoftwareVersion"):
			device.SoftwareVersion = p.Value
		case strings.HasSuffix(name, ".DeviceInfo.HardwareVersion"):
			device.HardwareVersion = p.Value
		case strings.HasSuffix(name, ".DeviceInfo.ModelName"):
			device.ModelName = p.Value
		case strings.HasSuffix(name, ".ManagementServer.ConnectionRequestURL"):
			device.ConnReqURL = p.Value
		case strings.HasSuffix(name, ".ManagementServer.ConnectionRequestUsername"):
			device.ConnReqUsername = p.Value
		case strings.HasSuffix(name, ".ManagementServer.ConnectionRequestPassword"):
			device.ConnReqPassword = p.Value
		}
	}
}

func statusResult(status int) []byte {
	b, _ := json.Marshal(map[string]int{"status": status})
	return b
}

func paramsResult(params map[string]ParamValue) []byte {
	if len(params) == 0 {
		return nil
	}
	b, _ := json.Marshal(flattenParams(params))
	return b
}

func transferResult(resp *Response) []byte {
	out := map[string]string{"command_key": resp.CommandKey}
	if resp.StartTime != nil {
		out["start_time"] = resp.StartTime.Format(time.RFC3339)
	}
	if resp.CompleteTime != nil {
		out["complete_time"] = resp.CompleteTime.Format(time.RFC3339)
	}
	b, _ := json.Marshal(out)
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
