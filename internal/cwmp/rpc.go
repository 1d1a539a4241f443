package cwmp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nextranet/gateway/acs/internal/models"
)

// GetParamsPayload is the parameters blob of a get_params task.
type GetParamsPayload struct {
	Names []string `json:"names"`
}

// SetParamsPayload is the parameters blob of a set_params task. Values
// map parameter path to string value; Types optionally overrides the
// xsi type per path.
//
// The wire form is a direct map of parameter path to either a bare
// value or a {value, type} pair:
//
//	{"InternetGatewayDevice.X.Y": "1",
//	 "InternetGatewayDevice.X.Z": {"value": "9", "type": "xsd:unsignedInt"}}
//
// The wrapped values/types form this struct marshals to is accepted as
// well.
type SetParamsPayload struct {
	Values map[string]string `json:"values"`
	Types  map[string]string `json:"types,omitempty"`
}

func (p *SetParamsPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["values"]; ok && isJSONObject(v) {
		type wrapped SetParamsPayload
		var w wrapped
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*p = SetParamsPayload(w)
		return nil
	}

	p.Values = make(map[string]string, len(raw))
	p.Types = nil
	for path, msg := range raw {
		if isJSONObject(msg) {
			var pv struct {
				Value jsonScalar `json:"value"`
				Type  string     `json:"type"`
			}
			if err := json.Unmarshal(msg, &pv); err != nil {
				return err
			}
			p.Values[path] = string(pv.Value)
			if pv.Type != "" {
				if p.Types == nil {
					p.Types = make(map[string]string)
				}
				p.Types[path] = pv.Type
			}
			continue
		}
		var s jsonScalar
		if err := json.Unmarshal(msg, &s); err != nil {
			return err
		}
		p.Values[path] = string(s)
	}
	return nil
}

// jsonScalar decodes a JSON string, number, or bool into its string form.
// Devices only ever see strings; the xsi type travels separately.
type jsonScalar string

func (s *jsonScalar) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = jsonScalar(str)
		return nil
	}
	*s = jsonScalar(bytes.TrimSpace(data))
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

// CommandKeyPayload is shared by reboot and factory_reset tasks.
type CommandKeyPayload struct {
	CommandKey string `json:"command_key,omitempty"`
}

// TransferPayload is shared by download and upload tasks.
type TransferPayload struct {
	URL        string `json:"url"`
	FileType   string `json:"file_type,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
	CommandKey string `json:"command_key,omitempty"`
}

// ObjectPayload is shared by add_object and delete_object tasks.
type ObjectPayload struct {
	ObjectName string `json:"object_name"`
}

// PingPayload configures a ping_diagnostics task. Timeout is in
// milliseconds.
type PingPayload struct {
	Host    string `json:"host,omitempty"`
	Count   int    `json:"count,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// TraceroutePayload configures a traceroute_diagnostics task. Timeout is
// in milliseconds.
type TraceroutePayload struct {
	Host    string `json:"host,omitempty"`
	MaxHops int    `json:"max_hops,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// ResultsPayload is the parameters blob of a get_diagnostic_results task,
// created by the result collector. It carries the id of the diagnostic
// task whose results it retrieves.
type ResultsPayload struct {
	Names            []string `json:"names"`
	DiagnosticTaskID string   `json:"diagnostic_task_id"`
	DiagnosticType   string   `json:"diagnostic_type"`
}

const (
	defaultPingHost    = "8.8.8.8"
	defaultPingReps    = 4
	defaultPingTimeout = 5000
	defaultTraceHops   = 30
)

// pingSubtree returns the IPPing diagnostics object path for the device's
// data model root.
func pingSubtree(root string) string {
	if root == models.RootTR181 {
		return "Device.IP.Diagnostics.IPPing."
	}
	return "InternetGatewayDevice.IPPingDiagnostics."
}

// tracerouteSubtree returns the TraceRoute diagnostics object path for
// the device's data model root.
func tracerouteSubtree(root string) string {
	if root == models.RootTR181 {
		return "Device.IP.Diagnostics.TraceRoute."
	}
	return "InternetGatewayDevice.TraceRouteDiagnostics."
}

// PingRequestParams builds the SetParameterValues map that arms an IPPing
// diagnostic on the device.
func PingRequestParams(root string, p PingPayload) map[string]ParamValue {
	if p.Host == "" {
		p.Host = defaultPingHost
	}
	if p.Count <= 0 {
		p.Count = defaultPingReps
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultPingTimeout
	}
	sub := pingSubtree(root)
	return map[string]ParamValue{
		sub + "DiagnosticsState":    {Value: "Requested", Type: "xsd:string"},
		sub + "Host":                {Value: p.Host, Type: "xsd:string"},
		sub + "NumberOfRepetitions": {Value: fmt.Sprintf("%d", p.Count), Type: "xsd:unsignedInt"},
		sub + "Timeout":             {Value: fmt.Sprintf("%d", p.Timeout), Type: "xsd:unsignedInt"},
	}
}

// TracerouteRequestParams builds the SetParameterValues map that arms a
// TraceRoute diagnostic on the device.
func TracerouteRequestParams(root string, p TraceroutePayload) map[string]ParamValue {
	if p.Host == "" {
		p.Host = defaultPingHost
	}
	if p.MaxHops <= 0 {
		p.MaxHops = defaultTraceHops
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultPingTimeout
	}
	sub := tracerouteSubtree(root)
	return map[string]ParamValue{
		sub + "DiagnosticsState": {Value: "Requested", Type: "xsd:string"},
		sub + "Host":             {Value: p.Host, Type: "xsd:string"},
		sub + "MaxHopCount":      {Value: fmt.Sprintf("%d", p.MaxHops), Type: "xsd:unsignedInt"},
		sub + "Timeout":          {Value: fmt.Sprintf("%d", p.Timeout), Type: "xsd:unsignedInt"},
	}
}

// PingResultNames lists the parameters fetched after a ping completes.
func PingResultNames(root string) []string {
	sub := pingSubtree(root)
	return []string{
		sub + "DiagnosticsState",
		sub + "SuccessCount",
		sub + "FailureCount",
		sub + "AverageResponseTime",
		sub + "MinimumResponseTime",
		sub + "MaximumResponseTime",
	}
}

// TracerouteResultNames lists the parameters fetched after a traceroute
// completes. Fetching the whole subtree covers the per-hop instances.
func TracerouteResultNames(root string) []string {
	return []string{tracerouteSubtree(root)}
}

// BuildRPC renders the outbound envelope for a task against the given
// device. The device supplies the data model root for diagnostics paths.
func BuildRPC(codec Codec, device *models.Device, task *models.Task) ([]byte, error) {
	switch task.Type {
	case models.TaskGetParams:
		var p GetParamsPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		if len(p.Names) == 0 {
			p.Names = []string{device.DataModelRoot + "."}
		}
		return codec.BuildGetParameterValues(p.Names)

	case models.TaskSetParams:
		var p SetParamsPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		values := make(map[string]ParamValue, len(p.Values))
		for name, v := range p.Values {
			values[name] = ParamValue{Value: v, Type: p.Types[name]}
		}
		return codec.BuildSetParameterValues(values)

	case models.TaskReboot:
		var p CommandKeyPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		if p.CommandKey == "" {
			p.CommandKey = task.ID
		}
		return codec.BuildReboot(p.CommandKey)

	case models.TaskFactoryReset:
		return codec.BuildFactoryReset()

	case models.TaskDownload:
		var p TransferPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		if p.CommandKey == "" {
			p.CommandKey = task.ID
		}
		return codec.BuildDownload(DownloadRequest{
			CommandKey: p.CommandKey,
			FileType:   p.FileType,
			URL:        p.URL,
			Username:   p.Username,
			Password:   p.Password,
			FileSize:   p.FileSize,
		})

	case models.TaskUpload:
		var p TransferPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		if p.CommandKey == "" {
			p.CommandKey = task.ID
		}
		return codec.BuildUpload(UploadRequest{
			CommandKey: p.CommandKey,
			FileType:   p.FileType,
			URL:        p.URL,
			Username:   p.Username,
			Password:   p.Password,
		})

	case models.TaskAddObject:
		var p ObjectPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		return codec.BuildAddObject(p.ObjectName)

	case models.TaskDeleteObject:
		var p ObjectPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		return codec.BuildDeleteObject(p.ObjectName)

	case models.TaskPingDiagnostics:
		var p PingPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		return codec.BuildSetParameterValues(PingRequestParams(device.DataModelRoot, p))

	case models.TaskTracerouteDiagnostics:
		var p TraceroutePayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		return codec.BuildSetParameterValues(TracerouteRequestParams(device.DataModelRoot, p))

	case models.TaskGetDiagnosticResults:
		var p ResultsPayload
		if err := decodePayload(task, &p); err != nil {
			return nil, err
		}
		return codec.BuildGetParameterValues(p.Names)
	}
	return nil, fmt.Errorf("%w: %s", models.ErrInvalidTaskType, task.Type)
}

// ResponseTaskTypes maps an inbound response method to the task types it
// may acknowledge. SetParameterValuesResponse covers plain set_params as
// well as the diagnostic triggers, which are armed via the same RPC.
func ResponseTaskTypes(method string) []string {
	switch method {
	case MethodGetParameterValuesResp:
		return []string{models.TaskGetDiagnosticResults, models.TaskGetParams}
	case MethodSetParameterValuesResp:
		return []string{models.TaskPingDiagnostics, models.TaskTracerouteDiagnostics, models.TaskSetParams}
	case MethodRebootResp:
		return []string{models.TaskReboot}
	case MethodFactoryResetResp:
		return []string{models.TaskFactoryReset}
	case MethodTransferComplete:
		return []string{models.TaskDownload, models.TaskUpload}
	case MethodAddObjectResp:
		return []string{models.TaskAddObject}
	case MethodDeleteObjectResp:
		return []string{models.TaskDeleteObject}
	}
	return nil
}

func decodePayload(task *models.Task, out any) error {
	if len(task.Parameters) == 0 {
		return nil
	}
	if err := json.Unmarshal(task.Parameters, out); err != nil {
		return fmt.Errorf("task %s: %w: %v", task.ID, models.ErrBadTaskPayload, err)
	}
	return nil
}
