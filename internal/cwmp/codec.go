package cwmp

import "time"

// ParamValue is one parameter value with its reported type.
type ParamValue struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Inform is the parsed form of a device-initiated Inform RPC.
type Inform struct {
	Manufacturer string
	OUI          string
	ProductClass string
	SerialNumber string
	Events       []string
	Parameters   map[string]ParamValue
	MaxEnvelopes int
}

// HasEvent reports whether the inform carries the given event code.
func (i *Inform) HasEvent(code string) bool {
	for _, e := range i.Events {
		if e == code {
			return true
		}
	}
	return false
}

// Response is the parsed form of a device message answering a prior ACS
// RPC. Which fields are set depends on Method.
type Response struct {
	Method       string
	Status       int
	FaultCode    int
	FaultString  string
	Parameters   map[string]ParamValue
	CommandKey   string
	StartTime    *time.Time
	CompleteTime *time.Time
}

// DownloadRequest carries the arguments of a Download RPC.
type DownloadRequest struct {
	URL        string
	FileType   string
	Username   string
	Password   string
	FileSize   int64
	CommandKey string
}

// UploadRequest carries the arguments of an Upload RPC.
type UploadRequest struct {
	URL        string
	FileType   string
	Username   string
	Password   string
	CommandKey string
}

// Codec turns raw CWMP request bodies into parsed structures and RPC
// intents into raw XML. The session handler depends only on this interface;
// the SOAP envelope format lives behind it.
type Codec interface {
	ParseInform(body []byte) (*Inform, error)
	ParseResponse(body []byte) (*Response, error)

	BuildInformResponse(maxEnvelopes int) ([]byte, error)
	BuildGetParameterValues(names []string) ([]byte, error)
	BuildSetParameterValues(params map[string]ParamValue) ([]byte, error)
	BuildReboot(commandKey string) ([]byte, error)
	BuildFactoryReset() ([]byte, error)
	BuildDownload(req DownloadRequest) ([]byte, error)
	BuildUpload(req UploadRequest) ([]byte, error)
	BuildAddObject(objectName string) ([]byte, error)
	BuildDeleteObject(objectName string) ([]byte, error)
	BuildTransferCompleteResponse() ([]byte, error)
}

// Response families answered by the session handler.
const (
	MethodInform                 = "Inform"
	MethodGetParameterValuesResp = "GetParameterValuesResponse"
	MethodSetParameterValuesResp = "SetParameterValuesResponse"
	MethodRebootResp             = "RebootResponse"
	MethodFactoryResetResp       = "FactoryResetResponse"
	MethodTransferComplete       = "TransferComplete"
	MethodAddObjectResp          = "AddObjectResponse"
	MethodDeleteObjectResp       = "DeleteObjectResponse"
	MethodFault                  = "Fault"
)
