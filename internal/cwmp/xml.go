package cwmp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nextranet/gateway/acs/internal/models"
)

// soapCodec is the default Codec. It speaks the cwmp-1-0 envelope dialect
// and matches elements by local name so vendor prefix variations do not
// matter.
type soapCodec struct{}

// NewCodec returns the default SOAP/XML codec.
func NewCodec() Codec {
	return &soapCodec{}
}

const envelopeOpen = `<?xml version="1.0" encoding="UTF-8"?>
<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/" xmlns:soap-enc="http://schemas.xmlsoap.org/soap/encoding/" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:cwmp="urn:dslforum-org:cwmp-1-0">
<soap-env:Header><cwmp:ID soap-env:mustUnderstand="1">%s</cwmp:ID></soap-env:Header>
<soap-env:Body>
`

const envelopeClose = `</soap-env:Body>
</soap-env:Envelope>`

type paramValueStruct struct {
	Name  string `xml:"Name"`
	Value struct {
		Type string `xml:"type,attr"`
		Text string `xml:",chardata"`
	} `xml:"Value"`
}

type informEnvelope struct {
	Body struct {
		Inform struct {
			DeviceID struct {
				Manufacturer string `xml:"Manufacturer"`
				OUI          string `xml:"OUI"`
				ProductClass string `xml:"ProductClass"`
				SerialNumber string `xml:"SerialNumber"`
			} `xml:"DeviceId"`
			Event struct {
				Events []struct {
					EventCode string `xml:"EventCode"`
				} `xml:"EventStruct"`
			} `xml:"Event"`
			MaxEnvelopes  int `xml:"MaxEnvelopes"`
			ParameterList struct {
				Params []paramValueStruct `xml:"ParameterValueStruct"`
			} `xml:"ParameterList"`
		} `xml:"Inform"`
	} `xml:"Body"`
}

// ParseInform extracts identity, events, and parameters from an Inform
// envelope.
func (c *soapCodec) ParseInform(body []byte) (*Inform, error) {
	var env informEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedEnvelope, err)
	}
	in := env.Body.Inform
	if in.DeviceID.SerialNumber == "" {
		return nil, fmt.Errorf("%w: missing DeviceId.SerialNumber", models.ErrMalformedEnvelope)
	}

	inform := &Inform{
		Manufacturer: in.DeviceID.Manufacturer,
		OUI:          in.DeviceID.OUI,
		ProductClass: in.DeviceID.ProductClass,
		SerialNumber: in.DeviceID.SerialNumber,
		MaxEnvelopes: in.MaxEnvelopes,
		Parameters:   make(map[string]ParamValue, len(in.ParameterList.Params)),
	}
	for _, e := range in.Event.Events {
		inform.Events = append(inform.Events, e.EventCode)
	}
	for _, p := range in.ParameterList.Params {
		inform.Parameters[p.Name] = ParamValue{Value: p.Value.Text, Type: p.Value.Type}
	}
	return inform, nil
}

// ParseResponse identifies the first element inside the SOAP body and
// decodes its method-specific fields.
func (c *soapCodec) ParseResponse(body []byte) (*Response, error) {
	method, err := soapBodyMethod(body)
	if err != nil {
		return nil, err
	}

	resp := &Response{Method: method}
	switch method {
	case MethodGetParameterValuesResp:
		var env struct {
			Body struct {
				Resp struct {
					ParameterList struct {
						Params []paramValueStruct `xml:"ParameterValueStruct"`
					} `xml:"ParameterList"`
				} `xml:"GetParameterValuesResponse"`
			} `xml:"Body"`
		}
		if err := xml.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMalformedEnvelope, err)
		}
		resp.Parameters = make(map[string]ParamValue, len(env.Body.Resp.ParameterList.Params))
		for _, p := range env.Body.Resp.ParameterList.Params {
			resp.Parameters[p.Name] = ParamValue{Value: p.Value.Text, Type: p.Value.Type}
		}

	case MethodSetParameterValuesResp, MethodAddObjectResp, MethodDeleteObjectResp:
		var env struct {
			Body struct {
				Inner struct {
					Status int `xml:"Status"`
				} `xml:",any"`
			} `xml:"Body"`
		}
		if err := xml.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMalformedEnvelope, err)
		}
		resp.Status = env.Body.Inner.Status

	case MethodTransferComplete:
		var env struct {
			Body struct {
				TC struct {
					CommandKey string `xml:"CommandKey"`
					Fault      struct {
						FaultCode   int    `xml:"FaultCode"`
						FaultString string `xml:"FaultString"`
					} `xml:"FaultStruct"`
					StartTime    string `xml:"StartTime"`
					CompleteTime string `xml:"CompleteTime"`
				} `xml:"TransferComplete"`
			} `xml:"Body"`
		}
		if err := xml.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMalformedEnvelope, err)
		}
		resp.CommandKey = env.Body.TC.CommandKey
		resp.FaultCode = env.Body.TC.Fault.FaultCode
		resp.FaultString = env.Body.TC.Fault.FaultString
		if t, err := time.Parse(time.RFC3339, env.Body.TC.StartTime); err == nil {
			resp.StartTime = &t
		}
		if t, err := time.Parse(time.RFC3339, env.Body.TC.CompleteTime); err == nil {
			resp.CompleteTime = &t
		}

	case MethodFault:
		var env struct {
			Body struct {
				Fault struct {
					Detail struct {
						Fault struct {
							FaultCode   int    `xml:"FaultCode"`
							FaultString string `xml:"FaultString"`
						} `xml:"Fault"`
					} `xml:"detail"`
				} `xml:"Fault"`
			} `xml:"Body"`
		}
		if err := xml.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMalformedEnvelope, err)
		}
		resp.FaultCode = env.Body.Fault.Detail.Fault.FaultCode
		resp.FaultString = env.Body.Fault.Detail.Fault.FaultString

	case MethodRebootResp, MethodFactoryResetResp:
		// No payload beyond the acknowledgment.

	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownRPCMethod, method)
	}
	return resp, nil
}

// soapBodyMethod returns the local name of the first element inside Body.
func soapBodyMethod(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	inBody := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("%w: no method element", models.ErrMalformedEnvelope)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local == "Body" {
			inBody = true
			continue
		}
		if inBody {
			return se.Name.Local, nil
		}
	}
}

func (c *soapCodec) envelope(inner string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, envelopeOpen, uuid.NewString()[:13])
	buf.WriteString(inner)
	buf.WriteString("\n")
	buf.WriteString(envelopeClose)
	return buf.Bytes()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func (c *soapCodec) BuildInformResponse(maxEnvelopes int) ([]byte, error) {
	if maxEnvelopes <= 0 {
		maxEnvelopes = 1
	}
	return c.envelope(fmt.Sprintf(
		"<cwmp:InformResponse><MaxEnvelopes>%d</MaxEnvelopes></cwmp:InformResponse>", maxEnvelopes)), nil
}

func (c *soapCodec) BuildGetParameterValues(names []string) ([]byte, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<cwmp:GetParameterValues><ParameterNames soap-enc:arrayType="xsd:string[%d]">`, len(names))
	for _, name := range names {
		fmt.Fprintf(&sb, "<string>%s</string>", xmlEscape(name))
	}
	sb.WriteString("</ParameterNames></cwmp:GetParameterValues>")
	return c.envelope(sb.String()), nil
}

func (c *soapCodec) BuildSetParameterValues(params map[string]ParamValue) ([]byte, error) {
	// Deterministic order keeps envelopes reproducible for tests and logs.
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<cwmp:SetParameterValues><ParameterList soap-enc:arrayType="cwmp:ParameterValueStruct[%d]">`, len(params))
	for _, name := range names {
		p := params[name]
		typ := p.Type
		if typ == "" {
			typ = "xsd:string"
		}
		fmt.Fprintf(&sb,
			`<ParameterValueStruct><Name>%s</Name><Value xsi:type="%s">%s</Value></ParameterValueStruct>`,
			xmlEscape(name), xmlEscape(typ), xmlEscape(p.Value))
	}
	sb.WriteString(`</ParameterList><ParameterKey></ParameterKey></cwmp:SetParameterValues>`)
	return c.envelope(sb.String()), nil
}

func (c *soapCodec) BuildReboot(commandKey string) ([]byte, error) {
	return c.envelope(fmt.Sprintf(
		"<cwmp:Reboot><CommandKey>%s</CommandKey></cwmp:Reboot>", xmlEscape(commandKey))), nil
}

func (c *soapCodec) BuildFactoryReset() ([]byte, error) {
	return c.envelope("<cwmp:FactoryReset></cwmp:FactoryReset>"), nil
}

func (c *soapCodec) BuildDownload(req DownloadRequest) ([]byte, error) {
	if req.FileType == "" {
		req.FileType = "1 Firmware Upgrade Image"
	}
	var sb strings.Builder
	sb.WriteString("<cwmp:Download>")
	fmt.Fprintf(&sb, "<CommandKey>%s</CommandKey>", xmlEscape(req.CommandKey))
	fmt.Fprintf(&sb, "<FileType>%s</FileType>", xmlEscape(req.FileType))
	fmt.Fprintf(&sb, "<URL>%s</URL>", xmlEscape(req.URL))
	fmt.Fprintf(&sb, "<Username>%s</Username>", xmlEscape(req.Username))
	fmt.Fprintf(&sb, "<Password>%s</Password>", xmlEscape(req.Password))
	fmt.Fprintf(&sb, "<FileSize>%d</FileSize>", req.FileSize)
	sb.WriteString("<TargetFileName></TargetFileName><DelaySeconds>0</DelaySeconds><SuccessURL></SuccessURL><FailureURL></FailureURL>")
	sb.WriteString("</cwmp:Download>")
	return c.envelope(sb.String()), nil
}

func (c *soapCodec) BuildUpload(req UploadRequest) ([]byte, error) {
	if req.FileType == "" {
		req.FileType = "1 Vendor Configuration File"
	}
	var sb strings.Builder
	sb.WriteString("<cwmp:Upload>")
	fmt.Fprintf(&sb, "<CommandKey>%s</CommandKey>", xmlEscape(req.CommandKey))
	fmt.Fprintf(&sb, "<FileType>%s</FileType>", xmlEscape(req.FileType))
	fmt.Fprintf(&sb, "<URL>%s</URL>", xmlEscape(req.URL))
	fmt.Fprintf(&sb, "<Username>%s</Username>", xmlEscape(req.Username))
	fmt.Fprintf(&sb, "<Password>%s</Password>", xmlEscape(req.Password))
	sb.WriteString("<DelaySeconds>0</DelaySeconds>")
	sb.WriteString("</cwmp:Upload>")
	return c.envelope(sb.String()), nil
}

func (c *soapCodec) BuildAddObject(objectName string) ([]byte, error) {
	return c.envelope(fmt.Sprintf(
		"<cwmp:AddObject><ObjectName>%s</ObjectName><ParameterKey></ParameterKey></cwmp:AddObject>",
		xmlEscape(objectName))), nil
}

func (c *soapCodec) BuildTransferCompleteResponse() ([]byte, error) {
	return c.envelope("<cwmp:TransferCompleteResponse></cwmp:TransferCompleteResponse>"), nil
}

func (c *soapCodec) BuildDeleteObject(objectName string) ([]byte, error) {
	return c.envelope(fmt.Sprintf(
		"<cwmp:DeleteObject><ObjectName>%s</ObjectName><ParameterKey></ParameterKey></cwmp:DeleteObject>",
		xmlEscape(objectName))), nil
}
