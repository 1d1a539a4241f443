package cwmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const informXML = `<?xml version="1.0" encoding="UTF-8"?>
<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-0" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema">
<soap-env:Header><cwmp:ID soap-env:mustUnderstand="1">12</cwmp:ID></soap-env:Header>
<soap-env:Body>
<cwmp:Inform>
<DeviceId>
<Manufacturer>Acme Networks</Manufacturer>
<OUI>001122</OUI>
<ProductClass>HomeRouter</ProductClass>
<SerialNumber>SN0001</SerialNumber>
</DeviceId>
<Event soap-enc:arrayType="cwmp:EventStruct[2]" xmlns:soap-enc="http://schemas.xmlsoap.org/soap/encoding/">
<EventStruct><EventCode>1 BOOT</EventCode><CommandKey></CommandKey></EventStruct>
<EventStruct><EventCode>2 PERIODIC</EventCode><CommandKey></CommandKey></EventStruct>
</Event>
<MaxEnvelopes>1</MaxEnvelopes>
<CurrentTime>2024-03-01T10:00:00Z</CurrentTime>
<RetryCount>0</RetryCount>
<ParameterList soap-enc:arrayType="cwmp:ParameterValueStruct[3]" xmlns:soap-enc="http://schemas.xmlsoap.org/soap/encoding/">
<ParameterValueStruct>
<Name>InternetGatewayDevice.DeviceInfo.SoftwareVersion</Name>
<Value xsi:type="xsd:string">1.2.3</Value>
</ParameterValueStruct>
<ParameterValueStruct>
<Name>InternetGatewayDevice.DeviceInfo.HardwareVersion</Name>
<Value xsi:type="xsd:string">rev-b</Value>
</ParameterValueStruct>
<ParameterValueStruct>
<Name>InternetGatewayDevice.ManagementServer.ConnectionRequestURL</Name>
<Value xsi:type="xsd:string">http://192.0.2.10:7547/cr</Value>
</ParameterValueStruct>
</ParameterList>
</cwmp:Inform>
</soap-env:Body>
</soap-env:Envelope>`

func TestParseInform(t *testing.T) {
	codec := NewCodec()

	inform, err := codec.ParseInform([]byte(informXML))
	require.NoError(t, err)

	assert.Equal(t, "Acme Networks", inform.Manufacturer)
	assert.Equal(t, "001122", inform.OUI)
	assert.Equal(t, "HomeRouter", inform.ProductClass)
	assert.Equal(t, "SN0001", inform.SerialNumber)
	assert.Equal(t, 1, inform.MaxEnvelopes)
	assert.Equal(t, []string{"1 BOOT", "2 PERIODIC"}, inform.Events)
	assert.True(t, inform.HasEvent("1 BOOT"))
	assert.False(t, inform.HasEvent("0 BOOTSTRAP"))

	require.Len(t, inform.Parameters, 3)
	assert.Equal(t, "1.2.3", inform.Parameters["InternetGatewayDevice.DeviceInfo.SoftwareVersion"].Value)
	assert.Equal(t, "xsd:string", inform.Parameters["InternetGatewayDevice.DeviceInfo.SoftwareVersion"].Type)
}

func TestParseInformRejectsGarbage(t *testing.T) {
	codec := NewCodec()

	_, err := codec.ParseInform([]byte("this is not xml at all, but long enough"))
	assert.Error(t, err)

	_, err = codec.ParseInform([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body></soap:Body></soap:Envelope>`))
	assert.Error(t, err, "inform without DeviceId must be rejected")
}

func TestParseResponseGetParameterValues(t *testing.T) {
	codec := NewCodec()
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-0" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
<soap:Body><cwmp:GetParameterValuesResponse><ParameterList>
<ParameterValueStruct><Name>InternetGatewayDevice.IPPingDiagnostics.SuccessCount</Name><Value xsi:type="xsd:unsignedInt">4</Value></ParameterValueStruct>
<ParameterValueStruct><Name>InternetGatewayDevice.IPPingDiagnostics.AverageResponseTime</Name><Value xsi:type="xsd:unsignedInt">18</Value></ParameterValueStruct>
</ParameterList></cwmp:GetParameterValuesResponse></soap:Body></soap:Envelope>`

	resp, err := codec.ParseResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, MethodGetParameterValuesResp, resp.Method)
	require.Len(t, resp.Parameters, 2)
	assert.Equal(t, "4", resp.Parameters["InternetGatewayDevice.IPPingDiagnostics.SuccessCount"].Value)
}

func TestParseResponseSetParameterValues(t *testing.T) {
	codec := NewCodec()
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-0">
<soap:Body><cwmp:SetParameterValuesResponse><Status>0</Status></cwmp:SetParameterValuesResponse></soap:Body></soap:Envelope>`

	resp, err := codec.ParseResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, MethodSetParameterValuesResp, resp.Method)
	assert.Equal(t, 0, resp.Status)
}

func TestParseResponseTransferComplete(t *testing.T) {
	codec := NewCodec()
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-0">
<soap:Body><cwmp:TransferComplete>
<CommandKey>fw-42</CommandKey>
<FaultStruct><FaultCode>0</FaultCode><FaultString></FaultString></FaultStruct>
<StartTime>2024-03-01T10:00:00Z</StartTime>
<CompleteTime>2024-03-01T10:04:30Z</CompleteTime>
</cwmp:TransferComplete></soap:Body></soap:Envelope>`

	resp, err := codec.ParseResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, MethodTransferComplete, resp.Method)
	assert.Equal(t, "fw-42", resp.CommandKey)
	assert.Equal(t, 0, resp.FaultCode)
	require.NotNil(t, resp.StartTime)
	require.NotNil(t, resp.CompleteTime)
}

func TestParseResponseFault(t *testing.T) {
	codec := NewCodec()
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-0">
<soap:Body><soap:Fault>
<faultcode>Client</faultcode>
<faultstring>CWMP fault</faultstring>
<detail><cwmp:Fault><FaultCode>9005</FaultCode><FaultString>Invalid parameter name</FaultString></cwmp:Fault></detail>
</soap:Fault></soap:Body></soap:Envelope>`

	resp, err := codec.ParseResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, MethodFault, resp.Method)
	assert.Equal(t, 9005, resp.FaultCode)
	assert.Equal(t, "Invalid parameter name", resp.FaultString)
}

func TestBuildGetParameterValues(t *testing.T) {
	codec := NewCodec()

	body, err := codec.BuildGetParameterValues([]string{"InternetGatewayDevice.DeviceInfo."})
	require.NoError(t, err)
	assert.Contains(t, string(body), "<cwmp:GetParameterValues>")
	assert.Contains(t, string(body), "<string>InternetGatewayDevice.DeviceInfo.</string>")
	assert.Contains(t, string(body), "cwmp:ID")
}

func TestBuildSetParameterValuesEscapesAndOrders(t *testing.T) {
	codec := NewCodec()

	body, err := codec.BuildSetParameterValues(map[string]ParamValue{
		"B.Param": {Value: "two"},
		"A.Param": {Value: "one & <two>", Type: "xsd:string"},
	})
	require.NoError(t, err)
	s := string(body)
	assert.Contains(t, s, "one &amp; &lt;two&gt;")
	assert.Less(t, indexOf(s, "A.Param"), indexOf(s, "B.Param"), "parameters must be emitted in sorted order")
	assert.Contains(t, s, `ParameterValueStruct[2]`)
}

func TestBuildRebootCarriesCommandKey(t *testing.T) {
	codec := NewCodec()

	body, err := codec.BuildReboot("task-9")
	require.NoError(t, err)
	assert.Contains(t, string(body), "<CommandKey>task-9</CommandKey>")
}

func TestBuildDownloadDefaultsFileType(t *testing.T) {
	codec := NewCodec()

	body, err := codec.BuildDownload(DownloadRequest{URL: "http://fw.example.com/image.bin", CommandKey: "ck"})
	require.NoError(t, err)
	assert.Contains(t, string(body), "<FileType>1 Firmware Upgrade Image</FileType>")
	assert.Contains(t, string(body), "<URL>http://fw.example.com/image.bin</URL>")
}

func TestBuildParseRoundTrip(t *testing.T) {
	codec := NewCodec()

	// The Inform we build as a response must be parseable as such by the
	// classifier, but never mistaken for a device message.
	body, err := codec.BuildInformResponse(1)
	require.NoError(t, err)
	assert.Equal(t, KindResponse, Classify(body))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
