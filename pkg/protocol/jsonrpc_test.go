package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("req-1", MethodPing, &PingParams{Timestamp: 42})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if req.JSONRPC != JSONRPCVersion {
		t.Errorf("jsonrpc = %q, want %q", req.JSONRPC, JSONRPCVersion)
	}
	if req.Method != MethodPing {
		t.Errorf("method = %q, want %q", req.Method, MethodPing)
	}

	var params PingParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.Timestamp != 42 {
		t.Errorf("timestamp = %d, want 42", params.Timestamp)
	}
}

func TestNewRequestNilParams(t *testing.T) {
	req, err := NewRequest(1, MethodListTools, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if req.Params != nil {
		t.Errorf("params = %s, want nil", req.Params)
	}
}

func TestNewRequestRawParams(t *testing.T) {
	raw := json.RawMessage(`{"name":"echo"}`)
	req, err := NewRequest(1, MethodCallTool, raw)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if string(req.Params) != string(raw) {
		t.Errorf("params = %s, want %s", req.Params, raw)
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp, err := NewErrorResponse("req-2", CodeMethodNotFound, "no such method", map[string]string{"method": "bogus"})
	if err != nil {
		t.Fatalf("NewErrorResponse failed: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("error is nil")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
	if resp.Result != nil {
		t.Error("error response must not carry a result")
	}
}

func TestErrorObjectError(t *testing.T) {
	e := &ErrorObject{Code: CodeInvalidParams, Message: "bad args"}
	want := "jsonrpc error -32602: bad args"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		data string
		want MessageKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, KindRequest},
		{"string id request", `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{}}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`, KindNotification},
		{"result response", `{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"x"}}`, KindResponse},
		{"null result response", `{"jsonrpc":"2.0","id":1,"result":null}`, KindInvalid},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, KindInvalid},
		{"missing version", `{"id":1,"method":"ping"}`, KindInvalid},
		{"garbage", `{not json`, KindInvalid},
		{"empty object", `{}`, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify([]byte(tt.data)); got != tt.want {
				t.Errorf("Classify(%s) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}

func TestFormatID(t *testing.T) {
	tests := []struct {
		id   interface{}
		want string
	}{
		{"req-1", "req-1"},
		{7, "7"},
		{float64(7), "7"},
		{7.5, "7.5"},
		{int64(12), "12"},
	}
	for _, tt := range tests {
		if got := FormatID(tt.id); got != tt.want {
			t.Errorf("FormatID(%v) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp, err := NewResponse(float64(3), &PingResult{Timestamp: 99})
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if Classify(data) != KindResponse {
		t.Fatalf("marshaled response did not classify as response: %s", data)
	}
	var back Response
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if FormatID(back.ID) != "3" {
		t.Errorf("round-tripped ID = %q, want 3", FormatID(back.ID))
	}
}
