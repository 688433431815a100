// Package protocol defines the JSON-RPC 2.0 message types and the MCP
// method surface shared by the client, server and transport packages.
package protocol

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only JSON-RPC version this module speaks.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request. The ID may be a string or a number;
// it is kept as an interface{} and normalized with FormatID where a map
// key is needed.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request, marshaling params if non-nil.
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	raw, err := marshalField(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: raw}, nil
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewResponse builds a success response, marshaling result if non-nil.
func NewResponse(id interface{}, result interface{}) (*Response, error) {
	raw, err := marshalField(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response. Data is optional structured
// detail carried alongside the code and message.
func NewErrorResponse(id interface{}, code int, message string, data interface{}) (*Response, error) {
	raw, err := marshalField(data)
	if err != nil {
		return nil, fmt.Errorf("marshal error data: %w", err)
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Data: raw},
	}, nil
}

// Notification is a JSON-RPC 2.0 notification: a request without an ID,
// and therefore without a response.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification builds a notification, marshaling params if non-nil.
func NewNotification(method string, params interface{}) (*Notification, error) {
	raw, err := marshalField(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so an ErrorObject can travel up a
// Go call chain unchanged.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// MessageKind classifies a raw incoming message.
type MessageKind int

const (
	KindInvalid MessageKind = iota
	KindRequest
	KindResponse
	KindNotification
)

// Classify inspects raw JSON and reports which JSON-RPC message shape it
// has. Malformed JSON and messages with the wrong version are KindInvalid.
func Classify(data []byte) MessageKind {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.JSONRPC != JSONRPCVersion {
		return KindInvalid
	}
	switch {
	case probe.Method != "" && probe.ID != nil:
		return KindRequest
	case probe.Method != "":
		return KindNotification
	case probe.ID != nil && (probe.Result != nil || probe.Error != nil):
		return KindResponse
	default:
		return KindInvalid
	}
}

// FormatID normalizes a request ID for use as a map key. JSON numbers
// arrive as float64; integral values print without a fraction so that an
// ID sent as 7 and echoed back as 7.0 still correlate.
func FormatID(id interface{}) string {
	if f, ok := id.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", id)
}

func marshalField(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
