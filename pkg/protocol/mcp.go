package protocol

import "time"

// ProtocolVersion is the MCP revision this module implements.
const ProtocolVersion = "2025-03-26"

// Request methods.
const (
	MethodInitialize  = "initialize"
	MethodPing        = "ping"
	MethodSetLogLevel = "logging/setLevel"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
)

// Notification methods.
const (
	MethodInitialized       = "notifications/initialized"
	MethodCancelled         = "notifications/cancelled"
	MethodProgress          = "notifications/progress"
	MethodLogMessage        = "notifications/message"
	MethodToolsChanged      = "notifications/tools/list_changed"
	MethodResourceChanged   = "notifications/resources/changed"
	MethodSamplingRequested = "notifications/sampling/requested"
)

// Capability names exchanged during initialize.
const (
	CapabilityTools    = "tools"
	CapabilityLogging  = "logging"
	CapabilitySampling = "sampling"
)

// Implementation identifies one side of a session.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams opens a session.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      Implementation  `json:"clientInfo"`
	Capabilities    map[string]bool `json:"capabilities,omitempty"`
}

// InitializeResult answers an initialize request with the server's
// identity and the capabilities it agreed to.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ServerInfo      Implementation  `json:"serverInfo"`
	Capabilities    map[string]bool `json:"capabilities,omitempty"`
	Instructions    string          `json:"instructions,omitempty"`
}

// InitializedParams is empty; the notification itself is the signal.
type InitializedParams struct{}

// PingParams carries an optional sender timestamp (unix milliseconds).
type PingParams struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

// PingResult echoes the sender timestamp, or the receiver's clock when
// none was given.
type PingResult struct {
	Timestamp int64 `json:"timestamp"`
}

// CancelledParams asks the receiver to abandon an in-flight request.
type CancelledParams struct {
	RequestID interface{} `json:"requestId"`
	Reason    string      `json:"reason,omitempty"`
}

// ProgressParams reports partial completion of a long-running operation.
// Percent is monotonic within an operation; Done accompanies the final
// notification.
type ProgressParams struct {
	OperationID string  `json:"operationId"`
	Percent     float64 `json:"percent"`
	Message     string  `json:"message,omitempty"`
	Done        bool    `json:"done,omitempty"`
}

// LogLevel is the severity scale shared by both sides of a session.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warning"
	LogLevelError LogLevel = "error"
)

// severityRank orders levels for filtering. Unknown levels rank lowest.
func (l LogLevel) severityRank() int {
	switch l {
	case LogLevelDebug:
		return 1
	case LogLevelInfo:
		return 2
	case LogLevelWarn:
		return 3
	case LogLevelError:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as min.
func (l LogLevel) AtLeast(min LogLevel) bool {
	return l.severityRank() >= min.severityRank()
}

// SetLogLevelParams adjusts the minimum severity the server pushes.
type SetLogLevelParams struct {
	Level LogLevel `json:"level"`
}

// SetLogLevelResult acknowledges a level change.
type SetLogLevelResult struct {
	Level LogLevel `json:"level"`
}

// LogMessageParams is a server-pushed log line.
type LogMessageParams struct {
	Level   LogLevel    `json:"level"`
	Logger  string      `json:"logger,omitempty"`
	Message string      `json:"message"`
	Time    time.Time   `json:"time,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ResourceChangedParams announces that server-side data the client may
// have cached is stale.
type ResourceChangedParams struct {
	URI    string `json:"uri"`
	Reason string `json:"reason,omitempty"`
}

// SamplingRequestParams asks the client to run a model completion on the
// server's behalf. Delivery is fire-and-forget; any answer arrives as a
// separate tool call.
type SamplingRequestParams struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
