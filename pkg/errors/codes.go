package errors

// Standard JSON-RPC 2.0 codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Implementation-defined codes, grouped in fifty-wide bands inside the
// reserved -32000..-32099+ server range.
const (
	// Session (-32000 to -32049)
	CodeSessionNotFound = -32000
	CodeSessionExpired  = -32001
	CodeNotInitialized  = -32002

	// Auth (-32050 to -32099)
	CodeUnauthorized = -32050
	CodeInvalidToken = -32051

	// Tools (-32100 to -32149)
	CodeToolNotFound     = -32100
	CodeToolFailed       = -32101
	CodeInvalidArguments = -32102

	// Transport (-32150 to -32199)
	CodeTransportFailure = -32150
	CodeConnectionLost   = -32151
	CodeRequestTimeout   = -32152

	// Lifecycle (-32200 to -32249)
	CodeCancelled          = -32200
	CodeCapabilityRequired = -32201
	CodeVersionMismatch    = -32202
)

// categoryForCode maps each known code band to its category. Used when
// rebuilding a typed error from a wire-level error object.
func categoryForCode(code int) Category {
	switch {
	case code == CodeParseError || code == CodeInvalidRequest || code == CodeMethodNotFound:
		return CategoryProtocol
	case code == CodeInvalidParams:
		return CategoryValidation
	case code <= -32000 && code > -32050:
		return CategorySession
	case code <= -32050 && code > -32100:
		return CategoryAuth
	case code <= -32100 && code > -32150:
		return CategoryTool
	case code == CodeRequestTimeout:
		return CategoryTimeout
	case code <= -32150 && code > -32200:
		return CategoryTransport
	case code == CodeCancelled:
		return CategoryCancelled
	case code <= -32201 && code > -32250:
		return CategoryProtocol
	default:
		return CategoryInternal
	}
}
