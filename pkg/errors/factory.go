package errors

import "time"

// SessionNotFound indicates the session ID on a request is unknown or
// was evicted.
func SessionNotFound(sessionID string) *Error {
	return New(CodeSessionNotFound, CategorySession, "session not found").
		WithMeta("sessionId", sessionID)
}

// NotInitialized indicates a request arrived before the initialize
// handshake completed.
func NotInitialized(method string) *Error {
	return Newf(CodeNotInitialized, CategorySession, "method %s called before initialize", method)
}

// MethodNotFound indicates an unrecognized request method.
func MethodNotFound(method string) *Error {
	return Newf(CodeMethodNotFound, CategoryProtocol, "method not found: %s", method)
}

// ToolNotFound indicates a call named a tool the server does not expose.
func ToolNotFound(name string) *Error {
	return Newf(CodeToolNotFound, CategoryTool, "tool not found: %s", name).
		WithMeta("tool", name)
}

// ToolFailed wraps a handler error from a named tool.
func ToolFailed(name string, cause error) *Error {
	return Wrap(cause, CodeToolFailed, CategoryTool, "tool "+name+" failed")
}

// InvalidArguments indicates tool arguments failed schema validation.
// Violations lists the individual schema errors.
func InvalidArguments(tool string, violations []string) *Error {
	return Newf(CodeInvalidArguments, CategoryValidation, "invalid arguments for tool %s", tool).
		WithMeta("violations", violations)
}

// InvalidParams indicates request params that could not be decoded or
// were semantically wrong.
func InvalidParams(method string, cause error) *Error {
	return Wrap(cause, CodeInvalidParams, CategoryValidation, "invalid params for "+method)
}

// TransportFailure wraps a low-level send/receive failure.
func TransportFailure(op string, cause error) *Error {
	return Wrap(cause, CodeTransportFailure, CategoryTransport, "transport "+op+" failed")
}

// ConnectionLost indicates the peer went away mid-session.
func ConnectionLost(cause error) *Error {
	return Wrap(cause, CodeConnectionLost, CategoryTransport, "connection lost")
}

// RequestTimeout indicates no response arrived within the deadline.
func RequestTimeout(method string, after time.Duration) *Error {
	return Newf(CodeRequestTimeout, CategoryTimeout, "request %s timed out after %s", method, after)
}

// Cancelled indicates the request was abandoned at the caller's ask.
func Cancelled(requestID string) *Error {
	return Newf(CodeCancelled, CategoryCancelled, "request %s cancelled", requestID)
}

// Unauthorized indicates missing or rejected credentials.
func Unauthorized(reason string) *Error {
	return Newf(CodeUnauthorized, CategoryAuth, "unauthorized: %s", reason)
}

// CapabilityRequired indicates the peer never negotiated the capability
// a request depends on.
func CapabilityRequired(capability string) *Error {
	return Newf(CodeCapabilityRequired, CategoryProtocol, "capability not negotiated: %s", capability).
		WithMeta("capability", capability)
}

// VersionMismatch indicates the peer proposed an unsupported protocol
// revision.
func VersionMismatch(got, want string) *Error {
	return Newf(CodeVersionMismatch, CategoryProtocol, "unsupported protocol version %s (supported: %s)", got, want)
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return Wrap(cause, CodeInternalError, CategoryInternal, "internal error")
}
