// Package errors defines the typed error taxonomy shared by the client,
// server and transport packages. Every error carries a JSON-RPC error
// code and a category so callers can branch on kind without string
// matching, and so the server can turn any error into a well-formed
// protocol error object.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category classifies errors for handling and metrics labels.
type Category string

const (
	CategoryProtocol   Category = "protocol"
	CategoryValidation Category = "validation"
	CategoryTool       Category = "tool"
	CategoryTransport  Category = "transport"
	CategorySession    Category = "session"
	CategoryAuth       Category = "auth"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
	CategoryInternal   Category = "internal"
)

// Error is the concrete error type used throughout the module.
type Error struct {
	code     int
	category Category
	message  string
	detail   string
	meta     map[string]interface{}
	cause    error
}

// New creates an Error with the given code, category and message.
func New(code int, category Category, message string) *Error {
	return &Error{code: code, category: category, message: message}
}

// Newf is New with a formatted message.
func Newf(code int, category Category, format string, args ...interface{}) *Error {
	return &Error{code: code, category: category, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new Error. The cause stays reachable
// through errors.Unwrap / errors.Is.
func Wrap(cause error, code int, category Category, message string) *Error {
	return &Error{code: code, category: category, message: message, cause: cause}
}

func (e *Error) Error() string {
	msg := e.message
	if e.detail != "" {
		msg = msg + ": " + e.detail
	}
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	return msg
}

// Code returns the JSON-RPC error code.
func (e *Error) Code() int { return e.code }

// Category returns the error's classification.
func (e *Error) Category() Category { return e.category }

// Message returns the message without detail or cause.
func (e *Error) Message() string { return e.message }

// Detail returns the attached detail string, if any.
func (e *Error) Detail() string { return e.detail }

// Meta returns structured data attached to the error. May be nil.
func (e *Error) Meta() map[string]interface{} { return e.meta }

// Unwrap exposes the cause for the errors package helpers.
func (e *Error) Unwrap() error { return e.cause }

// WithDetail returns a copy carrying an extra human-readable detail.
func (e *Error) WithDetail(detail string) *Error {
	clone := *e
	if clone.detail != "" {
		clone.detail = clone.detail + "; " + detail
	} else {
		clone.detail = detail
	}
	return &clone
}

// WithMeta returns a copy carrying a structured key/value pair, for
// inclusion in the protocol error data member.
func (e *Error) WithMeta(key string, value interface{}) *Error {
	clone := *e
	clone.meta = make(map[string]interface{}, len(e.meta)+1)
	for k, v := range e.meta {
		clone.meta[k] = v
	}
	clone.meta[key] = value
	return &clone
}

// CodeOf extracts the JSON-RPC code from an error chain. Errors outside
// this taxonomy map to CodeInternalError.
func CodeOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code
	}
	return CodeInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code int) bool {
	var e *Error
	return stderrors.As(err, &e) && e.code == code
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, category Category) bool {
	var e *Error
	return stderrors.As(err, &e) && e.category == category
}
