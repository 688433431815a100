package protocol

import "encoding/json"

// Tool is a static descriptor for an invocable server operation. The
// input schema is kept as raw JSON Schema so the server can validate
// arguments with it and the client can render it without interpretation.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsParams requests the tool catalog. Cursor continues a prior
// truncated listing; empty means start from the beginning.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is one page of the tool catalog. NextCursor is empty
// on the last page.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams invokes a tool by name with JSON arguments.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult carries a tool's return value. Tool-level failures
// (unknown tool, argument validation, handler errors) set IsError and put
// the message in Content; they are results, not protocol errors, so the
// session stays usable.
type CallToolResult struct {
	Content     json.RawMessage `json:"content,omitempty"`
	IsError     bool            `json:"isError,omitempty"`
	OperationID string          `json:"operationId,omitempty"`
}

// ErrorResult builds a CallToolResult holding a plain error message.
func ErrorResult(message string) *CallToolResult {
	raw, _ := json.Marshal(message)
	return &CallToolResult{Content: raw, IsError: true}
}

// ToolsChangedParams announces catalog changes to connected clients.
type ToolsChangedParams struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}
