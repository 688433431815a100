package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/pagination"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
)

// ToolsProvider supplies the tools a server exposes.
type ToolsProvider interface {
	// ListTools returns one page of tool descriptors, starting after
	// cursor when it is non-empty.
	ListTools(ctx context.Context, cursor string) (*protocol.ListToolsResult, error)
	// CallTool runs the named tool. Failures that the caller should see
	// as a tool-level error result (not a protocol error) come back as
	// errors in the tool or validation categories.
	CallTool(ctx context.Context, tctx *ToolContext, name string, args json.RawMessage) (*protocol.CallToolResult, error)
}

// ToolContext is handed to tool handlers so long-running tools can
// stream progress and log lines back to the caller.
type ToolContext struct {
	// OperationID names this invocation in progress notifications.
	OperationID string

	mu          sync.Mutex
	lastPercent float64
	notify      func(method string, params interface{})
}

// NewToolContext builds a context that routes progress through notify.
// A nil notify discards everything, which keeps handlers callable from
// plain unit tests.
func NewToolContext(operationID string, notify func(method string, params interface{})) *ToolContext {
	return &ToolContext{OperationID: operationID, notify: notify}
}

// ReportProgress emits a progress notification. Percent is clamped to
// [0,100] and must not regress; stale updates are dropped so observers
// always see a monotonic sequence.
func (tc *ToolContext) ReportProgress(percent float64, message string, done bool) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	tc.mu.Lock()
	if percent < tc.lastPercent {
		tc.mu.Unlock()
		return
	}
	tc.lastPercent = percent
	notify := tc.notify
	tc.mu.Unlock()

	if notify == nil {
		return
	}
	notify(protocol.MethodProgress, protocol.ProgressParams{
		OperationID: tc.OperationID,
		Percent:     percent,
		Message:     message,
		Done:        done,
	})
}

// Log emits a log-message notification attributed to the tool.
func (tc *ToolContext) Log(level protocol.LogLevel, logger, message string) {
	tc.mu.Lock()
	notify := tc.notify
	tc.mu.Unlock()
	if notify == nil {
		return
	}
	notify(protocol.MethodLogMessage, protocol.LogMessageParams{
		Level:   level,
		Logger:  logger,
		Message: message,
	})
}

// ToolHandler implements one tool. The returned value is marshaled into
// the call result's content.
type ToolHandler func(ctx context.Context, tctx *ToolContext, args json.RawMessage) (interface{}, error)

type registeredTool struct {
	tool    protocol.Tool
	handler ToolHandler
	schema  *gojsonschema.Schema
}

// ToolRegistry is the in-memory ToolsProvider: a lookup table of
// registered tools with JSON Schema argument validation.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]*registeredTool
	names    []string
	pageSize int
	logger   logging.Logger
	onChange func(added, removed []string)
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger logging.Logger) *ToolRegistry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ToolRegistry{
		tools:    make(map[string]*registeredTool),
		pageSize: pagination.DefaultPageSize,
		logger:   logger.Named("tools"),
	}
}

// SetPageSize overrides the tools/list page size. Out-of-range values
// are clamped.
func (r *ToolRegistry) SetPageSize(size int) {
	r.mu.Lock()
	r.pageSize = pagination.ClampPageSize(size)
	r.mu.Unlock()
}

// OnChange installs a callback invoked after every Register and
// Unregister, so servers can push tools-changed notifications.
func (r *ToolRegistry) OnChange(fn func(added, removed []string)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds a tool. The input schema is compiled up front so a
// malformed schema fails registration, not the first call.
func (r *ToolRegistry) Register(tool protocol.Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return mcperrors.New(mcperrors.CodeInvalidParams, mcperrors.CategoryValidation, "tool name is required")
	}
	if handler == nil {
		return mcperrors.Newf(mcperrors.CodeInvalidParams, mcperrors.CategoryValidation,
			"tool %s has no handler", tool.Name)
	}

	var schema *gojsonschema.Schema
	if len(tool.InputSchema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema))
		if err != nil {
			return mcperrors.Wrap(err, mcperrors.CodeInvalidParams, mcperrors.CategoryValidation,
				fmt.Sprintf("tool %s has an invalid input schema", tool.Name))
		}
		schema = compiled
	}

	r.mu.Lock()
	if _, exists := r.tools[tool.Name]; exists {
		r.mu.Unlock()
		return mcperrors.Newf(mcperrors.CodeInvalidParams, mcperrors.CategoryValidation,
			"tool %s is already registered", tool.Name)
	}
	r.tools[tool.Name] = &registeredTool{tool: tool, handler: handler, schema: schema}
	r.names = append(r.names, tool.Name)
	sort.Strings(r.names)
	onChange := r.onChange
	r.mu.Unlock()

	r.logger.Debug("tool registered", logging.String("tool", tool.Name))
	if onChange != nil {
		onChange([]string{tool.Name}, nil)
	}
	return nil
}

// Unregister removes a tool, if present.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	if _, exists := r.tools[name]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.tools, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(nil, []string{name})
	}
}

// ListTools implements ToolsProvider with cursor pagination over the
// sorted tool names. Cursors are opaque tokens wrapping the last name
// of the previous page.
func (r *ToolRegistry) ListTools(ctx context.Context, cursor string) (*protocol.ListToolsResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if cursor != "" {
		after, err := pagination.DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(r.names, after)
		if start < len(r.names) && r.names[start] == after {
			start++
		}
	}

	end := start + r.pageSize
	if end > len(r.names) {
		end = len(r.names)
	}

	result := &protocol.ListToolsResult{Tools: make([]protocol.Tool, 0, end-start)}
	for _, name := range r.names[start:end] {
		result.Tools = append(result.Tools, r.tools[name].tool)
	}
	if end < len(r.names) {
		result.NextCursor = pagination.EncodeCursor(r.names[end-1])
	}
	return result, nil
}

// CallTool implements ToolsProvider: look the tool up, validate the
// arguments against its schema, run the handler.
func (r *ToolRegistry) CallTool(ctx context.Context, tctx *ToolContext, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, mcperrors.ToolNotFound(name)
	}

	if entry.schema != nil {
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		check, err := entry.schema.Validate(gojsonschema.NewBytesLoader(args))
		if err != nil {
			return nil, mcperrors.InvalidArguments(name, []string{err.Error()})
		}
		if !check.Valid() {
			violations := make([]string, 0, len(check.Errors()))
			for _, desc := range check.Errors() {
				violations = append(violations, desc.String())
			}
			return nil, mcperrors.InvalidArguments(name, violations)
		}
	}

	value, err := r.runHandler(ctx, tctx, entry, args)
	if err != nil {
		return nil, err
	}

	content, err := json.Marshal(value)
	if err != nil {
		return nil, mcperrors.Wrap(err, mcperrors.CodeInternalError, mcperrors.CategoryInternal,
			fmt.Sprintf("marshal result of %s", name))
	}
	return &protocol.CallToolResult{Content: content, OperationID: tctx.OperationID}, nil
}

// runHandler isolates handler panics so a broken tool cannot take down
// the session.
func (r *ToolRegistry) runHandler(ctx context.Context, tctx *ToolContext, entry *registeredTool, args json.RawMessage) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				logging.String("tool", entry.tool.Name),
				logging.Any("panic", rec))
			err = mcperrors.ToolFailed(entry.tool.Name, fmt.Errorf("panic: %v", rec))
		}
	}()

	value, err = entry.handler(ctx, tctx, args)
	if err != nil {
		if mcperrors.IsCategory(err, mcperrors.CategoryCancelled) ||
			mcperrors.IsCategory(err, mcperrors.CategoryValidation) {
			return nil, err
		}
		return nil, mcperrors.ToolFailed(entry.tool.Name, err)
	}
	return value, nil
}
