package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hualong-shen/mcp-go/pkg/client"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
	"github.com/hualong-shen/mcp-go/pkg/transport"
)

func newCallCmd() *cobra.Command {
	var (
		endpoint string
		token    string
		toolName string
		toolArgs string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call [tool]",
		Short: "Call a tool on an MCP server",
		Long: `Connects to an MCP server, lists its tools and calls one.

Without a tool name it runs a small demo: echo, add, and the simulated
text-to-image task with live progress output.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				toolName = args[0]
			}
			return runCall(cmd.Context(), endpoint, token, toolName, toolArgs, timeout)
		},
	}

	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "http://localhost:8000/mcp/v1/mcp", "server endpoint URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for authenticated servers")
	cmd.Flags().StringVarP(&toolArgs, "args", "a", "{}", "tool arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall deadline for the run")
	return cmd
}

// dialClient builds the CLI client with its notification handlers
// wired to out, connects, and starts the listener stream so
// server-initiated pushes (resource changed, sampling requested) are
// received for the whole run.
func dialClient(ctx context.Context, endpoint, token string, logger logging.Logger, out io.Writer) (*client.Client, error) {
	cfg := transport.DefaultConfig(transport.KindStreamableHTTP)
	cfg.Endpoint = endpoint
	cfg.Logger = logger
	cfg.Security.BearerToken = token
	t, err := transport.New(cfg)
	if err != nil {
		return nil, err
	}

	c := client.New(t,
		client.WithClientInfo("mcptool", version),
		client.WithLogger(logger),
		client.WithLogMessageHandler(func(p protocol.LogMessageParams) {
			fmt.Fprintf(out, "[server %s] %s\n", p.Level, p.Message)
		}),
		client.WithResourceChangedHandler(func(p protocol.ResourceChangedParams) {
			fmt.Fprintf(out, "[resource changed] %s (%s)\n", p.URI, p.Reason)
		}),
		client.WithSamplingHandler(func(p protocol.SamplingRequestParams) {
			fmt.Fprintf(out, "[sampling requested] %s\n", p.Prompt)
		}),
	)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	go func() {
		if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("listener stream ended", logging.Err(err))
		}
	}()
	return c, nil
}

func runCall(ctx context.Context, endpoint, token, toolName, toolArgs string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := logging.New(os.Stderr, nil)
	c, err := dialClient(ctx, endpoint, token, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	result, err := c.Initialize(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("connected to %s %s\n", result.ServerInfo.Name, result.ServerInfo.Version)

	tools, err := c.ListAllTools(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("server exposes %d tools:\n", len(tools))
	for _, tool := range tools {
		fmt.Printf("  %s: %s\n", tool.Name, tool.Description)
	}

	if toolName != "" {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(toolArgs), &args); err != nil {
			return fmt.Errorf("parse --args: %w", err)
		}
		return callAndPrint(ctx, c, toolName, args)
	}
	return runDemo(ctx, c)
}

func runDemo(ctx context.Context, c *client.Client) error {
	if err := callAndPrint(ctx, c, "echo", map[string]interface{}{"message": "Hello, MCP!"}); err != nil {
		return err
	}
	if err := callAndPrint(ctx, c, "add", map[string]interface{}{"a": 2, "b": 3}); err != nil {
		return err
	}
	return callAndPrint(ctx, c, "mcp_create_text_to_image_task", map[string]interface{}{
		"prompt":     "A serene mountain lake at sunset",
		"width":      512,
		"height":     512,
		"num_images": 2,
	})
}

func callAndPrint(ctx context.Context, c *client.Client, name string, args map[string]interface{}) error {
	fmt.Printf("\ncalling %s...\n", name)
	result, err := c.CallToolWithProgress(ctx, name, args, func(p protocol.ProgressParams) {
		fmt.Printf("  progress %3.0f%%: %s\n", p.Percent, p.Message)
	})
	if err != nil {
		return err
	}
	if result.IsError {
		fmt.Printf("%s failed: %s\n", name, result.Content)
		return nil
	}

	pretty, err := json.MarshalIndent(json.RawMessage(result.Content), "", "  ")
	if err != nil {
		pretty = []byte(result.Content)
	}
	fmt.Printf("%s result: %s\n", name, pretty)
	return nil
}
