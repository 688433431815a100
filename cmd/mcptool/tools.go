package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
	"github.com/hualong-shen/mcp-go/pkg/server"
)

// imageStepDelay is how long each simulated generation step takes.
// Overridden in tests.
var imageStepDelay = time.Second

// registerBuiltinTools installs the demo tool set: echo, add and a
// simulated text-to-image task that streams progress.
func registerBuiltinTools(reg *server.ToolRegistry) error {
	if err := reg.Register(protocol.Tool{
		Name:        "echo",
		Description: "Echoes back the message that was sent",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "description": "The message to echo back"}
			},
			"required": ["message"]
		}`),
	}, echoHandler); err != nil {
		return err
	}

	if err := reg.Register(protocol.Tool{
		Name:        "add",
		Description: "Adds two numbers together",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"a": {"type": "number", "description": "First number"},
				"b": {"type": "number", "description": "Second number"}
			},
			"required": ["a", "b"]
		}`),
	}, addHandler); err != nil {
		return err
	}

	return reg.Register(protocol.Tool{
		Name:        "mcp_create_text_to_image_task",
		Description: "Creates a text to image generation task and sends progress notifications",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "The prompt for image generation"},
				"width": {"type": "number", "description": "Width of the image"},
				"height": {"type": "number", "description": "Height of the image"},
				"num_images": {"type": "number", "description": "Number of images to generate"}
			},
			"required": ["prompt", "width", "height", "num_images"]
		}`),
	}, imageTaskHandler)
}

func echoHandler(ctx context.Context, tctx *server.ToolContext, args json.RawMessage) (interface{}, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return in.Message, nil
}

func addHandler(ctx context.Context, tctx *server.ToolContext, args json.RawMessage) (interface{}, error) {
	var in struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return in.A + in.B, nil
}

type generatedImage struct {
	URL    string  `json:"url"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type imageTaskResult struct {
	Images []generatedImage `json:"images"`
	Prompt string           `json:"prompt"`
}

// imageTaskHandler simulates an image generation pipeline: four work
// steps, each reporting progress, then a result listing fake image
// URLs.
func imageTaskHandler(ctx context.Context, tctx *server.ToolContext, args json.RawMessage) (interface{}, error) {
	var in struct {
		Prompt    string  `json:"prompt"`
		Width     float64 `json:"width"`
		Height    float64 `json:"height"`
		NumImages float64 `json:"num_images"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}

	count := int(in.NumImages)
	if count < 1 {
		return nil, mcperrors.InvalidArguments("mcp_create_text_to_image_task",
			[]string{"num_images must be at least 1"})
	}

	tctx.Log(protocol.LogLevelInfo, "image-task", "Starting image generation for: "+in.Prompt)

	for step := 1; step <= 4; step++ {
		select {
		case <-ctx.Done():
			return nil, mcperrors.Cancelled(tctx.OperationID)
		case <-time.After(imageStepDelay):
		}
		percent := float64(step * 25)
		tctx.ReportProgress(percent, fmt.Sprintf("Generating image: %d%% complete", step*25), step == 4)
	}

	result := imageTaskResult{Prompt: in.Prompt, Images: make([]generatedImage, 0, count)}
	for i := 0; i < count; i++ {
		result.Images = append(result.Images, generatedImage{
			URL:    fmt.Sprintf("https://example.com/images/generated_%d.png", i),
			Width:  in.Width,
			Height: in.Height,
		})
	}
	return result, nil
}
