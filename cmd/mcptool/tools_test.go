package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hualong-shen/mcp-go/pkg/protocol"
	"github.com/hualong-shen/mcp-go/pkg/server"
)

func builtinRegistry(t *testing.T) *server.ToolRegistry {
	t.Helper()
	reg := server.NewToolRegistry(nil)
	require.NoError(t, registerBuiltinTools(reg))
	return reg
}

func TestEchoToolReturnsMessage(t *testing.T) {
	reg := builtinRegistry(t)

	result, err := reg.CallTool(context.Background(), server.NewToolContext("op", nil),
		"echo", json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)

	var echoed string
	require.NoError(t, json.Unmarshal(result.Content, &echoed))
	assert.Equal(t, "hi", echoed)
}

func TestAddToolSums(t *testing.T) {
	reg := builtinRegistry(t)

	result, err := reg.CallTool(context.Background(), server.NewToolContext("op", nil),
		"add", json.RawMessage(`{"a":2,"b":3}`))
	require.NoError(t, err)

	var sum float64
	require.NoError(t, json.Unmarshal(result.Content, &sum))
	assert.Equal(t, float64(5), sum)
}

func TestImageTaskResultShape(t *testing.T) {
	old := imageStepDelay
	imageStepDelay = time.Millisecond
	defer func() { imageStepDelay = old }()

	reg := builtinRegistry(t)

	var percents []float64
	tctx := server.NewToolContext("op-img", func(method string, params interface{}) {
		if p, ok := params.(protocol.ProgressParams); ok {
			percents = append(percents, p.Percent)
		}
	})

	result, err := reg.CallTool(context.Background(), tctx,
		"mcp_create_text_to_image_task",
		json.RawMessage(`{"prompt":"a red balloon","width":512,"height":256,"num_images":2}`))
	require.NoError(t, err)

	var out imageTaskResult
	require.NoError(t, json.Unmarshal(result.Content, &out))
	assert.Equal(t, "a red balloon", out.Prompt)
	require.Len(t, out.Images, 2)
	assert.Equal(t, "https://example.com/images/generated_0.png", out.Images[0].URL)
	assert.Equal(t, float64(512), out.Images[0].Width)
	assert.Equal(t, float64(256), out.Images[0].Height)

	assert.Equal(t, []float64{25, 50, 75, 100}, percents)
}

func TestImageTaskRejectsZeroImages(t *testing.T) {
	old := imageStepDelay
	imageStepDelay = time.Millisecond
	defer func() { imageStepDelay = old }()

	reg := builtinRegistry(t)

	result, err := reg.CallTool(context.Background(), server.NewToolContext("op", nil),
		"mcp_create_text_to_image_task",
		json.RawMessage(`{"prompt":"p","width":1,"height":1,"num_images":0}`))
	assert.Nil(t, result)
	assert.Error(t, err)
}

func TestImageTaskHonorsCancellation(t *testing.T) {
	old := imageStepDelay
	imageStepDelay = time.Hour
	defer func() { imageStepDelay = old }()

	reg := builtinRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := reg.CallTool(ctx, server.NewToolContext("op", nil),
			"mcp_create_text_to_image_task",
			json.RawMessage(`{"prompt":"p","width":1,"height":1,"num_images":1}`))
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled call did not return")
	}
}

func TestSchemaRejectsMissingPrompt(t *testing.T) {
	reg := builtinRegistry(t)

	_, err := reg.CallTool(context.Background(), server.NewToolContext("op", nil),
		"mcp_create_text_to_image_task",
		json.RawMessage(`{"width":512,"height":512,"num_images":1}`))
	assert.Error(t, err)
}
