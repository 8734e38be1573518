package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

var testRuntime = action.UseRuntime(action.NewRuntime(action.WithLogger(logging.NewNop())))

type catalog []action.Invoker

func (c catalog) Invokers() []action.Invoker { return c }

type addInput struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func testActions() catalog {
	add := action.Handler(
		action.New(testRuntime).Name("math.add").Describe("Add two numbers").Input(schema.For[addInput]()),
		func(_ context.Context, req action.Request[addInput, action.NoContext]) (map[string]float64, error) {
			return map[string]float64{"sum": req.Input.A + req.Input.B}, nil
		})
	ping := action.Handler(action.New(testRuntime).Name("ping"),
		func(context.Context, action.Request[action.NoInput, action.NoContext]) (string, error) {
			return "pong", nil
		})
	return catalog{add, ping}
}

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.MCPServer())
	assert.NotNil(t, s.logger)
	assert.Empty(t, s.MCPServer().ListTools())
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{Actions: testActions(), Logger: logging.NewNop()})

	tools := s.MCPServer().ListTools()
	require.Len(t, tools, 2)

	add := s.MCPServer().GetTool("math.add")
	require.NotNil(t, add)
	assert.Equal(t, "Add two numbers", add.Tool.Description)

	var inputSchema map[string]any
	require.NoError(t, json.Unmarshal(add.Tool.RawInputSchema, &inputSchema))
	assert.Contains(t, inputSchema["properties"], "a")

	ping := s.MCPServer().GetTool("ping")
	require.NotNil(t, ping)
	assert.JSONEq(t, `{"type":"object"}`, string(ping.Tool.RawInputSchema))

	assert.Nil(t, s.MCPServer().GetTool(HistoryToolName), "history needs a store")
}

func TestHTTPHandler(t *testing.T) {
	s := NewServer(ServerDeps{Actions: testActions(), Logger: logging.NewNop()})
	assert.NotNil(t, s.HTTPHandler())
}
