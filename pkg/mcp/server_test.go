package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBlockflowServer(t *testing.T) {
	s := NewBlockflowServer(BlockflowServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s := NewBlockflowServer(BlockflowServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"blockflow.run",
		"blockflow.status",
		"blockflow.cancel",
		"blockflow.validate",
		"blockflow.runs",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "blockflow.run", "Execute a workflow definition"},
		{"status", "blockflow.status", "Get the status of a workflow run"},
		{"cancel", "blockflow.cancel", "Cancel an active workflow run"},
		{"validate", "blockflow.validate", "Statically validate a workflow definition without running it"},
		{"runs", "blockflow.runs", "List workflow runs"},
	}

	s := NewBlockflowServer(BlockflowServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
