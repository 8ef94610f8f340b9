// Package tools defines the interface every agent-facing tool implements.
package tools

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

// Tool is implemented by every tool the server registers with the agent
// runtime.
type Tool interface {
	// Definition returns the tool's definition for MCP registration.
	Definition() mcp.Tool

	// Execute runs the tool with the shared logger and cache plus the parsed
	// call arguments.
	Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error)
}

// ExtendedHelpProvider is an optional interface for tools that carry usage
// examples beyond the MCP description.
type ExtendedHelpProvider interface {
	ProvideExtendedInfo() *ExtendedHelp
}

// ExtendedHelp holds detailed usage guidance for a tool.
type ExtendedHelp struct {
	Examples         []ToolExample     `json:"examples,omitempty"`
	CommonPatterns   []string          `json:"common_patterns,omitempty"`
	ParameterDetails map[string]string `json:"parameter_details,omitempty"`
	WhenToUse        string            `json:"when_to_use,omitempty"`
	WhenNotToUse     string            `json:"when_not_to_use,omitempty"`
}

// ToolExample is one worked example of a tool call.
type ToolExample struct {
	Description    string         `json:"description"`
	Arguments      map[string]any `json:"arguments"`
	ExpectedResult string         `json:"expected_result,omitempty"`
}
