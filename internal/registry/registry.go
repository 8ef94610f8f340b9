// Package registry holds the process-wide tool registry and the resources
// shared by every tool: the logger and an in-memory cache.
package registry

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/SaschaKiebler/ankiBot/internal/tools"
	"github.com/sirupsen/logrus"
)

var (
	// toolRegistry maps tool names to implementations.
	toolRegistry = make(map[string]tools.Tool)

	// disabledTools is the set of tool names disabled via the environment.
	disabledTools = make(map[string]bool)

	// logger is the shared logger instance.
	logger *logrus.Logger

	// cache is the shared cache instance handed to tools on execution.
	cache *sync.Map
)

// Init initialises the registry and shared resources. It must run before
// any tool package registers itself through an import side effect.
func Init(l *logrus.Logger) {
	logger = l
	cache = &sync.Map{}

	parseDisabledTools()
}

// parseDisabledTools reads the DISABLED_TOOLS environment variable, a
// comma-separated list of tool names to leave unregistered.
func parseDisabledTools() {
	disabledTools = make(map[string]bool)

	for tool := range strings.SplitSeq(os.Getenv("DISABLED_TOOLS"), ",") {
		tool = strings.TrimSpace(tool)
		if tool == "" {
			continue
		}
		disabledTools[tool] = true
		if logger != nil {
			logger.WithField("tool", tool).Debug("Tool disabled via environment variable")
		}
	}
}

// Register adds a tool implementation to the registry unless it is
// disabled.
func Register(tool tools.Tool) {
	if toolRegistry == nil {
		toolRegistry = make(map[string]tools.Tool)
	}

	name := tool.Definition().Name
	if disabledTools[name] {
		if logger != nil {
			logger.WithField("tool", name).Debug("Tool not registered (disabled)")
		}
		return
	}

	toolRegistry[name] = tool
	if logger != nil {
		logger.WithField("tool", name).Debug("Tool registered")
	}
}

// GetTool retrieves a tool by name; ok is false for unknown or disabled
// tools.
func GetTool(name string) (tools.Tool, bool) {
	if disabledTools[name] {
		return nil, false
	}
	tool, ok := toolRegistry[name]
	return tool, ok
}

// GetTools returns all registered tools, excluding disabled ones.
func GetTools() map[string]tools.Tool {
	filtered := make(map[string]tools.Tool, len(toolRegistry))
	for name, tool := range toolRegistry {
		if disabledTools[name] {
			continue
		}
		filtered[name] = tool
	}
	return filtered
}

// GetToolNames returns the names of all registered tools, sorted.
func GetToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		if disabledTools[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetLogger returns the shared logger instance.
func GetLogger() *logrus.Logger {
	return logger
}

// GetCache returns the shared cache instance.
func GetCache() *sync.Map {
	return cache
}
