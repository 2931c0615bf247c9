package server

import (
	"context"
	"fmt"

	"github.com/lokiorch/loki/internal/mcp"
)

// ToolHandler executes one registered tool. A returned error is folded into
// an isError result; handlers never surface as transport errors.
type ToolHandler func(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error)

type toolEntry struct {
	tool    mcp.Tool
	handler ToolHandler
}

// Registry holds the tool and resource tables. It is populated at startup
// and read-only afterwards, so concurrent request handling needs no locking.
type Registry struct {
	tools     map[string]*toolEntry
	toolOrder []string
	resources []mcp.Resource
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*toolEntry),
	}
}

// RegisterTool adds a tool. Names are the external routing key and must be
// unique per server instance.
func (r *Registry) RegisterTool(tool mcp.Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Name)
	}
	if _, ok := r.tools[tool.Name]; ok {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = &toolEntry{tool: tool, handler: handler}
	r.toolOrder = append(r.toolOrder, tool.Name)
	return nil
}

// RegisterResource adds a read-only resource descriptor.
func (r *Registry) RegisterResource(res mcp.Resource) error {
	if res.URI == "" {
		return fmt.Errorf("resource uri is required")
	}
	for _, existing := range r.resources {
		if existing.URI == res.URI {
			return fmt.Errorf("resource %s already registered", res.URI)
		}
	}
	r.resources = append(r.resources, res)
	return nil
}

// Tools returns descriptors in registration order.
func (r *Registry) Tools() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		tools = append(tools, r.tools[name].tool)
	}
	return tools
}

// Resources returns registered resource descriptors.
func (r *Registry) Resources() []mcp.Resource {
	resources := make([]mcp.Resource, len(r.resources))
	copy(resources, r.resources)
	return resources
}

func (r *Registry) lookup(name string) (*toolEntry, bool) {
	entry, ok := r.tools[name]
	return entry, ok
}
