// Package tools builds the reference tool and resource registry exposed
// when loki runs as a peer server.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lokiorch/loki/internal/loki/session"
	"github.com/lokiorch/loki/internal/mcp"
	"github.com/lokiorch/loki/internal/mcp/server"
	"github.com/lokiorch/loki/pkg/util"
	"github.com/lokiorch/loki/pkg/version"
)

var ToolEcho = mcp.Tool{
	Name:        "echo",
	Description: "Echo the given text back to the caller.",
	InputSchema: mcp.ToolSchema{
		Type: "object",
		Properties: mcp.M{
			"text": mcp.M{"type": "string", "description": "Text to echo back"},
		},
		Required: []string{"text"},
	},
}

var ToolCurrentTime = mcp.Tool{
	Name:        "current_time",
	Description: "Get the current local time in RFC3339 format.",
	InputSchema: mcp.ToolSchema{
		Type:       "object",
		Properties: mcp.M{},
	},
}

var ToolSessionGet = mcp.Tool{
	Name:        "session_get",
	Description: "Read a value from the persistent session state.",
	InputSchema: mcp.ToolSchema{
		Type: "object",
		Properties: mcp.M{
			"key": mcp.M{"type": "string", "description": "State key to read"},
		},
		Required: []string{"key"},
	},
}

var ToolSessionSet = mcp.Tool{
	Name:        "session_set",
	Description: "Write a value into the persistent session state.",
	InputSchema: mcp.ToolSchema{
		Type: "object",
		Properties: mcp.M{
			"key":   mcp.M{"type": "string", "description": "State key to write"},
			"value": mcp.M{"description": "Value to store"},
		},
		Required: []string{"key", "value"},
	},
}

var ToolWorkspaceInfo = mcp.Tool{
	Name:        "workspace_info",
	Description: "Describe the workspace: working directory, version, session entry count.",
	InputSchema: mcp.ToolSchema{
		Type:       "object",
		Properties: mcp.M{},
	},
}

var ResourceStatus = mcp.Resource{
	URI:         "loki://status",
	Name:        "Orchestrator status",
	Description: "Version and runtime information",
	MimeType:    "application/json",
}

var ResourceSessionState = mcp.Resource{
	URI:         "session://state",
	Name:        "Session state",
	Description: "Full persistent session state as JSON",
	MimeType:    "application/json",
}

// BuildRegistry wires the reference tool set over the session store.
func BuildRegistry(store *session.Store) (*server.Registry, error) {
	registry := server.NewRegistry()

	register := []struct {
		tool    mcp.Tool
		handler server.ToolHandler
	}{
		{ToolEcho, echoHandler},
		{ToolCurrentTime, currentTimeHandler},
		{ToolSessionGet, sessionGetHandler(store)},
		{ToolSessionSet, sessionSetHandler(store)},
		{ToolWorkspaceInfo, workspaceInfoHandler(store)},
	}
	for _, r := range register {
		if err := registry.RegisterTool(r.tool, r.handler); err != nil {
			return nil, err
		}
	}

	if err := registry.RegisterResource(ResourceStatus); err != nil {
		return nil, err
	}
	if err := registry.RegisterResource(ResourceSessionState); err != nil {
		return nil, err
	}
	return registry, nil
}

func echoHandler(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error) {
	text, ok := args["text"].(string)
	if !ok {
		return mcp.ErrorResult("echo requires a text argument"), nil
	}
	return mcp.TextResult(text), nil
}

func currentTimeHandler(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error) {
	return mcp.TextResult(time.Now().Local().Format(time.RFC3339)), nil
}

func sessionGetHandler(store *session.Store) server.ToolHandler {
	return func(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error) {
		key := util.AnyToString(args["key"])
		if key == "" {
			return mcp.ErrorResult("session_get requires a key argument"), nil
		}
		value, ok := store.Get(key)
		if !ok {
			return mcp.ErrorResult(fmt.Sprintf("no session value for key: %s", key)), nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return mcp.ErrorResult(fmt.Sprintf("unserializable session value for key: %s", key)), nil
		}
		return mcp.TextResult(string(b)), nil
	}
}

func sessionSetHandler(store *session.Store) server.ToolHandler {
	return func(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error) {
		key := util.AnyToString(args["key"])
		if key == "" {
			return mcp.ErrorResult("session_set requires a key argument"), nil
		}
		value, ok := args["value"]
		if !ok {
			return mcp.ErrorResult("session_set requires a value argument"), nil
		}
		if err := store.Set(key, value); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("failed to persist session state: %v", err)), nil
		}
		return mcp.TextResult("ok"), nil
	}
}

func workspaceInfoHandler(store *session.Store) server.ToolHandler {
	return func(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error) {
		wd, _ := os.Getwd()
		info := mcp.M{
			"workingDir":     wd,
			"version":        version.Version,
			"sessionEntries": len(store.Snapshot()),
		}
		b, err := json.Marshal(info)
		if err != nil {
			return mcp.ErrorResult("failed to serialize workspace info"), nil
		}
		return mcp.TextResult(string(b)), nil
	}
}
