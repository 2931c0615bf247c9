package mcp

// Document: https://modelcontextprotocol.io/docs/concepts/tools

const (
	// Client => Server
	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
)

// Tool
//
//	{
//		name: string;          // Unique identifier for the tool
//		description?: string;  // Human-readable description
//		inputSchema: {         // JSON Schema for the tool's parameters
//			type: "object",
//			properties: { ... }  // Tool-specific parameters
//		}
//	}
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	InputSchema ToolSchema `json:"inputSchema"`
}

type ToolSchema struct {
	Type       string   `json:"type"`
	Properties M        `json:"properties"`
	Required   []string `json:"required,omitempty"`
}

//	{
//		"method": "tools/call",
//		"params": {
//		  "name": "echo",
//		  "arguments": {
//			"text": "hello"
//		  }
//		},
//		"jsonrpc": "2.0",
//		"id": 3
//	  }
type ToolsCallRequest struct {
	Name      string `json:"name"`
	Arguments M      `json:"arguments"`
	Meta      M      `json:"_meta,omitempty"`
}

//	{
//		"jsonrpc": "2.0",
//		"id": 2,
//		"result": {
//		  "content": [
//			{
//			  "type": "text",
//			  "text": "hello"
//			}
//		  ],
//		  "isError": false
//		}
//	  }
//
// Tool failures travel inside the result with isError set, never as a
// transport-level error, so callers can always tell "the tool failed"
// apart from "the protocol is broken".
type ToolsCallResponse struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextResult builds a plain text tool result.
func TextResult(text string) *ToolsCallResponse {
	return &ToolsCallResponse{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// ErrorResult builds a tool-level failure result.
func ErrorResult(text string) *ToolsCallResponse {
	return &ToolsCallResponse{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
	}
}
