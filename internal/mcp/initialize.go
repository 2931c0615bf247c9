package mcp

import (
	"encoding/json"
)

const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodPing        = "ping"
	ProtocolVersion   = "2024-11-05"
)

//	{
//		"method": "initialize",
//		"params": {
//		  "protocolVersion": "2024-11-05",
//		  "capabilities": {},
//		  "clientInfo": {
//			"name": "loki",
//			"version": "0.0.1"
//		  }
//		},
//		"jsonrpc": "2.0",
//		"id": 0
//	  }
type InitializeRequest struct {
	ProtocolVersion string      `json:"protocolVersion"`
	Capabilities    M           `json:"capabilities"`
	ClientInfo      *ClientInfo `json:"clientInfo"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

//	{
//		"jsonrpc": "2.0",
//		"id": 0,
//		"result": {
//		  "protocolVersion": "2024-11-05",
//		  "capabilities": {
//			"resources": {
//			  "subscribe": false,
//			  "listChanged": false
//			},
//			"tools": {
//			  "listChanged": false
//			}
//		  },
//		  "serverInfo": {
//			"name": "loki",
//			"version": "0.0.1"
//		  }
//		}
//	  }
type InitializeResponse struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    M          `json:"capabilities"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

var DefaultCapabilities = M{
	"resources": M{"subscribe": false, "listChanged": false},
	"tools":     M{"listChanged": false},
}

// ToolsListResponse
//
//	{
//		"jsonrpc": "2.0",
//		"id": 1,
//		"result": { "tools": [ ... ] }
//	}
type ToolsListResponse struct {
	Tools []Tool `json:"tools"`
}

type ResourcesListResponse struct {
	Resources []Resource `json:"resources"`
}

// ParseParams re-decodes a loosely typed params value into a concrete shape.
func ParseParams[T any](params interface{}) (*T, error) {
	if params == nil {
		return nil, ErrInvalidParams
	}

	jsonData, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(jsonData, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
