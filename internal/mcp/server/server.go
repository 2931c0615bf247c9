package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/mcp"
)

// AuthFunc gates an inbound request before dispatch. A non-nil error means
// the request is rejected; there is no silent downgrade to allow.
type AuthFunc func(req *mcp.Request) error

// Server is a stateless JSON-RPC request dispatcher over an immutable
// registry. It holds no mutable cross-request state and is safe for
// concurrent use.
type Server struct {
	info     mcp.ServerInfo
	registry *Registry
	authFn   AuthFunc
}

func New(name, version string, registry *Registry) *Server {
	return &Server{
		info:     mcp.ServerInfo{Name: name, Version: version},
		registry: registry,
	}
}

// SetAuth installs the request gate. Pass nil to disable.
func (s *Server) SetAuth(fn AuthFunc) {
	s.authFn = fn
}

// Registry exposes the underlying tool/resource tables.
func (s *Server) Registry() *Registry {
	return s.registry
}

// HandleRequest dispatches one JSON-RPC request and returns its response.
// Notifications (no id) return nil, always: the transport writes nothing
// back for them, even when handling fails.
func (s *Server) HandleRequest(ctx context.Context, req *mcp.Request) *mcp.Response {
	if req == nil {
		return mcp.ErrInvalidRequest.Response(nil)
	}

	if req.JsonRPC != mcp.JsonRPCVersion || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return mcp.ErrInvalidRequest.Response(req.ID)
	}

	if s.authFn != nil {
		if err := s.authFn(req); err != nil {
			log.Debug().Err(err).Str("method", req.Method).Msg("request rejected by auth")
			if req.IsNotification() {
				return nil
			}
			return mcp.NewErrorResponse(req.ID, mcp.ErrUnauthorized.Code, err)
		}
	}

	var resp *mcp.Response
	switch req.Method {
	case mcp.MethodInitialize:
		resp = mcp.NewResponse(req.ID, &mcp.InitializeResponse{
			ProtocolVersion: mcp.ProtocolVersion,
			Capabilities:    mcp.DefaultCapabilities,
			ServerInfo:      s.info,
		})
	case mcp.MethodInitialized:
		// Notification only; acknowledged by silence.
		return nil
	case mcp.MethodPing:
		resp = mcp.NewResponse(req.ID, struct{}{})
	case mcp.MethodToolsList:
		resp = mcp.NewResponse(req.ID, &mcp.ToolsListResponse{Tools: s.registry.Tools()})
	case mcp.MethodResourcesList:
		resp = mcp.NewResponse(req.ID, &mcp.ResourcesListResponse{Resources: s.registry.Resources()})
	case mcp.MethodToolsCall:
		resp = mcp.NewResponse(req.ID, s.toolsCall(ctx, req))
	default:
		if req.IsNotification() {
			return nil
		}
		return mcp.ErrMethodNotFound.Response(req.ID)
	}

	if req.IsNotification() {
		return nil
	}
	return resp
}

// toolsCall resolves and runs a tool. All failures here are tool-level:
// the protocol call itself succeeds and the result carries isError.
func (s *Server) toolsCall(ctx context.Context, req *mcp.Request) *mcp.ToolsCallResponse {
	callReq, err := mcp.ParseParams[mcp.ToolsCallRequest](req.Params)
	if err != nil {
		return mcp.ErrorResult("Tool name is required")
	}
	if callReq.Name == "" {
		return mcp.ErrorResult("Tool name is required")
	}

	entry, ok := s.registry.lookup(callReq.Name)
	if !ok {
		return mcp.ErrorResult(fmt.Sprintf("Unknown tool: %s", callReq.Name))
	}

	result, err := s.runHandler(ctx, entry, callReq.Arguments)
	if err != nil {
		return mcp.ErrorResult(err.Error())
	}
	if result == nil {
		return mcp.ErrorResult(fmt.Sprintf("Tool %s returned no result", callReq.Name))
	}
	return result
}

// runHandler isolates handler panics: a panicking tool must not take down
// the dispatcher serving other requests.
func (s *Server) runHandler(ctx context.Context, entry *toolEntry, args mcp.M) (result *mcp.ToolsCallResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tool", entry.tool.Name).Msg("tool handler panicked")
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", entry.tool.Name, r)
		}
	}()
	return entry.handler(ctx, args)
}
