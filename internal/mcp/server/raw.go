package server

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/mcp"
)

// HandleRaw dispatches one wire-level payload: either a single JSON-RPC
// object or a batch array. Both transports (stdio lines and HTTP bodies)
// funnel through here so framing rules stay identical.
//
// The returned bytes are nil when nothing must be written back, which is
// the case for a lone notification and for an all-notification batch.
// parseErr reports that the payload was not valid JSON at all; the reply
// then carries a -32700 error.
func (s *Server) HandleRaw(ctx context.Context, data []byte) (out []byte, parseErr bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return marshalResponse(mcp.ErrParseError.Response(nil)), true
	}

	if trimmed[0] == '[' {
		return s.handleBatch(ctx, trimmed)
	}

	var req mcp.Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		log.Debug().Err(err).Msg("failed to parse request")
		return marshalResponse(mcp.ErrParseError.Response(nil)), true
	}

	resp := s.HandleRequest(ctx, &req)
	if resp == nil {
		return nil, false
	}
	return marshalResponse(resp), false
}

// handleBatch fans the elements out concurrently and collects replies in
// input order. Entries that produce no response (notifications) are
// dropped from the reply array.
func (s *Server) handleBatch(ctx context.Context, data []byte) (out []byte, parseErr bool) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return marshalResponse(mcp.ErrParseError.Response(nil)), true
	}

	responses := make([]*mcp.Response, len(elements))
	var wg sync.WaitGroup
	for i, element := range elements {
		wg.Add(1)
		go func(i int, element json.RawMessage) {
			defer wg.Done()
			var req mcp.Request
			if err := json.Unmarshal(element, &req); err != nil {
				responses[i] = mcp.ErrInvalidRequest.Response(nil)
				return
			}
			responses[i] = s.HandleRequest(ctx, &req)
		}(i, element)
	}
	wg.Wait()

	replies := make([]*mcp.Response, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			replies = append(replies, resp)
		}
	}
	if len(replies) == 0 {
		return nil, false
	}

	b, err := json.Marshal(replies)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal batch response")
		return marshalResponse(mcp.ErrInternalError.Response(nil)), false
	}
	return b, false
}

func marshalResponse(resp *mcp.Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal response")
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return b
}
