// Package mcp exposes the imagery catalog and the purchase/authentication
// flows to tool-calling agents over a stdio JSON-RPC 2.0 server.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/auth"
	"github.com/skygate-io/skygate/pkg/budget"
	"github.com/skygate-io/skygate/pkg/models"
	"github.com/skygate-io/skygate/pkg/order"
)

// Searcher queries the upstream archive catalog.
type Searcher interface {
	SearchArchives(ctx context.Context, apiKey string, req models.SearchRequest) ([]models.Archive, error)
}

// History reads the placed-order audit log.
type History interface {
	List(ctx context.Context, limit int) ([]models.OrderRecord, error)
}

// Deps are the collaborators behind the tool surface.
type Deps struct {
	Auth     *auth.Broker
	Sessions *auth.Sessions
	Orders   *order.Broker
	Guard    *budget.Guard
	Search   Searcher
	History  History
	Logger   pslog.Logger
	Version  string
	// SessionID is this server instance's own session. A stdio MCP server
	// hosts one agent session per process; tools accept an explicit
	// session_id but default to this one.
	SessionID string
}

// Server is a minimal MCP server over stdio.
type Server struct {
	deps Deps
}

// New creates an MCP Server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// session resolves an optional explicit session id to this instance's own.
func (s *Server) session(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.deps.SessionID
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to
// w. It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			// notification, no response
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
		}
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: InitializeResult{
			ProtocolVersion: "2024-11-05",
			ServerInfo:      ServerInfo{Name: "skygate", Version: s.deps.Version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		},
	}
}

func (s *Server) handleToolsList(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  ToolsListResult{Tools: allTools},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeInvalidParams, Message: "invalid params"},
		}
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: ToolCallResult{
				Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", params.Name)}},
				IsError: true,
			},
		}
	}

	result := handler(ctx, s, params.Arguments)
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.deps.Logger.Error("mcp.marshal", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.deps.Logger.Error("mcp.write", "error", err)
	}
}
