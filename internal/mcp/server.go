package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/sapience/langsmith-mcp/internal/langsmith"
)

const (
	serverName      = "langsmith-mcp"
	serverVersion   = "1.0.0"
	protocolVersion = "2024-11-05"
)

// Client is the capability the dispatcher needs from the remote tracing
// service. *langsmith.Client satisfies it; tests inject a recording fake.
type Client interface {
	CreateRun(ctx context.Context, run langsmith.RunCreate) (*langsmith.Run, error)
	CreateDataset(ctx context.Context, ds langsmith.DatasetCreate) (*langsmith.Dataset, error)
	QueryRuns(ctx context.Context, q langsmith.RunQuery) ([]langsmith.Run, error)
}

// Server dispatches JSON-RPC requests to the registered tool handlers.
// Messages are processed strictly one at a time: the reply for a request is
// written before the next line is read, so replies stay paired with their
// requests on the single stdio stream.
type Server struct {
	registry *Registry
	client   Client
	config   langsmith.Config
	cache    *Cache
	in       io.Reader
	out      io.Writer
}

// NewServer creates a new MCP server instance. A nil client is allowed:
// the catalog stays available and every tool call reports that the service
// is unavailable.
func NewServer(cfg langsmith.Config, client Client) *Server {
	s := &Server{
		registry: NewRegistry(),
		client:   client,
		config:   cfg,
		cache:    NewCache(),
		in:       os.Stdin,
		out:      os.Stdout,
	}
	s.registerTools()
	return s
}

// Tools returns the static catalog, for transports that list it directly.
func (s *Server) Tools() []Tool {
	return s.registry.List()
}

// Run reads line-delimited JSON-RPC requests until end of input. Lines that
// cannot be parsed get a parse-error response when an id is recoverable from
// the raw bytes, and are dropped silently otherwise. Lines are read with a
// growable buffer: tool arguments can carry sizeable payloads (prompt
// templates, examples), and an oversized line must never kill the loop.
func (s *Server) Run() error {
	reader := bufio.NewReader(s.in)
	encoder := json.NewEncoder(s.out)

	for {
		line, readErr := reader.ReadBytes('\n')
		// A final unterminated line arrives together with EOF.
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if err := s.handleLine(trimmed, encoder); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// handleLine processes one raw request line and writes at most one response.
// Only output failures are returned; everything else is answered or dropped.
func (s *Server) handleLine(line []byte, encoder *json.Encoder) error {
	var request JSONRPCRequest
	if err := json.Unmarshal(line, &request); err != nil {
		log.Debug().Err(err).Msg("Dropping unparseable request line")
		if id := gjson.GetBytes(line, "id"); id.Exists() && id.Type != gjson.Null {
			response := &JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      id.Value(),
				Error: &JSONRPCError{
					Code:    codeParseError,
					Message: "Parse error",
					Data:    err.Error(),
				},
			}
			if err := encoder.Encode(response); err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
		}
		return nil
	}

	if request.JSONRPC != "2.0" {
		if request.ID != nil {
			response := &JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      request.ID,
				Error: &JSONRPCError{
					Code:    codeInvalidRequest,
					Message: "Invalid Request",
					Data:    "jsonrpc must be '2.0'",
				},
			}
			if err := encoder.Encode(response); err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
		}
		return nil
	}

	// Notifications (no id) are processed but never answered.
	if request.ID == nil {
		s.handleRequest(&request)
		return nil
	}

	response := s.handleRequest(&request)
	if response != nil {
		if err := encoder.Encode(response); err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
	}
	return nil
}

// handleRequest routes a single JSON-RPC request.
func (s *Server) handleRequest(request *JSONRPCRequest) *JSONRPCResponse {
	if request.Method == "" {
		if request.ID != nil {
			return &JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      request.ID,
				Error: &JSONRPCError{
					Code:    codeInvalidRequest,
					Message: "Invalid Request",
					Data:    "method is required",
				},
			}
		}
		return nil
	}

	switch request.Method {
	case "initialize":
		return s.handleInitialize(request)
	case "initialized", "notifications/initialized":
		return nil
	case "tools/list":
		return s.handleToolsList(request)
	case "tools/call":
		return s.handleToolCall(request)
	default:
		if request.ID != nil {
			return &JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      request.ID,
				Error: &JSONRPCError{
					Code:    codeMethodNotFound,
					Message: "Method not found",
				},
			}
		}
		return nil
	}
}

// handleInitialize handles the initialize request.
func (s *Server) handleInitialize(request *JSONRPCRequest) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result: InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: ServerCapabilities{
				Tools: ToolCapabilities{
					ListChanged: false,
				},
			},
			ServerInfo: ServerInfo{
				Name:    serverName,
				Version: serverVersion,
			},
		},
	}
}

// handleToolsList returns the static tool catalog.
func (s *Server) handleToolsList(request *JSONRPCRequest) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result: ToolsListResult{
			Tools: s.registry.List(),
		},
	}
}

// handleToolCall dispatches a tools/call request and wraps the result or
// error into the response envelope.
func (s *Server) handleToolCall(request *JSONRPCRequest) *JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      request.ID,
			Error: &JSONRPCError{
				Code:    codeInvalidParams,
				Message: "Invalid params",
				Data:    err.Error(),
			},
		}
	}

	result, err := s.Call(context.Background(), params.Name, params.Arguments)
	if err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      request.ID,
			Error:   toolError(params.Name, err),
		}
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      request.ID,
			Error: &JSONRPCError{
				Code:    codeRemoteError,
				Message: "Tool execution failed",
				Data:    err.Error(),
			},
		}
	}

	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result: ToolCallResult{
			Content: []Content{
				{
					Type: "text",
					Text: string(resultJSON),
				},
			},
		},
	}
}

// Call looks up a tool, validates its arguments, and invokes the handler
// under the configured timeout. Both the stdio loop and the HTTP transport
// dispatch through here. Validation happens before any remote work; an
// unconfigured client short-circuits without touching the network.
func (s *Server) Call(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, handler, ok := s.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := ValidateArguments(tool, args); err != nil {
		return nil, err
	}

	if s.client == nil {
		return nil, ErrNotConfigured
	}

	timeout := time.Duration(s.config.APITimeout) * time.Second
	if timeout <= 0 {
		timeout = langsmith.DefaultTimeout * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().
		Str("component", "dispatcher").
		Str("tool", name).
		Msg("Invoking tool handler")

	return handler(ctx, args)
}

// toolError maps a dispatch failure to its JSON-RPC error.
func toolError(name string, err error) *JSONRPCError {
	switch {
	case errors.Is(err, ErrToolNotFound):
		return &JSONRPCError{
			Code:    codeMethodNotFound,
			Message: "Tool not found",
			Data:    err.Error(),
		}
	case errors.Is(err, ErrInvalidArguments):
		return &JSONRPCError{
			Code:    codeInvalidParams,
			Message: "Invalid params",
			Data:    err.Error(),
		}
	case errors.Is(err, ErrNotConfigured):
		return &JSONRPCError{
			Code:    codeUnavailable,
			Message: "Service unavailable",
			Data:    err.Error(),
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &JSONRPCError{
			Code:    codeRemoteTimeout,
			Message: "Remote call timed out",
			Data:    fmt.Sprintf("tool %q did not complete in time", name),
		}
	default:
		return &JSONRPCError{
			Code:    codeRemoteError,
			Message: "Tool execution failed",
			Data:    fmt.Sprintf("tool %q: %s", name, err.Error()),
		}
	}
}
