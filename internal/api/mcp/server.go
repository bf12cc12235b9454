package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/scrypster/claimbridge/internal/draft"
	"github.com/scrypster/claimbridge/internal/reqctx"
)

// toolNames is the closed set of tool names this server dispatches on. It
// must stay in sync with buildToolsList and the handleToolsCall switch.
var toolNames = []string{
	"execute-raw", "read",
	"draft.new", "draft.edit", "draft.patch", "draft.save", "draft.cancel",
	"draft.getAdminData", "draft.addChild",
}

// Server implements the Model Context Protocol (MCP) for ClaimBridge.
// It provides JSON-RPC 2.0 based tools for AI assistants to read and edit
// claims data through the draft mediation layer.
type Server struct {
	mediator  *draft.Mediator
	identity  reqctx.Identity
	limiter   *rate.Limiter
	sessionID string // unique ID generated once per MCP server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithIdentity sets the request identity stamped onto every tool call's
// context. When not provided, tool calls run as the system identity.
func WithIdentity(id reqctx.Identity) ServerOption {
	return func(s *Server) {
		s.identity = id
	}
}

// WithRateLimit throttles tool calls to the given sustained rate with the
// given burst. Zero or negative values disable throttling.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewServer creates a new MCP server instance on top of the mediation layer.
func NewServer(m *draft.Mediator, opts ...ServerOption) *Server {
	s := &Server{
		mediator:  m,
		identity:  reqctx.System,
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Printf("claimbridge-mcp: session ID: %s", s.sessionID)
	return s
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized":
		// Notification; no response body required, return an empty object.
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}

	return s.successResponse(req.ID, result)
}

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "claimbridge",
			Version: "1.0.0",
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the matching draft verb
// and wraps the outcome in the MCP content envelope. Handler errors are
// reported as tool-level errors (IsError: true), not JSON-RPC failures, so
// the calling agent can read the message and self-correct.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	ctx = reqctx.With(ctx, s.identity)

	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}

	var env draft.Envelope
	var handlerErr error

	switch p.Name {
	case "execute-raw":
		env, handlerErr = s.callExecuteRaw(ctx, argsJSON)
	case "read":
		env, handlerErr = s.callRead(ctx, argsJSON)
	case "draft.new":
		env, handlerErr = s.callDraft(ctx, argsJSON, s.mediator.New)
	case "draft.edit":
		env, handlerErr = s.callDraft(ctx, argsJSON, s.mediator.Edit)
	case "draft.patch":
		env, handlerErr = s.callDraft(ctx, argsJSON, s.mediator.Patch)
	case "draft.save":
		env, handlerErr = s.callDraft(ctx, argsJSON, s.mediator.Save)
	case "draft.cancel":
		env, handlerErr = s.callDraft(ctx, argsJSON, s.mediator.Cancel)
	case "draft.getAdminData":
		env, handlerErr = s.callGetAdminData(ctx, argsJSON)
	case "draft.addChild":
		env, handlerErr = s.callAddChild(ctx, argsJSON)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s (supported tools: %s)", p.Name, strings.Join(toolNames, ", "))}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

func (s *Server) callExecuteRaw(ctx context.Context, argsJSON []byte) (draft.Envelope, error) {
	var args ExecuteRawArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return draft.Envelope{}, fmt.Errorf("execute-raw: invalid arguments: %w", err)
	}
	return s.mediator.ExecuteRaw(ctx, args.SQL, args.Params, args.AllowWrite)
}

func (s *Server) callRead(ctx context.Context, argsJSON []byte) (draft.Envelope, error) {
	var args ReadArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return draft.Envelope{}, fmt.Errorf("read: invalid arguments: %w", err)
	}
	return s.mediator.Read(ctx, draft.ReadRequest{
		Entity:  args.Entity,
		Columns: args.Columns,
		Where:   args.Where,
		Limit:   args.Limit,
		Offset:  args.Offset,
		Draft:   args.Draft,
	})
}

// callDraft handles the verbs that share the entity + raw-argument-bag shape.
func (s *Server) callDraft(ctx context.Context, argsJSON []byte, verb func(context.Context, string, map[string]interface{}) (draft.Envelope, error)) (draft.Envelope, error) {
	var args DraftArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return draft.Envelope{}, fmt.Errorf("invalid arguments: %w", err)
	}
	return verb(ctx, args.Entity, args.Extra)
}

func (s *Server) callGetAdminData(ctx context.Context, argsJSON []byte) (draft.Envelope, error) {
	var args DraftArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return draft.Envelope{}, fmt.Errorf("draft.getAdminData: invalid arguments: %w", err)
	}
	return s.mediator.AdminData(ctx, args.Entity, args.Columns, args.Extra)
}

func (s *Server) callAddChild(ctx context.Context, argsJSON []byte) (draft.Envelope, error) {
	var args DraftArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return draft.Envelope{}, fmt.Errorf("draft.addChild: invalid arguments: %w", err)
	}
	return s.mediator.AddChild(ctx, args.Entity, args.Child, args.AllEntries(), args.Extra)
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	entityList := fmt.Sprintf("Known entities: %v.", s.mediator.Model().Names())

	keysProp := map[string]interface{}{"type": "object", "description": "Explicit key fields (ID, DraftUUID, IsActiveEntity). Takes priority over flat top-level key fields."}
	entityProp := map[string]interface{}{"type": "string", "description": "Entity name (required). " + entityList}

	return []MCPTool{
		{
			Name:        "execute-raw",
			Description: "Execute a raw SQL statement against the claims database. Read-only by default: only SELECT/WITH/SHOW/EXPLAIN are accepted unless allowWrite is true. Prefer the structured read and draft.* tools; this is an escape hatch for diagnostics.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"sql"},
				"properties": map[string]interface{}{
					"sql":        map[string]interface{}{"type": "string", "description": "SQL statement to execute (required)"},
					"params":     map[string]interface{}{"type": "array", "description": "Positional bind parameters"},
					"allowWrite": map[string]interface{}{"type": "boolean", "description": "Permit write statements (default: false)"},
				},
			},
		},
		{
			Name:        "read",
			Description: "Read entity rows with optional filters. draft=merged (default) returns whatever live rows match, draft=active returns only activated records, draft=draft returns open draft rows. Results are capped at 200 rows unless a limit is given. " + entityList,
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity"},
				"properties": map[string]interface{}{
					"entity":  entityProp,
					"columns": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Columns to return; omit for all"},
					"where":   map[string]interface{}{"type": "object", "description": "Equality filters, AND-combined"},
					"limit":   map[string]interface{}{"type": "integer", "description": "Max rows (default 200)"},
					"offset":  map[string]interface{}{"type": "integer", "description": "Rows to skip"},
					"draft":   map[string]interface{}{"type": "string", "description": "Visibility mode: merged, active, or draft"},
				},
			},
		},
		{
			Name:        "draft.new",
			Description: "Create a fresh draft for a draft-enabled entity. Domain defaults (e.g. status, currency) are applied automatically; pass data to override or extend them. Returns the complete draft row including its generated ID and DraftUUID.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity"},
				"properties": map[string]interface{}{
					"entity": entityProp,
					"data":   map[string]interface{}{"type": "object", "description": "Initial field values for the draft"},
				},
			},
		},
		{
			Name:        "draft.edit",
			Description: "Promote an existing active record into draft-editing state. Requires the record's ID, either inside keys or as a flat top-level ID field. Returns the new draft row.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity"},
				"properties": map[string]interface{}{
					"entity": entityProp,
					"keys":   keysProp,
					"ID":     map[string]interface{}{"type": "string", "description": "Flat convenience form of keys.ID"},
				},
			},
		},
		{
			Name:        "draft.patch",
			Description: "Update fields of an open draft. Keys are optional: when omitted, the most recently touched draft of the entity is resumed automatically. Pass field values in data (or flat at the top level). At least one non-key field is required.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity"},
				"properties": map[string]interface{}{
					"entity": entityProp,
					"keys":   keysProp,
					"data":   map[string]interface{}{"type": "object", "description": "Field values to update"},
				},
			},
		},
		{
			Name:        "draft.save",
			Description: "Activate a draft: the draft's state becomes the active record and the draft itself is destroyed. Keys are optional; the most recently touched draft is resumed when omitted. Returns the activated row.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity"},
				"properties": map[string]interface{}{
					"entity": entityProp,
					"keys":   keysProp,
				},
			},
		},
		{
			Name:        "draft.cancel",
			Description: "Discard an open draft without activating it. Unlike the other draft verbs, cancel never auto-resolves to the last-touched draft from the database; supply keys or rely on the current session's cached draft.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity"},
				"properties": map[string]interface{}{
					"entity": entityProp,
					"keys":   keysProp,
				},
			},
		},
		{
			Name:        "draft.getAdminData",
			Description: "Read the administrative metadata of an open draft (DraftUUID, createdAt/By, modifiedAt/By). Keys are optional; the most recently touched draft is resumed when omitted.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity"},
				"properties": map[string]interface{}{
					"entity":  entityProp,
					"keys":    keysProp,
					"columns": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Restrict the returned admin columns"},
				},
			},
		},
		{
			Name:        "draft.addChild",
			Description: "Append one or more child entries to a composition of an open draft (e.g. items on a Claims draft). Existing children are preserved; child keys and draft-control fields are generated automatically. Keys for the parent draft are optional.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity", "child"},
				"properties": map[string]interface{}{
					"entity":  entityProp,
					"child":   map[string]interface{}{"type": "string", "description": "Composition element name on the parent entity (required)"},
					"entry":   map[string]interface{}{"type": "object", "description": "A single child entry to append"},
					"entries": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "object"}, "description": "Multiple child entries to append"},
					"keys":    keysProp,
				},
			},
		},
	}
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}

	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
