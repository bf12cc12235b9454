// Package mcp implements the Model Context Protocol (MCP) server for
// ClaimBridge. It exposes the draft mediation verbs as JSON-RPC 2.0 tools so
// an AI assistant can read and edit claims data through a uniform surface.
package mcp

import "encoding/json"

// ExecuteRawArgs contains arguments for the execute-raw tool.
type ExecuteRawArgs struct {
	SQL        string        `json:"sql"`                  // Statement to execute (required)
	Params     []interface{} `json:"params,omitempty"`     // Positional bind parameters
	AllowWrite bool          `json:"allowWrite,omitempty"` // Permit non-read statement verbs (default: false)
}

// ReadArgs contains arguments for the read tool.
type ReadArgs struct {
	Entity  string                 `json:"entity"`            // Entity name (required)
	Columns []string               `json:"columns,omitempty"` // Columns to return; empty means all
	Where   map[string]interface{} `json:"where,omitempty"`   // Equality filters, AND-combined
	Limit   int                    `json:"limit,omitempty"`   // Row cap (default 200)
	Offset  int                    `json:"offset,omitempty"`  // Rows to skip
	Draft   string                 `json:"draft,omitempty"`   // merged (default), active, or draft
}

// DraftArgs is the shared argument shape of the draft lifecycle tools.
// Beyond the declared fields, callers may pass flat convenience fields (a
// bare ID, a DraftUUID, or data fields at the top level); those are carried
// in Extra and classified by the mediation layer.
type DraftArgs struct {
	Entity  string                   `json:"entity"`
	Keys    map[string]interface{}   `json:"keys,omitempty"`
	Data    map[string]interface{}   `json:"data,omitempty"`
	Columns []string                 `json:"columns,omitempty"` // draft.getAdminData only
	Child   string                   `json:"child,omitempty"`   // draft.addChild only
	Entry   map[string]interface{}   `json:"entry,omitempty"`   // draft.addChild: single entry
	Entries []map[string]interface{} `json:"entries,omitempty"` // draft.addChild: multiple entries

	// Extra holds the full raw argument bag, flat convenience fields
	// included. The mediation layer normalizes it; nothing here is trusted.
	Extra map[string]interface{} `json:"-"`
}

// UnmarshalJSON decodes the declared fields and additionally retains the
// complete raw map, because tool-calling agents routinely put key and data
// fields at the top level instead of inside keys/data.
func (a *DraftArgs) UnmarshalJSON(data []byte) error {
	type alias DraftArgs
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*a = DraftArgs(decoded)
	return json.Unmarshal(data, &a.Extra)
}

// AllEntries merges the singular entry field and the plural entries field
// into one list, entries first.
func (a *DraftArgs) AllEntries() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(a.Entries)+1)
	out = append(out, a.Entries...)
	if a.Entry != nil {
		out = append(out, a.Entry)
	}
	return out
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
