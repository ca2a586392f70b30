// Package mcp implements the Model Context Protocol (MCP) server for chatkeep.
// It provides JSON-RPC 2.0 based tools for saving, retrieving, and searching
// conversation transcripts, plus versioned widget resources for the view layer.
package mcp

import "github.com/scrypster/chatkeep/pkg/types"

// ---------------------------------------------------------------------------
// Tool argument and result types
//
// Each tool has one typed args struct validated at the dispatch boundary, so
// invalid shapes fail in a single place before reaching business logic.
// ---------------------------------------------------------------------------

// ListChatsArgs contains arguments for the list-chats tool.
type ListChatsArgs struct {
	OwnerID string `json:"ownerId"`         // Owner account (required)
	Query   string `json:"query,omitempty"` // Optional free-text query (similarity ordering)
	Page    int    `json:"page,omitempty"`  // Zero-indexed page number
	Limit   int    `json:"limit,omitempty"` // Page size (clamped to the configured maximum)
}

// ChatSummary is the per-record shape returned by listing tools.
type ChatSummary struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Kind      types.ChatKind `json:"kind"`
	TurnCount int            `json:"turnCount"`
	CreatedAt string         `json:"createdAt"` // RFC 3339
	UpdatedAt string         `json:"updatedAt"` // RFC 3339
}

// PaginationInfo mirrors the retrieval engine's page metadata.
type PaginationInfo struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// ListChatsResult contains the result of the list-chats tool.
type ListChatsResult struct {
	Items      []ChatSummary  `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
	Account    AccountInfo    `json:"account"`
	UI         UIContent      `json:"ui"`
}

// AccountInfo carries owner metadata alongside listings.
type AccountInfo struct {
	OwnerID     string `json:"ownerId"`
	RecordCount int    `json:"recordCount"`
	RecordLimit int    `json:"recordLimit,omitempty"` // 0 means unlimited
}

// UIContent carries display strings the view layer renders verbatim.
type UIContent struct {
	HelpText     string `json:"helpText,omitempty"`
	LimitMessage string `json:"limitMessage,omitempty"`
	EmptyMessage string `json:"emptyMessage,omitempty"`
}

// SaveChatArgs contains arguments for the save-chat tool.
type SaveChatArgs struct {
	OwnerID  string       `json:"ownerId"` // Owner account (required)
	Title    string       `json:"title"`   // Display title (required)
	Turns    []types.Turn `json:"turns"`   // Conversation turns (required, >= 1)
	Deferred bool         `json:"deferred,omitempty"`
}

// SaveChatResult contains the result of the save-chat tool.
type SaveChatResult struct {
	ID         string `json:"id,omitempty"`    // Record ID (synchronous saves)
	NewlySaved bool   `json:"newlySaved"`      // False when an existing duplicate was returned
	JobID      string `json:"jobId,omitempty"` // Set for deferred saves
	Status     string `json:"status,omitempty"`
}

// SaveTranscriptArgs contains arguments for the save-transcript tool
// (free-text manual save).
type SaveTranscriptArgs struct {
	OwnerID string `json:"ownerId"`         // Owner account (required)
	Title   string `json:"title,omitempty"` // Optional; derived from content when empty
	Content string `json:"content"`         // Raw pasted text (required)
}

// SaveTranscriptResult contains the result of the save-transcript tool.
type SaveTranscriptResult struct {
	ID          string `json:"id"`
	NewlySaved  bool   `json:"newlySaved"`
	TurnCount   int    `json:"turnCount"`   // Number of parsed turns; 0 for notes
	SavedAsNote bool   `json:"savedAsNote"` // True when parsing degraded to a note
}

// DeleteChatArgs contains arguments for the delete-chat tool.
type DeleteChatArgs struct {
	OwnerID string `json:"ownerId"` // Owner account (required)
	ID      string `json:"id"`      // Record ID (required)
}

// DeleteChatResult contains the result of the delete-chat tool.
type DeleteChatResult struct {
	Deleted bool `json:"deleted"`
}

// UpdateChatArgs contains arguments for the update-chat tool.
// Exactly one of Title or Turns must be provided.
type UpdateChatArgs struct {
	OwnerID string       `json:"ownerId"`         // Owner account (required)
	ID      string       `json:"id"`              // Record ID (required)
	Title   string       `json:"title,omitempty"` // New title (in-place rename)
	Turns   []types.Turn `json:"turns,omitempty"` // Replacement turns (in-place update)
}

// UpdateChatResult contains the result of the update-chat tool.
type UpdateChatResult struct {
	Updated   bool   `json:"updated"`
	Title     string `json:"title,omitempty"`
	TurnCount int    `json:"turnCount,omitempty"`
}

// SearchChatsArgs contains arguments for the search-chats tool.
type SearchChatsArgs struct {
	OwnerID string `json:"ownerId"` // Owner account (required)
	Query   string `json:"query"`   // Free-text query (required)
	Page    int    `json:"page,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// GetHelpArgs contains arguments for the get-help tool.
type GetHelpArgs struct {
	Locale string `json:"locale,omitempty"` // BCP 47 tag, default "en"
}

// GetHelpResult contains the result of the get-help tool.
type GetHelpResult struct {
	Locale   string `json:"locale"`
	HelpText string `json:"helpText"`
}

// GetJobStatusArgs contains arguments for the get-job-status tool.
type GetJobStatusArgs struct {
	JobID string `json:"jobId"` // Job ID from a deferred save (required)
}

// GetJobStatusResult contains the result of the get-job-status tool.
type GetJobStatusResult struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"` // pending | complete | failed
	RecordID string `json:"recordId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ToolError is the structured domain-error payload carried inside a
// successful tool response. It distinguishes "the business operation was
// refused" from a protocol failure; the view layer renders Message inline.
type ToolError struct {
	Code    string `json:"code"` // e.g. "quota_exceeded", "not_found", "processing_failed"
	Message string `json:"message"`
}

// Domain error codes surfaced through ToolError.
const (
	ToolErrQuotaExceeded    = "quota_exceeded"
	ToolErrNotFound         = "not_found"
	ToolErrInvalidInput     = "invalid_input"
	ToolErrProcessingFailed = "processing_failed"
	ToolErrUnavailable      = "unavailable"
)

// ---------------------------------------------------------------------------
// JSON-RPC 2.0 envelope
// ---------------------------------------------------------------------------

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
	ErrCodeParseError      = -32700 // Invalid JSON
	ErrCodeInvalidRequest  = -32600 // Invalid request object
	ErrCodeMethodNotFound  = -32601 // Method not found
	ErrCodeInvalidParams   = -32602 // Invalid method parameters
	ErrCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrCodeSessionNotFound = -32000 // Request references no live session
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools / resources)
// ---------------------------------------------------------------------------

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

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
	Tools     *MCPToolsCapability     `json:"tools,omitempty"`
	Resources *MCPResourcesCapability `json:"resources,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPResourcesCapability signals that the server exposes resources.
type MCPResourcesCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
// Meta carries widget bindings for widget-producing tools: the active
// resource URI and the pre/post invocation status strings.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
	Meta        map[string]interface{} `json:"_meta,omitempty"`
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

// MCPToolCallResult is the response to a tools/call request. Domain errors
// set IsError and carry a ToolError in StructuredContent; the JSON-RPC call
// itself still succeeds.
type MCPToolCallResult struct {
	Content           []MCPToolCallContent `json:"content"`
	StructuredContent interface{}          `json:"structuredContent,omitempty"`
	IsError           bool                 `json:"isError,omitempty"`
}

// MCPResource describes a single resource exposed via resources/list.
// One entry exists per supported widget version, not just the active one.
type MCPResource struct {
	URI         string                 `json:"uri"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	MimeType    string                 `json:"mimeType,omitempty"`
	Meta        map[string]interface{} `json:"_meta,omitempty"`
}

// MCPResourcesListResult is the response to the resources/list request.
type MCPResourcesListResult struct {
	Resources []MCPResource `json:"resources"`
}

// MCPResourcesReadParams holds the parameters for resources/read.
type MCPResourcesReadParams struct {
	URI string `json:"uri"`
}

// MCPResourceContents is a single payload block returned by resources/read.
// URI echoes the requested URI, never the stored active one, so that
// version-pinned clients always see their own URI reflected back.
type MCPResourceContents struct {
	URI      string                 `json:"uri"`
	MimeType string                 `json:"mimeType,omitempty"`
	Text     string                 `json:"text"`
	Meta     map[string]interface{} `json:"_meta,omitempty"`
}

// MCPResourcesReadResult is the response to the resources/read request.
type MCPResourcesReadResult struct {
	Contents []MCPResourceContents `json:"contents"`
}

// MCPResourceTemplate describes a parameterized resource URI pattern.
type MCPResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// MCPResourceTemplatesListResult is the response to resources/templates/list.
type MCPResourceTemplatesListResult struct {
	ResourceTemplates []MCPResourceTemplate `json:"resourceTemplates"`
}
