package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/chatkeep/internal/engine"
	"github.com/scrypster/chatkeep/internal/jobs"
	"github.com/scrypster/chatkeep/internal/storage"
	"github.com/scrypster/chatkeep/pkg/types"
)

// Server is the protocol handler bound to one session. It dispatches
// JSON-RPC requests to the widget registry and the chat engine. A Server is
// cheap to construct; the HTTP transport builds one per session.
type Server struct {
	engine        *engine.ChatEngine
	registry      *Registry
	serverName    string
	serverVersion string
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithServerInfo overrides the identity reported in initialize responses.
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) {
		s.serverName = name
		s.serverVersion = version
	}
}

// NewServer creates a protocol handler over the given engine and registry.
func NewServer(eng *engine.ChatEngine, registry *Registry, opts ...ServerOption) *Server {
	s := &Server{
		engine:        eng,
		registry:      registry,
		serverName:    "chatkeep",
		serverVersion: "1.0.0",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling; session resolution
// happens in the transport before a request reaches this method.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	// Notifications always succeed with an empty payload, even for
	// unrecognized notification names.
	if strings.HasPrefix(req.Method, "notifications/") {
		return s.successResponse(req.ID, map[string]interface{}{})
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	case "resources/list":
		result, err = s.handleResourcesList(ctx, req.Params)
	case "resources/read":
		result, err = s.handleResourcesRead(ctx, req.Params)
	case "resources/templates/list":
		result, err = s.handleResourceTemplatesList(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			return s.errorResponse(req.ID, ErrCodeInvalidParams, err.Error(), nil)
		}
		return s.errorResponse(req.ID, ErrCodeInternalError, err.Error(), nil)
	}

	return s.successResponse(req.ID, result)
}

// handleInitialize returns the protocol/version/capability metadata. The
// same payload is returned for repeated initialize calls on one session.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPInitializeParams
	// Initialize params are advisory; a missing or malformed block is not fatal.
	_ = unmarshalParams(params, &p)

	return MCPInitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: MCPServerCapabilities{
			Tools:     &MCPToolsCapability{},
			Resources: &MCPResourcesCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    s.serverName,
			Version: s.serverVersion,
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleResourcesList returns one resource entry per supported version of
// every registered widget.
func (s *Server) handleResourcesList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPResourcesListResult{Resources: s.registry.Resources()}, nil
}

// handleResourcesRead resolves a widget URI and returns its markup with the
// requested URI echoed back.
func (s *Server) handleResourcesRead(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPResourcesReadParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, fmt.Errorf("%w: uri is required", storage.ErrInvalidInput)
	}

	contents, err := s.registry.Read(p.URI)
	if err != nil {
		return nil, err
	}
	return MCPResourcesReadResult{Contents: []MCPResourceContents{*contents}}, nil
}

// handleResourceTemplatesList returns the widget URI pattern.
func (s *Server) handleResourceTemplatesList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPResourceTemplatesListResult{ResourceTemplates: s.registry.ResourceTemplates()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate typed
// handler and wraps the result in the MCP content envelope. Domain failures
// come back as successful responses with IsError set; only validation and
// transport problems become JSON-RPC errors.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: tool name is required", storage.ErrInvalidInput)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "list-chats":
		var args ListChatsArgs
		if err := unmarshalArgs(p.Arguments, &args); err != nil {
			return nil, err
		}
		result, handlerErr = s.ListChats(ctx, args)
	case "search-chats":
		var args SearchChatsArgs
		if err := unmarshalArgs(p.Arguments, &args); err != nil {
			return nil, err
		}
		result, handlerErr = s.SearchChats(ctx, args)
	case "save-chat":
		var args SaveChatArgs
		if err := unmarshalArgs(p.Arguments, &args); err != nil {
			return nil, err
		}
		result, handlerErr = s.SaveChat(ctx, args)
	case "save-transcript":
		var args SaveTranscriptArgs
		if err := unmarshalArgs(p.Arguments, &args); err != nil {
			return nil, err
		}
		result, handlerErr = s.SaveTranscript(ctx, args)
	case "update-chat":
		var args UpdateChatArgs
		if err := unmarshalArgs(p.Arguments, &args); err != nil {
			return nil, err
		}
		result, handlerErr = s.UpdateChat(ctx, args)
	case "delete-chat":
		var args DeleteChatArgs
		if err := unmarshalArgs(p.Arguments, &args); err != nil {
			return nil, err
		}
		result, handlerErr = s.DeleteChat(ctx, args)
	case "get-help":
		var args GetHelpArgs
		if err := unmarshalArgs(p.Arguments, &args); err != nil {
			return nil, err
		}
		result, handlerErr = s.GetHelp(ctx, args)
	case "get-job-status":
		var args GetJobStatusArgs
		if err := unmarshalArgs(p.Arguments, &args); err != nil {
			return nil, err
		}
		result, handlerErr = s.GetJobStatus(ctx, args)
	default:
		return toolFailure(ToolErrNotFound, fmt.Sprintf("unknown tool: %s", p.Name)), nil
	}

	if handlerErr != nil {
		// Missing/invalid arguments fail the call itself.
		if errors.Is(handlerErr, storage.ErrInvalidInput) {
			return nil, handlerErr
		}
		return s.domainFailure(p.Name, handlerErr), nil
	}

	return s.toolSuccess(p.Name, result)
}

// ListChats returns a page of the owner's saved records, ordered by
// similarity when a query is present and by recency otherwise.
func (s *Server) ListChats(ctx context.Context, args ListChatsArgs) (*ListChatsResult, error) {
	if args.OwnerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", storage.ErrInvalidInput)
	}

	page, err := s.engine.List(ctx, engine.ListInput{
		OwnerID: args.OwnerID,
		Query:   args.Query,
		Page:    args.Page,
		Limit:   args.Limit,
	})
	if err != nil {
		return nil, err
	}

	count, err := s.engine.Count(ctx, args.OwnerID)
	if err != nil {
		return nil, err
	}

	items := make([]ChatSummary, 0, len(page.Items))
	for _, record := range page.Items {
		items = append(items, summarize(&record))
	}

	_, helpText := s.registry.HelpText("en")

	result := &ListChatsResult{
		Items: items,
		Pagination: PaginationInfo{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      page.Total,
			TotalPages: page.TotalPages,
			HasMore:    page.HasMore,
		},
		Account: AccountInfo{
			OwnerID:     args.OwnerID,
			RecordCount: count,
			RecordLimit: s.engine.Quota(),
		},
		UI: UIContent{
			HelpText:     helpText,
			EmptyMessage: "No saved chats yet.",
		},
	}
	if quota := s.engine.Quota(); quota > 0 {
		result.UI.LimitMessage = fmt.Sprintf("You have saved %d of %d chats.", count, quota)
	}
	return result, nil
}

// SearchChats is list-chats with a mandatory query.
func (s *Server) SearchChats(ctx context.Context, args SearchChatsArgs) (*ListChatsResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", storage.ErrInvalidInput)
	}
	return s.ListChats(ctx, ListChatsArgs{
		OwnerID: args.OwnerID,
		Query:   args.Query,
		Page:    args.Page,
		Limit:   args.Limit,
	})
}

// SaveChat saves a structured conversation, or enqueues it when deferred.
func (s *Server) SaveChat(ctx context.Context, args SaveChatArgs) (*SaveChatResult, error) {
	if args.OwnerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", storage.ErrInvalidInput)
	}
	if args.Title == "" {
		return nil, fmt.Errorf("%w: title is required", storage.ErrInvalidInput)
	}
	if len(args.Turns) == 0 {
		return nil, fmt.Errorf("%w: turns are required", storage.ErrInvalidInput)
	}

	input := engine.SaveInput{
		OwnerID: args.OwnerID,
		Title:   args.Title,
		Turns:   args.Turns,
		Source:  "widget",
	}

	if args.Deferred {
		jobID, err := s.engine.SaveDeferred(ctx, input)
		if err != nil {
			return nil, err
		}
		return &SaveChatResult{JobID: jobID, Status: string(types.JobPending)}, nil
	}

	saved, err := s.engine.Save(ctx, input)
	if err != nil {
		return nil, err
	}
	return &SaveChatResult{ID: saved.Record.ID, NewlySaved: saved.NewlySaved}, nil
}

// SaveTranscript saves raw pasted content, parsing it into turns when the
// text carries speaker structure and degrading to a note otherwise.
func (s *Server) SaveTranscript(ctx context.Context, args SaveTranscriptArgs) (*SaveTranscriptResult, error) {
	if args.OwnerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(args.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	saved, err := s.engine.SaveManual(ctx, engine.ManualSaveInput{
		OwnerID: args.OwnerID,
		Title:   args.Title,
		Content: args.Content,
		Source:  "manual",
	})
	if err != nil {
		return nil, err
	}
	return &SaveTranscriptResult{
		ID:          saved.Record.ID,
		NewlySaved:  saved.NewlySaved,
		TurnCount:   saved.TurnCount,
		SavedAsNote: saved.SavedAsNote,
	}, nil
}

// UpdateChat renames a record or replaces its turns in place.
func (s *Server) UpdateChat(ctx context.Context, args UpdateChatArgs) (*UpdateChatResult, error) {
	if args.OwnerID == "" || args.ID == "" {
		return nil, fmt.Errorf("%w: ownerId and id are required", storage.ErrInvalidInput)
	}
	if args.Title == "" && len(args.Turns) == 0 {
		return nil, fmt.Errorf("%w: either title or turns must be provided", storage.ErrInvalidInput)
	}
	if args.Title != "" && len(args.Turns) > 0 {
		return nil, fmt.Errorf("%w: provide title or turns, not both", storage.ErrInvalidInput)
	}

	if args.Title != "" {
		if err := s.engine.UpdateTitle(ctx, args.OwnerID, args.ID, args.Title); err != nil {
			return nil, err
		}
		return &UpdateChatResult{Updated: true, Title: args.Title}, nil
	}

	record, err := s.engine.UpdateTurns(ctx, args.OwnerID, args.ID, args.Turns)
	if err != nil {
		return nil, err
	}
	return &UpdateChatResult{Updated: true, TurnCount: record.TurnCount()}, nil
}

// DeleteChat removes a record permanently.
func (s *Server) DeleteChat(ctx context.Context, args DeleteChatArgs) (*DeleteChatResult, error) {
	if args.OwnerID == "" || args.ID == "" {
		return nil, fmt.Errorf("%w: ownerId and id are required", storage.ErrInvalidInput)
	}
	if err := s.engine.Delete(ctx, args.OwnerID, args.ID); err != nil {
		return nil, err
	}
	return &DeleteChatResult{Deleted: true}, nil
}

// GetHelp returns localized help text from the widget catalog.
func (s *Server) GetHelp(ctx context.Context, args GetHelpArgs) (*GetHelpResult, error) {
	locale, text := s.registry.HelpText(args.Locale)
	return &GetHelpResult{Locale: locale, HelpText: text}, nil
}

// GetJobStatus reports the state of a deferred save.
func (s *Server) GetJobStatus(ctx context.Context, args GetJobStatusArgs) (*GetJobStatusResult, error) {
	if args.JobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", storage.ErrInvalidInput)
	}

	job, err := s.engine.JobStatus(ctx, args.JobID)
	if err != nil {
		return nil, err
	}
	return &GetJobStatusResult{
		JobID:    job.ID,
		Status:   string(job.Status),
		RecordID: job.RecordID,
		Error:    job.Error,
	}, nil
}

// toolSuccess wraps a typed result in the MCP content envelope, attaching
// the bound widget's metadata when the tool renders through one.
func (s *Server) toolSuccess(toolName string, result interface{}) (*MCPToolCallResult, error) {
	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content:           []MCPToolCallContent{{Type: "text", Text: string(text)}},
		StructuredContent: result,
	}, nil
}

// domainFailure maps an engine error onto the structured error payload
// carried inside a successful tool response.
func (s *Server) domainFailure(toolName string, err error) *MCPToolCallResult {
	code := ToolErrProcessingFailed
	switch {
	case errors.Is(err, engine.ErrQuotaExceeded):
		code = ToolErrQuotaExceeded
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		code = ToolErrNotFound
	case errors.Is(err, engine.ErrDeferredUnavailable):
		code = ToolErrUnavailable
	}
	log.Printf("mcp: tool %s failed (%s): %v", toolName, code, err)
	return toolFailure(code, err.Error())
}

// toolFailure builds an IsError tool result with a structured payload.
func toolFailure(code, message string) *MCPToolCallResult {
	return &MCPToolCallResult{
		Content:           []MCPToolCallContent{{Type: "text", Text: message}},
		StructuredContent: ToolError{Code: code, Message: message},
		IsError:           true,
	}
}

// summarize converts a record into its listing shape.
func summarize(record *types.ChatRecord) ChatSummary {
	return ChatSummary{
		ID:        record.ID,
		Title:     record.Title,
		Kind:      record.Kind,
		TurnCount: record.TurnCount(),
		CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: record.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// unmarshalParams converts decoded JSON-RPC parameters into a typed struct.
func unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

// unmarshalArgs converts a tool-call argument bag into a typed args struct.
// Shape errors fail validation before any business logic runs.
func unmarshalArgs(arguments map[string]interface{}, dest interface{}) error {
	data, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
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
