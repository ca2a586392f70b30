package mcp

// turnSchema is the JSON schema fragment for one conversation turn.
var turnSchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"prompt"},
	"properties": map[string]interface{}{
		"prompt":   map[string]interface{}{"type": "string", "description": "What the user said"},
		"response": map[string]interface{}{"type": "string", "description": "What the assistant replied"},
	},
}

// buildToolsList returns the canonical list of MCP tool definitions.
// Widget-producing tools carry the bound widget's active resource URI and
// invocation status strings in their metadata.
func (s *Server) buildToolsList() []MCPTool {
	tools := []MCPTool{
		{
			Name:        "list-chats",
			Description: "List saved chats for an owner, most recent first. Pass a query to rank by semantic similarity instead. Pages are zero-indexed.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"ownerId"},
				"properties": map[string]interface{}{
					"ownerId": map[string]interface{}{"type": "string", "description": "Owner account (required)"},
					"query":   map[string]interface{}{"type": "string", "description": "Optional free-text query for similarity ordering"},
					"page":    map[string]interface{}{"type": "integer", "description": "Zero-indexed page number (default 0)"},
					"limit":   map[string]interface{}{"type": "integer", "description": "Page size (default 10, max 100)"},
				},
			},
		},
		{
			Name:        "search-chats",
			Description: "Search saved chats by free-text query, nearest match first.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"ownerId", "query"},
				"properties": map[string]interface{}{
					"ownerId": map[string]interface{}{"type": "string", "description": "Owner account (required)"},
					"query":   map[string]interface{}{"type": "string", "description": "Free-text search query (required)"},
					"page":    map[string]interface{}{"type": "integer", "description": "Zero-indexed page number (default 0)"},
					"limit":   map[string]interface{}{"type": "integer", "description": "Page size (default 10, max 100)"},
				},
			},
		},
		{
			Name:        "save-chat",
			Description: "Save a structured conversation. Saving identical content twice returns the original record id with newlySaved=false. Set deferred=true to enqueue the save and poll get-job-status instead.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"ownerId", "title", "turns"},
				"properties": map[string]interface{}{
					"ownerId":  map[string]interface{}{"type": "string", "description": "Owner account (required)"},
					"title":    map[string]interface{}{"type": "string", "description": "Display title, up to 2048 characters (required)"},
					"turns":    map[string]interface{}{"type": "array", "items": turnSchema, "description": "Conversation turns in order (required, at least one)"},
					"deferred": map[string]interface{}{"type": "boolean", "description": "Enqueue the save and return a job id instead of saving synchronously"},
				},
			},
		},
		{
			Name:        "save-transcript",
			Description: "Save raw pasted transcript text. Content with recognizable speaker labels is parsed into turns and saved as a chat; anything else is saved as a note.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"ownerId", "content"},
				"properties": map[string]interface{}{
					"ownerId": map[string]interface{}{"type": "string", "description": "Owner account (required)"},
					"title":   map[string]interface{}{"type": "string", "description": "Optional title; derived from the first line when omitted"},
					"content": map[string]interface{}{"type": "string", "description": "Raw pasted text (required)"},
				},
			},
		},
		{
			Name:        "update-chat",
			Description: "Update a saved chat in place: rename it or replace its turns. The record keeps its id and creation time.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"ownerId", "id"},
				"properties": map[string]interface{}{
					"ownerId": map[string]interface{}{"type": "string", "description": "Owner account (required)"},
					"id":      map[string]interface{}{"type": "string", "description": "Record id (required)"},
					"title":   map[string]interface{}{"type": "string", "description": "New title (provide title or turns, not both)"},
					"turns":   map[string]interface{}{"type": "array", "items": turnSchema, "description": "Replacement turns (provide title or turns, not both)"},
				},
			},
		},
		{
			Name:        "delete-chat",
			Description: "Delete a saved chat permanently.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"ownerId", "id"},
				"properties": map[string]interface{}{
					"ownerId": map[string]interface{}{"type": "string", "description": "Owner account (required)"},
					"id":      map[string]interface{}{"type": "string", "description": "Record id (required)"},
				},
			},
		},
		{
			Name:        "get-help",
			Description: "Fetch localized help text describing how to save and find chats.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"locale": map[string]interface{}{"type": "string", "description": "BCP 47 locale tag (default en)"},
				},
			},
		},
		{
			Name:        "get-job-status",
			Description: "Poll the status of a deferred save job.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"jobId"},
				"properties": map[string]interface{}{
					"jobId": map[string]interface{}{"type": "string", "description": "Job id returned by a deferred save (required)"},
				},
			},
		},
	}

	for i := range tools {
		if widget, ok := s.registry.WidgetForTool(tools[i].Name); ok {
			tools[i].Meta = widget.meta(widget.ActiveURI)
		}
	}

	return tools
}
