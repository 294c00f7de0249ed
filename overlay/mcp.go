package overlay

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mailsentry/kit"
)

// MCPServer returns a server exposing the overlay's tools.
func (o *Overlay) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "mailsentry", Version: "0.1.0"}, nil)
	o.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers the overlay tools on an MCP server.
func (o *Overlay) RegisterMCP(srv *mcp.Server) {
	noArgs := kit.DecodeArgs(func() any { return &struct{}{} })

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mailsentry_state",
		Description: "Current overlay state: displayed email, phishing score animation, channel state and pipeline counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, o.stateEndpoint(), noArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mailsentry_actions",
		Description: "Most recent actions performed by the assistant, newest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, o.actionsEndpoint(), noArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mailsentry_events",
		Description: "Recent pipeline events from the journal (accepted runs, scoring results, channel transitions).",
		InputSchema: inputSchema(map[string]any{
			"component": map[string]any{"type": "string", "enum": []any{"guard", "scoring", "channel", "action", "assistant"}, "description": "Filter by component"},
			"operation": map[string]any{"type": "string", "description": "Filter by operation"},
			"limit":     map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}, o.eventsEndpoint(), kit.DecodeArgs(func() any { return &eventsRequest{} }))

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mailsentry_retrain",
		Description: "Retrain the AI persona from the mailbox. Returns the persona summary.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, o.retrainEndpoint(), noArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mailsentry_smart_sort",
		Description: "Sort unread emails into categories. Reloads the mailbox when the backend asks for it.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, o.smartSortEndpoint(), noArgs)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
