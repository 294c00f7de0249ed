package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecoder turns tool call arguments into an endpoint request.
type MCPDecoder func(*mcp.CallToolRequest) (any, error)

// RegisterMCPTool exposes endpoint as the tool on srv. The endpoint sees
// transport "mcp"; its response is returned as one JSON text block.
// Failures are reported in the tool result so the calling agent can read
// them; the session stays up.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode MCPDecoder) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := decode(call)
		if err != nil {
			return toolError(fmt.Errorf("%s: bad arguments: %w", tool.Name, err)), nil
		}
		resp, err := endpoint(WithTransport(ctx, "mcp"), req)
		if err != nil {
			return toolError(err), nil
		}
		body, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("%s: encode response: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(body)}}}, nil
	})
}

// DecodeArgs unmarshals the call arguments into the value newReq returns.
// Tools without arguments get that value untouched.
func DecodeArgs(newReq func() any) MCPDecoder {
	return func(call *mcp.CallToolRequest) (any, error) {
		req := newReq()
		if args := call.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, req); err != nil {
				return nil, err
			}
		}
		return req, nil
	}
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}
