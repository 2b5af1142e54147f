package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CallTool is an in-process test helper that dispatches directly to a
// tool's handler, bypassing the stdio transport.
func (s *Server) CallTool(name string, params map[string]interface{}) (*mcp.CallToolResult, error) {
	handler := s.handlerForTesting(name)
	if handler == nil {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	argsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Name: name, Arguments: argsJSON},
	}
	return handler(context.Background(), req)
}
