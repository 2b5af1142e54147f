package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/exci-dev/exci/internal/config"
	"github.com/exci-dev/exci/internal/indexing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type indexParams struct {
	Path string `json:"path,omitempty"`
}

type mfaParams struct {
	MFA string `json:"mfa"`
}

type mfaDepthParams struct {
	MFA   string `json:"mfa"`
	Depth int    `json:"depth,omitempty"`
}

type moduleParams struct {
	Module string `json:"module"`
}

type filesParams struct {
	Files []string `json:"files"`
}

func unmarshalArgs(req *mcp.CallToolRequest, dst interface{}) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, dst)
}

func (s *Server) handleIndex(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args indexParams
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("index", fmt.Errorf("invalid parameters: %w", err))
	}

	ix := s.indexer
	if args.Path != "" && args.Path != s.root {
		cfg, err := config.Load(args.Path)
		if err != nil {
			cfg = config.Default(args.Path)
		}
		ix = indexing.New(args.Path, cfg)
	}

	manifest, err := ix.FullIndex(ctx)
	if err != nil {
		return errorResult("index", err)
	}

	return jsonResult(map[string]interface{}{
		"success":         true,
		"records_indexed": manifest.RecordCount,
	})
}

// runQuery handles the ensure_index_current() precondition common to every
// query tool before delegating to fn.
func (s *Server) runQuery(ctx context.Context, operation string, fn func() (interface{}, error)) (*mcp.CallToolResult, error) {
	if err := s.ensureIndexCurrent(ctx); err != nil {
		return errorResult(operation, err)
	}
	result, err := fn()
	if err != nil {
		return errorResult(operation, err)
	}
	return jsonResult(result)
}

func (s *Server) handleFunctionDefinition(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args mfaParams
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("function_definition", fmt.Errorf("invalid parameters: %w", err))
	}
	return s.runQuery(ctx, "function_definition", func() (interface{}, error) {
		return s.engine.Definition(args.MFA)
	})
}

func (s *Server) handleFunctionReferences(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args mfaParams
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("function_references", fmt.Errorf("invalid parameters: %w", err))
	}
	return s.runQuery(ctx, "function_references", func() (interface{}, error) {
		return s.engine.References(args.MFA)
	})
}

func (s *Server) handleFunctionCallers(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := mfaDepthParams{Depth: 1}
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("function_callers", fmt.Errorf("invalid parameters: %w", err))
	}
	if args.Depth == 0 {
		args.Depth = 1
	}
	return s.runQuery(ctx, "function_callers", func() (interface{}, error) {
		return s.engine.Callers(args.MFA, args.Depth)
	})
}

func (s *Server) handleFunctionCallees(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := mfaDepthParams{Depth: 1}
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("function_callees", fmt.Errorf("invalid parameters: %w", err))
	}
	if args.Depth == 0 {
		args.Depth = 1
	}
	return s.runQuery(ctx, "function_callees", func() (interface{}, error) {
		return s.engine.Callees(args.MFA, args.Depth)
	})
}

func (s *Server) handleRoutes(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.runQuery(ctx, "routes", func() (interface{}, error) {
		return s.engine.Routes()
	})
}

func (s *Server) handleSchema(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args moduleParams
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("schema", fmt.Errorf("invalid parameters: %w", err))
	}
	return s.runQuery(ctx, "schema", func() (interface{}, error) {
		return s.engine.Schema(args.Module)
	})
}

func (s *Server) handleImpactAnalysis(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args filesParams
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("impact_analysis", fmt.Errorf("invalid parameters: %w", err))
	}
	return s.runQuery(ctx, "impact_analysis", func() (interface{}, error) {
		return s.engine.ImpactAnalysis(args.Files)
	})
}

func (s *Server) handleFunctionSpec(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args mfaParams
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("function_spec", fmt.Errorf("invalid parameters: %w", err))
	}
	return s.runQuery(ctx, "function_spec", func() (interface{}, error) {
		return s.engine.FunctionSpec(args.MFA)
	})
}

func (s *Server) handleModuleTypes(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args moduleParams
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult("module_types", fmt.Errorf("invalid parameters: %w", err))
	}
	return s.runQuery(ctx, "module_types", func() (interface{}, error) {
		return s.engine.ModuleTypes(args.Module)
	})
}

func (s *Server) handleTypeErrors(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.runQuery(ctx, "type_errors", func() (interface{}, error) {
		return s.engine.TypeErrors()
	})
}
