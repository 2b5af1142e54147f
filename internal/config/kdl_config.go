package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL loads the user-global ~/.exci.kdl config, if present. Only a
// handful of fields make sense at the global scope: exclusions to apply to
// every project, and default performance/phase toggles.
func LoadKDL(homeDir string) (*Config, error) {
	path := filepath.Join(homeDir, ".exci.kdl")
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseKDL(string(content))
}

func parseKDL(content string) (*Config, error) {
	cfg := Default(".")

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse kdl config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "performance":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "parallel_file_workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.ParallelFileWorkers = v
					}
				case "tracer_timeout_sec":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.TracerTimeoutSec = v
					}
				}
			}
		case "phases":
			for _, cn := range n.Children {
				b, ok := firstBoolArg(cn)
				if !ok {
					continue
				}
				switch nodeName(cn) {
				case "enable_compiler_trace":
					cfg.Phases.EnableCompilerTrace = b
				case "enable_xref":
					cfg.Phases.EnableXref = b
				case "enable_routes":
					cfg.Phases.EnableRoutes = b
				case "enable_schema":
					cfg.Phases.EnableSchema = b
				case "enable_type_specs":
					cfg.Phases.EnableTypeSpecs = b
				case "enable_diagnostics":
					cfg.Phases.EnableDiagnostics = b
				}
			}
		case "exclude":
			for _, arg := range n.Arguments {
				if s, ok := arg.Value.(string); ok {
					cfg.Exclude = append(cfg.Exclude, s)
				}
			}
		case "include":
			for _, arg := range n.Arguments {
				if s, ok := arg.Value.(string); ok {
					cfg.Include = append(cfg.Include, s)
				}
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	s, ok := n.Arguments[0].Value.(string)
	return s, ok
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	b, ok := n.Arguments[0].Value.(bool)
	return b, ok
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
