// Command exci indexes an Elixir project and answers code-intelligence
// queries, either directly from the command line or as an MCP tool
// server over stdio.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/exci-dev/exci/internal/config"
	"github.com/exci-dev/exci/internal/errors"
	"github.com/exci-dev/exci/internal/indexing"
	"github.com/exci-dev/exci/internal/mcp"
	"github.com/exci-dev/exci/internal/query"
	"github.com/exci-dev/exci/internal/version"
)

func main() {
	app := newApp()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "exci: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the CLI's command tree, factored out of main so tests can
// drive it with app.Run without spawning a subprocess.
func newApp() *cli.App {
	return &cli.App{
		Name:    "exci",
		Usage:   "Code-intelligence indexer for Elixir projects",
		Version: version.FullInfo(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"path", "r"},
				Usage:   "Project root directory (default: current directory)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Project directory to load .exci.toml from (default: --root)",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Include only files matching these glob patterns",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Exclude files matching these glob patterns, in addition to the config's own exclusions",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Run a full index of the project and report how many records were written",
				Action: indexCommand,
			},
			{
				Name:  "query",
				Usage: "Run a graph query against the index",
				Description: "query <type> where <type> is one of: " +
					"function_definition, function_references, function_callers, " +
					"function_callees, routes, schema, impact_analysis, function_spec, " +
					"module_types, type_errors",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mfa", Usage: "MFA string, e.g. App.Accounts.get_user/1"},
					&cli.StringFlag{Name: "module", Usage: "Module name, e.g. App.User"},
					&cli.StringSliceFlag{Name: "files", Usage: "Project-relative paths of changed files"},
					&cli.IntFlag{Name: "depth", Usage: "Maximum BFS depth for function_callers/function_callees", Value: 1},
				},
				Action: queryCommand,
			},
			{
				Name:  "mcp",
				Usage: "Start the MCP tool server over stdio",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "transport",
						Usage: "Transport to serve on (only stdio is supported)",
						Value: "stdio",
					},
				},
				Action: mcpCommand,
			},
		},
	}
}

// loadConfig resolves the project root and its configuration from the
// global --root/--config/--include/--exclude flags.
func loadConfig(c *cli.Context) (*config.Config, string, error) {
	root := c.String("root")
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, "", fmt.Errorf("resolve root %q: %w", root, err)
	}

	cfgDir := absRoot
	if dir := c.String("config"); dir != "" {
		if cfgDir, err = filepath.Abs(dir); err != nil {
			return nil, "", fmt.Errorf("resolve config dir %q: %w", dir, err)
		}
	}

	cfg, err := config.Load(cfgDir)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	cfg.Project.Root = absRoot

	if includes := c.StringSlice("include"); len(includes) > 0 {
		cfg.Include = includes
	}
	if excludes := c.StringSlice("exclude"); len(excludes) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludes...)
	}

	return cfg, absRoot, nil
}

// printResult writes a single JSON object to stdout, matching the CLI
// surface's machine-readable-results contract.
func printResult(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}

func indexCommand(c *cli.Context) error {
	cfg, root, err := loadConfig(c)
	if err != nil {
		return err
	}

	ix := indexing.New(root, cfg)
	manifest, err := ix.FullIndex(context.Background())
	if err != nil {
		return err
	}

	return printResult(map[string]interface{}{
		"success":         true,
		"records_indexed": manifest.RecordCount,
	})
}

func queryCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: exci query <type> [--mfa|--module|--files|--depth]")
	}
	queryType := c.Args().First()

	cfg, root, err := loadConfig(c)
	if err != nil {
		return err
	}

	ix := indexing.New(root, cfg)
	if _, _, err := ix.EnsureCurrent(context.Background()); err != nil {
		return err
	}
	engine := query.New(root, ix.Store)

	depth := c.Int("depth")
	if depth == 0 {
		depth = 1
	}

	var result interface{}
	switch queryType {
	case "function_definition":
		result, err = engine.Definition(c.String("mfa"))
	case "function_references":
		result, err = engine.References(c.String("mfa"))
	case "function_callers":
		result, err = engine.Callers(c.String("mfa"), depth)
	case "function_callees":
		result, err = engine.Callees(c.String("mfa"), depth)
	case "routes":
		result, err = engine.Routes()
	case "schema":
		result, err = engine.Schema(c.String("module"))
	case "impact_analysis":
		result, err = engine.ImpactAnalysis(c.StringSlice("files"))
	case "function_spec":
		result, err = engine.FunctionSpec(c.String("mfa"))
	case "module_types":
		result, err = engine.ModuleTypes(c.String("module"))
	case "type_errors":
		result, err = engine.TypeErrors()
	default:
		return errors.NewQueryError(errors.ErrorTypeUnknownQuery, queryType,
			fmt.Errorf("unknown query type %q", queryType))
	}
	if err != nil {
		return err
	}

	return printResult(result)
}

func mcpCommand(c *cli.Context) error {
	if transport := c.String("transport"); transport != "" && transport != "stdio" {
		return fmt.Errorf("unsupported transport %q: only stdio is supported", transport)
	}

	cfg, root, err := loadConfig(c)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(root, cfg)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		cancel()

		shutdownTimer := time.NewTimer(2 * time.Second)
		defer shutdownTimer.Stop()

		select {
		case err := <-errChan:
			return err
		case <-shutdownTimer.C:
			os.Stdin.Close()

			forceTimer := time.NewTimer(500 * time.Millisecond)
			defer forceTimer.Stop()

			select {
			case err := <-errChan:
				return err
			case <-forceTimer.C:
				return nil
			}
		}
	}
}
