// Package tracer implements the compiler-trace extraction phase: it drives
// the real Elixir compiler as a subprocess and listens to its symbol
// resolution events via the Code.tracer callback, rather than guessing at
// call targets syntactically.
package tracer

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/exci-dev/exci/internal/errors"
	"github.com/exci-dev/exci/internal/extract/common"
	"github.com/exci-dev/exci/internal/types"
)

// Result holds one tracer run's contribution: high-confidence call
// resolutions and compile-time dependency edges.
type Result struct {
	Calls []types.CallRef
	Deps  []types.DepEdge
}

// Extractor runs the adapter script against a target project.
type Extractor struct {
	// ElixirBin is the executable used to run the adapter script. Defaults
	// to "elixir" on the PATH.
	ElixirBin string
	// Timeout bounds the subprocess; zero means no timeout beyond ctx.
	Timeout time.Duration
}

// Run compiles projectRoot's sources under the tracer adapter and returns
// its deduplicated, filtered contribution, with file paths made relative
// to projectRoot. Any failure (subprocess, temp-file I/O, reading the
// output file) is returned as a *errors.SubprocessError alongside an empty
// Result; output lines of an unexpected shape are skipped. Callers treat a
// failure like any other phase failure — log it, contribute nothing, keep
// indexing.
func (e *Extractor) Run(ctx context.Context, projectRoot string) (Result, error) {
	bin := e.ElixirBin
	if bin == "" {
		bin = "elixir"
	}

	scriptFile, err := os.CreateTemp("", "exci-tracer-*.exs")
	if err != nil {
		return Result{}, errors.NewSubprocessError(bin, nil, err)
	}
	scriptPath := scriptFile.Name()
	defer os.Remove(scriptPath)

	outFile, err := os.CreateTemp("", "exci-tracer-out-*.txt")
	if err != nil {
		scriptFile.Close()
		return Result{}, errors.NewSubprocessError(bin, nil, err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	if _, err := scriptFile.WriteString(adapterScript(outPath)); err != nil {
		scriptFile.Close()
		return Result{}, errors.NewSubprocessError(bin, nil, err)
	}
	scriptFile.Close()

	runCtx := ctx
	var cancel context.CancelFunc
	if e.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := []string{scriptPath, projectRoot}
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Dir = projectRoot
	if err := cmd.Run(); err != nil {
		return Result{}, errors.NewSubprocessError(bin, args, err)
	}

	events, err := readEvents(outPath)
	if err != nil {
		return Result{}, errors.NewSubprocessError(bin, args, err)
	}
	for i := range events {
		if filepath.IsAbs(events[i].file) {
			if rel, err := filepath.Rel(projectRoot, events[i].file); err == nil {
				events[i].file = filepath.ToSlash(rel)
			}
		}
	}
	return filterAndDedupe(events), nil
}

type rawEvent struct {
	kind          string // "call" or "dep"
	callerModule  string
	callerFunc    string
	callerArity   string
	calleeModule  string
	calleeName    string
	calleeArity   string
	file          string
	line          int
	depType       string
}

func readEvents(path string) ([]rawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []rawEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "call":
			if len(fields) != 9 {
				continue
			}
			line, _ := strconv.Atoi(fields[8])
			events = append(events, rawEvent{
				kind: "call", callerModule: fields[1], callerFunc: fields[2],
				callerArity: fields[3], calleeModule: fields[4], calleeName: fields[5],
				calleeArity: fields[6], file: fields[7], line: line,
			})
		case "dep":
			if len(fields) != 6 {
				continue
			}
			line, _ := strconv.Atoi(fields[4])
			events = append(events, rawEvent{
				kind: "dep", callerModule: fields[1], calleeModule: fields[2],
				file: fields[3], line: line, depType: fields[5],
			})
		}
	}
	return events, scanner.Err()
}

func filterAndDedupe(events []rawEvent) Result {
	var out Result
	seenCalls := map[types.CallSiteKey]bool{}
	seenDeps := map[[3]string]bool{}

	for _, ev := range events {
		switch ev.kind {
		case "call":
			if ev.line <= 1 {
				continue // macro-generated call site heuristic
			}
			if common.StdlibDenylist[ev.calleeModule] {
				continue
			}
			if ev.callerModule == "" || ev.calleeModule == "" {
				continue
			}
			callerArity, _ := strconv.Atoi(ev.callerArity)
			calleeArity, _ := strconv.Atoi(ev.calleeArity)
			caller := types.MFAString(ev.callerModule, ev.callerFunc, callerArity)
			if ev.callerFunc == "" {
				continue // module-level event, no enclosing function
			}
			callee := types.MFAString(ev.calleeModule, ev.calleeName, calleeArity)
			ref := types.CallRef{Caller: caller, Callee: callee, File: ev.file, Line: ev.line}
			key := ref.Key()
			if seenCalls[key] {
				continue
			}
			seenCalls[key] = true
			out.Calls = append(out.Calls, ref)
		case "dep":
			if common.StdlibDenylist[ev.calleeModule] || ev.callerModule == "" || ev.calleeModule == "" {
				continue
			}
			depType := types.DepCompile
			if ev.depType == "runtime" {
				depType = types.DepRuntime
			}
			edge := types.DepEdge{From: ev.callerModule, To: ev.calleeModule, Type: depType}
			key := edge.Key()
			if seenDeps[key] {
				continue
			}
			seenDeps[key] = true
			out.Deps = append(out.Deps, edge)
		}
	}
	return out
}

// adapterScript renders the Elixir adapter. It defines an event-sink
// module implementing the Code.tracer behaviour, registers it via
// Code.put_compiler_option/2 and drives the compile with
// Kernel.ParallelCompiler.compile_to_path/3 — the same machinery
// `mix compile` itself calls into, without depending on a Mix project
// actually being loadable standalone. Events are appended as tab-separated
// lines to outPath so the parent process needs no Elixir-specific decoder.
func adapterScript(outPath string) string {
	return `
defmodule ExciTracerSink do
  def start(out_path) do
    {:ok, agent} = Agent.start_link(fn -> [] end)
    Process.register(agent, __MODULE__)
    Process.put(:exci_out_path, out_path)
    agent
  end

  def trace({:remote_function, meta, module, name, arity}, env), do: record(env, module, name, arity, meta)
  def trace({:remote_macro, meta, module, name, arity}, env), do: record(env, module, name, arity, meta)
  def trace({:imported_function, meta, module, name, arity}, env), do: record(env, module, name, arity, meta)
  def trace({:imported_macro, meta, module, name, arity}, env), do: record(env, module, name, arity, meta)
  def trace({:alias_reference, meta, module}, env), do: record_dep(env, module, meta, "runtime")
  def trace({:require, meta, module}, env), do: record_dep(env, module, meta, "compile")
  def trace({:struct_expansion, meta, module, _keys}, env), do: record_dep(env, module, meta, "compile")
  def trace(_event, _env), do: :ok

  defp record(env, module, name, arity, meta) do
    line = Keyword.get(meta, :line, 0)
    fields = [
      "call",
      mod_name(env.module),
      fun_name(env.function),
      fun_arity(env.function),
      mod_name(module),
      Atom.to_string(name),
      Integer.to_string(arity),
      env.file,
      Integer.to_string(line)
    ]
    append_line(fields)
  end

  defp record_dep(env, module, meta, dep_type) do
    line = Keyword.get(meta, :line, 0)
    fields = [
      "dep",
      mod_name(env.module),
      mod_name(module),
      env.file,
      Integer.to_string(line),
      dep_type
    ]
    append_line(fields)
  end

  defp mod_name(nil), do: ""
  defp mod_name(mod), do: mod |> Atom.to_string() |> String.trim_leading("Elixir.")

  defp fun_name(nil), do: ""
  defp fun_name({name, _arity}), do: Atom.to_string(name)

  defp fun_arity(nil), do: "0"
  defp fun_arity({_name, arity}), do: Integer.to_string(arity)

  defp append_line(fields) do
    line = Enum.join(fields, "\t") <> "\n"
    out_path = Process.get(:exci_out_path)
    File.write!(out_path, line, [:append])
  end
end

[project_root] = System.argv()
out_path = ` + elixirStringLiteral(outPath) + `
Process.put(:exci_out_path, out_path)
File.write!(out_path, "", [:write])

Code.put_compiler_option(:tracers, [ExciTracerSink])

sources =
  [Path.join(project_root, "lib"), Path.join(project_root, "test")]
  |> Enum.flat_map(fn dir -> Path.wildcard(Path.join(dir, "**/*.{ex,exs}")) end)

dest = Path.join(System.tmp_dir!(), "exci-tracer-build-" <> Integer.to_string(System.unique_integer([:positive])))
File.mkdir_p!(dest)

try do
  Kernel.ParallelCompiler.compile_to_path(sources, dest)
rescue
  _ -> :ok
catch
  _, _ -> :ok
after
  File.rm_rf!(dest)
end
`
}

func elixirStringLiteral(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
