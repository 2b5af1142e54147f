// Package diagnostics runs a forced compile in a scratch build directory
// and line-scans the compiler's warning/error output, since the compiler
// as of Elixir 1.15 does not emit diagnostics in a machine-readable form.
package diagnostics

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/exci-dev/exci/internal/errors"
	"github.com/exci-dev/exci/internal/types"
)

// Result holds a run's diagnostic contribution.
type Result struct {
	Diagnostics []types.Diagnostic
}

// Extractor drives `mix compile` in a scratch build directory so the
// caller's own `_build` is never disturbed.
type Extractor struct {
	MixBin  string
	Timeout time.Duration
}

var fileLineRe = regexp.MustCompile(`([\w./\-]+\.exs?):(\d+)`)

// Run forces a full recompile into a fresh scratch build path and parses
// the resulting warning/error blocks. A failure to even start the
// subprocess is wrapped as a SubprocessError with an empty Result; a
// non-zero exit from a compile that produced diagnostics is not an error.
func (e Extractor) Run(ctx context.Context, projectRoot string) (Result, error) {
	bin := e.MixBin
	if bin == "" {
		bin = "mix"
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	scratch, err := os.MkdirTemp("", "exci-diagnostics-*")
	if err != nil {
		return Result{}, errors.NewSubprocessError(bin, []string{"compile"}, err)
	}
	defer os.RemoveAll(scratch)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"compile", "--force", "--warnings-as-errors=false"}
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Dir = projectRoot
	cmd.Env = append(os.Environ(), "MIX_BUILD_PATH="+scratch)

	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return Result{}, errors.NewSubprocessError(bin, args, runErr)
		}
	}
	return Result{Diagnostics: parseDiagnostics(out)}, nil
}

func parseDiagnostics(output []byte) []types.Diagnostic {
	lines := strings.Split(string(output), "\n")
	var diags []types.Diagnostic
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(trimmed, "warning:"):
			msg := strings.TrimSpace(strings.TrimPrefix(trimmed, "warning:"))
			file, line := scanForLocation(lines, i+1, 6)
			diags = append(diags, types.Diagnostic{
				Severity: types.SeverityWarning, Message: msg, File: file, Line: line,
			})
		case strings.HasPrefix(trimmed, "error:"):
			msg := strings.TrimSpace(strings.TrimPrefix(trimmed, "error:"))
			file, line := scanForLocation(lines, i+1, 6)
			diags = append(diags, types.Diagnostic{
				Severity: types.SeverityError, Message: msg, File: file, Line: line,
			})
		case strings.HasPrefix(trimmed, "**"):
			file, line := locationInLine(trimmed)
			if file == "" {
				file, line = scanForLocation(lines, i+1, 3)
			}
			diags = append(diags, types.Diagnostic{
				Severity: types.SeverityError, Message: trimmed, File: file, Line: line,
			})
		}
	}
	return diags
}

func scanForLocation(lines []string, start, maxAhead int) (file string, line int) {
	end := start + maxAhead
	if end > len(lines) {
		end = len(lines)
	}
	for j := start; j < end; j++ {
		if file, line = locationInLine(lines[j]); file != "" {
			return file, line
		}
	}
	return "", 0
}

func locationInLine(s string) (file string, line int) {
	m := fileLineRe.FindStringSubmatch(s)
	if m == nil {
		return "", 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0
	}
	return m[1], n
}
