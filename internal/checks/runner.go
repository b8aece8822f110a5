package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

// DefaultTimeout applies to checks configured without one.
const DefaultTimeout = 5 * time.Minute

// CheckConfig holds what the runner needs to execute one check.
type CheckConfig struct {
	Name    string
	Command string
	Parser  string
	Timeout time.Duration
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// Run in its own process group so a timeout also kills test workers
	// the shell spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers["ruff"] = &RuffParser{}
	r.parsers["pytest"] = &PytestParser{}
	r.parsers["eslint"] = &ESLintParser{}
	r.parsers["typescript"] = &TypeScriptParser{}
	r.parsers["vitest"] = &VitestParser{}
	r.parsers["go"] = &GoParser{}
	r.parsers["generic"] = &GenericParser{}
	return r
}

// ParserNames lists the parser names a check may be configured with.
func ParserNames() []string {
	return []string{"auto", "ruff", "pytest", "eslint", "typescript", "vitest", "go", "generic"}
}

// Run executes a single check in dir. An empty command yields a skipped,
// passing result. A command that outlives its timeout yields a failed
// result with TimedOut set; cancellation of ctx itself is returned as an
// error.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*pipeline.CheckResult, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return &pipeline.CheckResult{
			Name:    cfg.Name,
			Passed:  true,
			Skipped: true,
			Summary: "skipped (no command)",
		}, nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			to := &pipeline.ExternalCallTimeout{Call: fmt.Sprintf("%s command %q", cfg.Name, cfg.Command), Timeout: timeout, Err: err}
			return &pipeline.CheckResult{
				Name:       cfg.Name,
				Command:    cfg.Command,
				Passed:     false,
				TimedOut:   true,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Stdout:     stdout,
				Stderr:     stderr,
				Errors:     append([]string{to.Error()}, tailLines(stdout, stderr, 20)...),
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	name := cfg.Parser
	if name == "" || name == "auto" {
		name = ParserFor(cfg.Command)
	}
	parser, ok := r.parsers[name]
	if !ok {
		parser = r.parsers["generic"]
	}
	parsed := parser.Parse(stdout, stderr, exitCode)
	// pytest exits 5 when it collected no tests; the parser decides.
	passed := parsed.Passed && (exitCode == 0 || name == "pytest" && exitCode == 5)

	return &pipeline.CheckResult{
		Name:       cfg.Name,
		Command:    cfg.Command,
		Passed:     passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Stdout:     stdout,
		Stderr:     stderr,
		Errors:     parsed.Messages,
	}, nil
}
