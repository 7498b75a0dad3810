package handlers

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/openfroyo/manifests/pkg/engine"
)

// Exec providers.
const (
	ProviderPosix = "posix"
	ProviderShell = "shell"
)

// Exec runs commands.
//
// Parameters: command (required), provider (posix or shell), onlyif,
// unless, creates, cwd, path, environment, returns, refresh and timeout
// in seconds. The posix provider splits the command with shell quoting
// rules and runs it directly; the shell provider hands it to /bin/sh.
type Exec struct {
	runner Runner
}

// NewExec returns the exec handler.
func NewExec(r Runner) *Exec {
	return &Exec{runner: r}
}

// Apply runs the command unless one of its guards says it is not needed.
func (h *Exec) Apply(ctx context.Context, req *engine.Request) (engine.Result, error) {
	command, ok := req.Param("command")
	if !ok || strings.TrimSpace(command) == "" {
		return engine.Result{}, fmt.Errorf("exec %s: command is required", req.Resource.Name)
	}
	if req.Refresh {
		if refresh, ok := req.Param("refresh"); ok && refresh != "" {
			command = refresh
		}
	}

	if creates, ok := req.Param("creates"); ok && creates != "" {
		if _, err := os.Stat(creates); err == nil {
			return engine.Result{Message: creates + " exists"}, nil
		}
	}

	if onlyif, ok := req.Param("onlyif"); ok && onlyif != "" {
		out, err := h.check(ctx, req, onlyif)
		if err != nil {
			return engine.Result{}, fmt.Errorf("onlyif: %w", err)
		}
		if out.ExitCode != 0 {
			return engine.Result{Message: "onlyif check failed"}, nil
		}
	}

	if unless, ok := req.Param("unless"); ok && unless != "" {
		out, err := h.check(ctx, req, unless)
		if err != nil {
			return engine.Result{}, fmt.Errorf("unless: %w", err)
		}
		if out.ExitCode == 0 {
			return engine.Result{Message: "unless check passed"}, nil
		}
	}

	if req.Noop {
		return engine.Result{Changed: true, Message: "would run " + command}, nil
	}

	returns, err := exitCodes(req)
	if err != nil {
		return engine.Result{}, err
	}

	if timeout := req.ParamDefault("timeout", ""); timeout != "" {
		secs, err := strconv.Atoi(timeout)
		if err != nil || secs < 0 {
			return engine.Result{}, fmt.Errorf("invalid timeout %q", timeout)
		}
		if secs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
			defer cancel()
		}
	}

	cmd, err := h.command(req, command)
	if err != nil {
		return engine.Result{}, err
	}

	req.Logger.Debug().Str("command", cmd.String()).Msg("Running command")

	out, err := h.runner.Run(ctx, cmd)
	if err != nil {
		return engine.Result{}, err
	}
	if !slices.Contains(returns, out.ExitCode) {
		return engine.Result{}, fmt.Errorf("%s returned %d instead of one of %v: %s",
			command, out.ExitCode, returns, strings.TrimSpace(out.Stderr))
	}

	return engine.Result{Changed: true, Message: fmt.Sprintf("executed successfully in %s", out.Duration)}, nil
}

func (h *Exec) check(ctx context.Context, req *engine.Request, command string) (*Output, error) {
	cmd, err := h.command(req, command)
	if err != nil {
		return nil, err
	}
	return h.runner.Run(ctx, cmd)
}

// command builds the process for one command line of req.
func (h *Exec) command(req *engine.Request, line string) (Command, error) {
	cmd := Command{
		Dir:  req.ParamDefault("cwd", ""),
		Env:  req.List("environment"),
		Path: req.ParamDefault("path", ""),
	}

	switch provider := req.ParamDefault("provider", ProviderPosix); provider {
	case ProviderShell:
		cmd.Name = "/bin/sh"
		cmd.Args = []string{"-c", line}
	case ProviderPosix:
		parser := shellwords.NewParser()
		words, err := parser.Parse(line)
		if err != nil {
			return Command{}, fmt.Errorf("failed to parse command %q: %w", line, err)
		}
		if len(words) == 0 {
			return Command{}, fmt.Errorf("empty command")
		}
		cmd.Name = words[0]
		cmd.Args = words[1:]
	default:
		return Command{}, fmt.Errorf("unknown exec provider %q", provider)
	}

	return cmd, nil
}

// exitCodes parses the returns parameter.
func exitCodes(req *engine.Request) ([]int, error) {
	values := req.List("returns")
	if len(values) == 0 {
		return []int{0}, nil
	}
	codes := make([]int, 0, len(values))
	for _, v := range values {
		code, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid return code %q", v)
		}
		codes = append(codes, code)
	}
	return codes, nil
}
