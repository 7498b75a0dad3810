package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Command is a process to run.
type Command struct {
	// Name is the program. Without a slash it is resolved against Path,
	// or against $PATH when Path is empty.
	Name string

	// Args are the program arguments.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is added to the inherited environment.
	Env []string

	// Path is a colon separated search path used for Name and exported
	// as PATH to the process.
	Path string

	// Stdin is fed to the process.
	Stdin io.Reader
}

// String renders the command line.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Output is the result of a finished process.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner runs processes. A non-zero exit is reported through
// Output.ExitCode; an error means the process could not run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
	LookPath(name string) (string, error)
}

// OSRunner runs processes on the local host.
type OSRunner struct{}

// Run executes cmd and waits for it to finish.
func (OSRunner) Run(ctx context.Context, c Command) (*Output, error) {
	name := c.Name
	if c.Path != "" && !strings.Contains(name, "/") {
		resolved, err := lookPathIn(name, c.Path)
		if err != nil {
			return nil, err
		}
		name = resolved
	}

	cmd := exec.CommandContext(ctx, name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	if len(c.Env) > 0 || c.Path != "" {
		env := os.Environ()
		if c.Path != "" {
			env = append(env, "PATH="+c.Path)
		}
		cmd.Env = append(env, c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", c.Name, err)
	}
	return out, nil
}

// LookPath resolves name against $PATH.
func (OSRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// lookPathIn resolves name against an explicit search path. exec.LookPath
// only searches $PATH of the current process, so each directory is tried
// with a slash-qualified candidate, which LookPath checks in place.
func lookPathIn(name, path string) (string, error) {
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		if resolved, err := exec.LookPath(filepath.Join(dir, name)); err == nil {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%s: %w in %s", name, exec.ErrNotFound, path)
}

// run executes cmd and turns a non-zero exit into an error carrying stderr.
func run(ctx context.Context, r Runner, cmd Command) (*Output, error) {
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return out, fmt.Errorf("%s exited with %d: %s", cmd, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return out, nil
}
