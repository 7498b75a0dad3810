package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/engine"
)

// fakeRunner answers commands from a table keyed by Command.String().
// Unknown commands exit 0 with no output.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]*Output
	errs      map[string]error
	binaries  map[string]bool
	commands  []Command
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string]*Output),
		errs:      make(map[string]error),
		binaries:  make(map[string]bool),
	}
}

func (f *fakeRunner) on(line string, exitCode int, stdout string) {
	f.responses[line] = &Output{ExitCode: exitCode, Stdout: stdout}
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) (*Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if err := f.errs[cmd.String()]; err != nil {
		return nil, err
	}
	if out, ok := f.responses[cmd.String()]; ok {
		return out, nil
	}
	return &Output{}, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.binaries[name] {
		return "/usr/bin/" + name, nil
	}
	return "", fmt.Errorf("%s: not found", name)
}

func (f *fakeRunner) ran(line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c.String() == line {
			return true
		}
	}
	return false
}

func (f *fakeRunner) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	for i, c := range f.commands {
		out[i] = c.String()
	}
	return out
}

// request builds a handler request from alternating parameter names and values.
func request(typ, name string, kv ...string) *engine.Request {
	res := catalog.Resource{Type: typ, Name: name, Declared: true}
	params := make(map[string]string)
	for i := 0; i+1 < len(kv); i += 2 {
		res.Parameters = append(res.Parameters, catalog.Parameter{Name: kv[i], Value: kv[i+1]})
		params[kv[i]] = kv[i+1]
	}
	return &engine.Request{Resource: res, Params: params, Logger: zerolog.Nop()}
}
