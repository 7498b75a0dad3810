package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/manifests/pkg/engine"
)

// Service manages systemd units through systemctl.
//
// Parameters: ensure (running or stopped, true and false accepted) and
// enable (true or false). A running service is restarted on refresh.
type Service struct {
	runner Runner
}

// NewService returns the service handler.
func NewService(r Runner) *Service {
	return &Service{runner: r}
}

// Apply converges the unit.
func (h *Service) Apply(ctx context.Context, req *engine.Request) (engine.Result, error) {
	name := req.Resource.Name

	var actions []string

	ensure := req.ParamDefault("ensure", "")
	switch ensure {
	case "", "running", "true", "stopped", "false":
	default:
		return engine.Result{}, fmt.Errorf("invalid ensure value %q", ensure)
	}
	wantRunning := ensure == "running" || ensure == "true"
	wantStopped := ensure == "stopped" || ensure == "false"

	active, err := h.is(ctx, "is-active", name)
	if err != nil {
		return engine.Result{}, err
	}

	switch {
	case wantRunning && !active:
		actions = append(actions, "start")
	case wantStopped && active:
		actions = append(actions, "stop")
	case req.Refresh && active && !wantStopped:
		actions = append(actions, "restart")
	}

	if v, ok := req.Param("enable"); ok && v != "" {
		want := req.Bool("enable", false)
		enabled, err := h.is(ctx, "is-enabled", name)
		if err != nil {
			return engine.Result{}, err
		}
		if want && !enabled {
			actions = append(actions, "enable")
		} else if !want && enabled {
			actions = append(actions, "disable")
		}
	}

	if len(actions) == 0 {
		return engine.Result{Message: "in sync"}, nil
	}
	if req.Noop {
		return engine.Result{Changed: true, Message: "would " + strings.Join(actions, ", ")}, nil
	}

	for _, action := range actions {
		req.Logger.Debug().Str("action", action).Msg("Running systemctl")
		if _, err := run(ctx, h.runner, Command{Name: "systemctl", Args: []string{action, name}}); err != nil {
			return engine.Result{}, fmt.Errorf("failed to %s %s: %w", action, name, err)
		}
	}

	return engine.Result{Changed: true, Message: strings.Join(actions, ", ")}, nil
}

// is runs a systemctl query; exit status 0 means yes.
func (h *Service) is(ctx context.Context, query, name string) (bool, error) {
	out, err := h.runner.Run(ctx, Command{Name: "systemctl", Args: []string{query, "--quiet", name}})
	if err != nil {
		return false, fmt.Errorf("systemctl %s %s: %w", query, name, err)
	}
	return out.ExitCode == 0, nil
}
