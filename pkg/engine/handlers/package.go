package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openfroyo/manifests/pkg/engine"
)

// Package manages system packages with the first package manager found
// among apt, dnf, yum and zypper.
//
// Parameters: ensure (installed, present, latest, absent or purged),
// manager to bypass detection.
type Package struct {
	runner Runner

	once    sync.Once
	manager string
	err     error
}

// NewPackage returns the package handler.
func NewPackage(r Runner) *Package {
	return &Package{runner: r}
}

// managers in detection order, keyed by the binary looked up on $PATH.
var managers = []struct {
	binary string
	name   string
}{
	{"apt-get", "apt"},
	{"dnf", "dnf"},
	{"yum", "yum"},
	{"zypper", "zypper"},
}

// Apply converges the package.
func (h *Package) Apply(ctx context.Context, req *engine.Request) (engine.Result, error) {
	name := req.Resource.Name

	manager := req.ParamDefault("manager", "")
	if manager == "" {
		var err error
		if manager, err = h.detect(); err != nil {
			return engine.Result{}, err
		}
	}

	installed, version, err := h.query(ctx, manager, name)
	if err != nil {
		return engine.Result{}, fmt.Errorf("failed to check package status: %w", err)
	}

	var action string
	switch ensure := req.ParamDefault("ensure", "installed"); ensure {
	case "installed", "present":
		if installed {
			return engine.Result{Message: "installed " + version}, nil
		}
		action = "install"
	case "latest":
		action = "install"
		if installed {
			action = "upgrade"
		}
	case "absent":
		if !installed {
			return engine.Result{Message: "already absent"}, nil
		}
		action = "remove"
	case "purged":
		if !installed {
			return engine.Result{Message: "already absent"}, nil
		}
		action = "purge"
	default:
		return engine.Result{}, fmt.Errorf("invalid ensure value %q", ensure)
	}

	if req.Noop {
		return engine.Result{Changed: true, Message: "would " + action}, nil
	}

	cmd, err := packageCommand(manager, action, name)
	if err != nil {
		return engine.Result{}, err
	}
	req.Logger.Debug().Str("manager", manager).Str("action", action).Msg("Running package manager")
	if _, err := run(ctx, h.runner, cmd); err != nil {
		return engine.Result{}, fmt.Errorf("failed to %s package: %w", action, err)
	}

	if action == "upgrade" {
		_, newVersion, err := h.query(ctx, manager, name)
		if err != nil {
			return engine.Result{}, fmt.Errorf("failed to check package status: %w", err)
		}
		if newVersion == version {
			return engine.Result{Message: "latest " + version}, nil
		}
		return engine.Result{Changed: true, Message: fmt.Sprintf("upgraded %s -> %s", version, newVersion)}, nil
	}

	return engine.Result{Changed: true, Message: pastTense[action]}, nil
}

func (h *Package) detect() (string, error) {
	h.once.Do(func() {
		for _, m := range managers {
			if _, err := h.runner.LookPath(m.binary); err == nil {
				h.manager = m.name
				return
			}
		}
		h.err = fmt.Errorf("no supported package manager found")
	})
	return h.manager, h.err
}

// query reports whether name is installed and at which version.
func (h *Package) query(ctx context.Context, manager, name string) (bool, string, error) {
	var cmd Command
	switch manager {
	case "apt":
		cmd = Command{Name: "dpkg-query", Args: []string{"-W", "-f=${Status} ${Version}", name}}
	case "dnf", "yum", "zypper":
		cmd = Command{Name: "rpm", Args: []string{"-q", "--queryformat", "%{VERSION}-%{RELEASE}", name}}
	default:
		return false, "", fmt.Errorf("unsupported package manager: %s", manager)
	}

	out, err := h.runner.Run(ctx, cmd)
	if err != nil {
		return false, "", err
	}
	if out.ExitCode != 0 {
		return false, "", nil
	}

	version := strings.TrimSpace(out.Stdout)
	if manager == "apt" {
		// dpkg keeps removed packages with status "deinstall ok config-files".
		fields := strings.Fields(version)
		if len(fields) < 4 || fields[2] != "installed" {
			return false, "", nil
		}
		version = fields[3]
	}
	return true, version, nil
}

var pastTense = map[string]string{
	"install": "installed",
	"remove":  "removed",
	"purge":   "purged",
}

func packageCommand(manager, action, name string) (Command, error) {
	var args []string
	switch manager {
	case "apt":
		switch action {
		case "install":
			args = []string{"install", "-y", name}
		case "upgrade":
			args = []string{"install", "-y", "--only-upgrade", name}
		case "remove":
			args = []string{"remove", "-y", name}
		case "purge":
			args = []string{"purge", "-y", name}
		}
		return Command{Name: "apt-get", Args: args, Env: []string{"DEBIAN_FRONTEND=noninteractive"}}, nil
	case "dnf", "yum":
		switch action {
		case "install":
			args = []string{"install", "-y", name}
		case "upgrade":
			args = []string{"upgrade", "-y", name}
		case "remove", "purge":
			args = []string{"remove", "-y", name}
		}
		return Command{Name: manager, Args: args}, nil
	case "zypper":
		switch action {
		case "install":
			args = []string{"--non-interactive", "install", name}
		case "upgrade":
			args = []string{"--non-interactive", "update", name}
		case "remove", "purge":
			args = []string{"--non-interactive", "remove", name}
		}
		return Command{Name: "zypper", Args: args}, nil
	default:
		return Command{}, fmt.Errorf("unsupported package manager: %s", manager)
	}
}
