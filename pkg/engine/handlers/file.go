package handlers

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openfroyo/manifests/pkg/engine"
)

// File manages files and directories. The resource name is the path.
//
// Parameters: ensure (file, present, directory or absent), content and
// mode as an octal string.
type File struct{}

// NewFile returns the file handler.
func NewFile() *File {
	return &File{}
}

// Apply converges the path.
func (h *File) Apply(ctx context.Context, req *engine.Request) (engine.Result, error) {
	path := req.Resource.Name
	if !filepath.IsAbs(path) {
		return engine.Result{}, fmt.Errorf("file path must be absolute: %s", path)
	}

	var mode fs.FileMode
	if m := req.ParamDefault("mode", ""); m != "" {
		parsed, err := strconv.ParseUint(m, 8, 32)
		if err != nil {
			return engine.Result{}, fmt.Errorf("invalid mode %q: %w", m, err)
		}
		mode = fs.FileMode(parsed)
	}

	switch ensure := req.ParamDefault("ensure", "file"); ensure {
	case "file", "present":
		return h.ensureFile(req, path, mode)
	case "directory":
		return h.ensureDirectory(req, path, mode)
	case "absent":
		return h.ensureAbsent(req, path)
	default:
		return engine.Result{}, fmt.Errorf("invalid ensure value %q", ensure)
	}
}

func (h *File) ensureFile(req *engine.Request, path string, mode fs.FileMode) (engine.Result, error) {
	content, hasContent := req.Param("content")

	info, err := os.Stat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return engine.Result{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if exists && info.IsDir() {
		return engine.Result{}, fmt.Errorf("%s is a directory", path)
	}

	var actions []string

	writeContent := !exists
	if exists && hasContent {
		current, err := os.ReadFile(path)
		if err != nil {
			return engine.Result{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		writeContent = sha256.Sum256(current) != sha256.Sum256([]byte(content))
	}
	if writeContent {
		if exists {
			actions = append(actions, "content changed")
		} else {
			actions = append(actions, "created")
		}
	}

	perm := mode
	if perm == 0 {
		perm = 0o644
	}
	chmod := mode != 0 && (!exists || info.Mode().Perm() != mode)
	if chmod && exists {
		actions = append(actions, fmt.Sprintf("mode changed to %04o", mode))
	}

	if len(actions) == 0 {
		return engine.Result{Message: "in sync"}, nil
	}
	if req.Noop {
		return engine.Result{Changed: true, Message: "would be " + strings.Join(actions, ", ")}, nil
	}

	if writeContent {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return engine.Result{}, fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), perm); err != nil {
			return engine.Result{}, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	if chmod || (writeContent && !exists) {
		if err := os.Chmod(path, perm); err != nil {
			return engine.Result{}, fmt.Errorf("failed to chmod %s: %w", path, err)
		}
	}

	return engine.Result{Changed: true, Message: strings.Join(actions, ", ")}, nil
}

func (h *File) ensureDirectory(req *engine.Request, path string, mode fs.FileMode) (engine.Result, error) {
	info, err := os.Stat(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return engine.Result{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err == nil {
		if !info.IsDir() {
			return engine.Result{}, fmt.Errorf("%s exists and is not a directory", path)
		}
		if mode == 0 || info.Mode().Perm() == mode {
			return engine.Result{Message: "in sync"}, nil
		}
		if req.Noop {
			return engine.Result{Changed: true, Message: fmt.Sprintf("would change mode to %04o", mode)}, nil
		}
		if err := os.Chmod(path, mode); err != nil {
			return engine.Result{}, fmt.Errorf("failed to chmod %s: %w", path, err)
		}
		return engine.Result{Changed: true, Message: fmt.Sprintf("mode changed to %04o", mode)}, nil
	}

	if req.Noop {
		return engine.Result{Changed: true, Message: "would be created"}, nil
	}
	perm := mode
	if perm == 0 {
		perm = 0o755
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return engine.Result{}, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := os.Chmod(path, perm); err != nil {
		return engine.Result{}, fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return engine.Result{Changed: true, Message: "created"}, nil
}

func (h *File) ensureAbsent(req *engine.Request, path string) (engine.Result, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return engine.Result{Message: "already absent"}, nil
	}
	if err != nil {
		return engine.Result{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return engine.Result{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(entries) > 0 {
			return engine.Result{}, fmt.Errorf("refusing to remove non-empty directory %s", path)
		}
	}
	if req.Noop {
		return engine.Result{Changed: true, Message: "would be removed"}, nil
	}
	if err := os.Remove(path); err != nil {
		return engine.Result{}, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return engine.Result{Changed: true, Message: "removed"}, nil
}
