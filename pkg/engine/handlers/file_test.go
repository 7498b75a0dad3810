package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFile_EnsureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "motd")
	h := NewFile()

	res, err := h.Apply(context.Background(), request("file", path, "content", "hello\n", "mode", "0600"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.Changed || res.Message != "created" {
		t.Errorf("Expected created, got %+v", res)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("Expected content hello, got %q", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600, got %04o", info.Mode().Perm())
	}

	res, err = h.Apply(context.Background(), request("file", path, "content", "hello\n", "mode", "0600"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Changed {
		t.Errorf("Expected second apply to be in sync, got %+v", res)
	}

	res, err = h.Apply(context.Background(), request("file", path, "content", "bye\n", "mode", "0640"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.Changed || res.Message != "content changed, mode changed to 0640" {
		t.Errorf("Expected content and mode change, got %+v", res)
	}
}

func TestFile_ExistingWithoutContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep")
	if err := os.WriteFile(path, []byte("local edits"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := NewFile().Apply(context.Background(), request("file", path, "ensure", "present"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Changed {
		t.Error("Expected an existing file without content to be left alone")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "local edits" {
		t.Errorf("Expected content untouched, got %q", data)
	}
}

func TestFile_Noop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motd")
	req := request("file", path, "content", "hello")
	req.Noop = true

	res, err := NewFile().Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.Changed || res.Message != "would be created" {
		t.Errorf("Expected would be created, got %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected noop not to create the file")
	}
}

func TestFile_Directory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srv", "www")
	h := NewFile()

	res, err := h.Apply(context.Background(), request("file", path, "ensure", "directory", "mode", "0750"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.Changed {
		t.Error("Expected directory to be created")
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || info.Mode().Perm() != 0o750 {
		t.Fatalf("Expected directory with mode 0750, got %v (%v)", info, err)
	}

	res, err = h.Apply(context.Background(), request("file", path, "ensure", "directory", "mode", "0750"))
	if err != nil || res.Changed {
		t.Errorf("Expected directory in sync, got %+v (%v)", res, err)
	}

	if _, err := h.Apply(context.Background(), request("file", path, "content", "x")); err == nil {
		t.Error("Expected error managing a directory as a file")
	}
}

func TestFile_Absent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewFile()

	res, err := h.Apply(context.Background(), request("file", path, "ensure", "absent"))
	if err != nil || !res.Changed {
		t.Fatalf("Expected file removed, got %+v (%v)", res, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be gone")
	}

	res, err = h.Apply(context.Background(), request("file", path, "ensure", "absent"))
	if err != nil || res.Changed {
		t.Errorf("Expected already absent, got %+v (%v)", res, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "child"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(context.Background(), request("file", dir, "ensure", "absent")); err == nil {
		t.Error("Expected error removing a non-empty directory")
	}
}

func TestFile_Errors(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "f")
	tests := []struct {
		name string
		path string
		kv   []string
	}{
		{"relative path", "etc/motd", nil},
		{"invalid mode", abs, []string{"mode", "rw-r--r--"}},
		{"invalid ensure", abs, []string{"ensure", "link"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFile().Apply(context.Background(), request("file", tt.path, tt.kv...)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
