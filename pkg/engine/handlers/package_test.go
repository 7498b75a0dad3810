package handlers

import (
	"context"
	"reflect"
	"testing"
)

func aptRunner() *fakeRunner {
	r := newFakeRunner()
	r.binaries["apt-get"] = true
	return r
}

func TestPackage_Installed(t *testing.T) {
	r := aptRunner()
	r.on("dpkg-query -W -f=${Status} ${Version} nginx", 0, "install ok installed 1.24.0-2")

	res, err := NewPackage(r).Apply(context.Background(), request("package", "nginx", "ensure", "installed"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Changed || res.Message != "installed 1.24.0-2" {
		t.Errorf("Expected in sync, got %+v", res)
	}
	if r.ran("apt-get install -y nginx") {
		t.Error("Expected no install")
	}
}

func TestPackage_Install(t *testing.T) {
	r := aptRunner()
	r.on("dpkg-query -W -f=${Status} ${Version} nginx", 1, "")

	res, err := NewPackage(r).Apply(context.Background(), request("package", "nginx"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.Changed || res.Message != "installed" {
		t.Errorf("Expected installed, got %+v", res)
	}

	last := r.commands[len(r.commands)-1]
	if last.String() != "apt-get install -y nginx" {
		t.Errorf("Expected apt-get install, got %s", last)
	}
	if !reflect.DeepEqual(last.Env, []string{"DEBIAN_FRONTEND=noninteractive"}) {
		t.Errorf("Expected noninteractive env, got %v", last.Env)
	}
}

func TestPackage_ConfigFilesOnlyIsAbsent(t *testing.T) {
	r := aptRunner()
	r.on("dpkg-query -W -f=${Status} ${Version} nginx", 0, "deinstall ok config-files 1.24.0-2")

	res, err := NewPackage(r).Apply(context.Background(), request("package", "nginx", "ensure", "absent"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Changed {
		t.Errorf("Expected already absent, got %+v", res)
	}
}

func TestPackage_Actions(t *testing.T) {
	tests := []struct {
		name      string
		manager   string
		installed bool
		ensure    string
		expected  string
	}{
		{"apt remove", "apt", true, "absent", "apt-get remove -y vim"},
		{"apt purge", "apt", true, "purged", "apt-get purge -y vim"},
		{"dnf install", "dnf", false, "present", "dnf install -y vim"},
		{"yum remove", "yum", true, "absent", "yum remove -y vim"},
		{"zypper install", "zypper", false, "installed", "zypper --non-interactive install vim"},
		{"zypper latest", "zypper", true, "latest", "zypper --non-interactive update vim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			if tt.installed {
				r.on("dpkg-query -W -f=${Status} ${Version} vim", 0, "install ok installed 9.0")
			} else {
				r.on("dpkg-query -W -f=${Status} ${Version} vim", 1, "")
				r.on("rpm -q --queryformat %{VERSION}-%{RELEASE} vim", 1, "")
			}

			_, err := NewPackage(r).Apply(context.Background(),
				request("package", "vim", "ensure", tt.ensure, "manager", tt.manager))
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if !r.ran(tt.expected) {
				t.Errorf("Expected %q, got %v", tt.expected, r.lines())
			}
		})
	}
}

func TestPackage_Latest(t *testing.T) {
	r := newFakeRunner()
	r.binaries["dnf"] = true
	r.on("rpm -q --queryformat %{VERSION}-%{RELEASE} git", 0, "2.43.0-1")

	res, err := NewPackage(r).Apply(context.Background(), request("package", "git", "ensure", "latest"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !r.ran("dnf upgrade -y git") {
		t.Errorf("Expected dnf upgrade, got %v", r.lines())
	}
	if res.Changed {
		t.Errorf("Expected unchanged version to report no change, got %+v", res)
	}
}

func TestPackage_Detect(t *testing.T) {
	r := newFakeRunner()
	r.binaries["yum"] = true
	r.binaries["zypper"] = true

	h := NewPackage(r)
	manager, err := h.detect()
	if err != nil || manager != "yum" {
		t.Errorf("Expected yum, got %s (%v)", manager, err)
	}

	if _, err := NewPackage(newFakeRunner()).Apply(context.Background(), request("package", "vim")); err == nil {
		t.Error("Expected error without a package manager")
	}
}

func TestPackage_Noop(t *testing.T) {
	r := aptRunner()
	r.on("dpkg-query -W -f=${Status} ${Version} nginx", 1, "")
	req := request("package", "nginx")
	req.Noop = true

	res, err := NewPackage(r).Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.Changed || res.Message != "would install" {
		t.Errorf("Expected would install, got %+v", res)
	}
	if r.ran("apt-get install -y nginx") {
		t.Error("Expected noop not to install")
	}
}

func TestPackage_Errors(t *testing.T) {
	r := aptRunner()
	r.on("dpkg-query -W -f=${Status} ${Version} nginx", 1, "")
	r.on("apt-get install -y nginx", 100, "")

	if _, err := NewPackage(r).Apply(context.Background(), request("package", "nginx")); err == nil {
		t.Error("Expected install failure to be returned")
	}
	if _, err := NewPackage(r).Apply(context.Background(), request("package", "nginx", "ensure", "sideways")); err == nil {
		t.Error("Expected error for invalid ensure")
	}
	if _, err := NewPackage(r).Apply(context.Background(), request("package", "nginx", "manager", "pacman")); err == nil {
		t.Error("Expected error for unsupported manager")
	}
}
