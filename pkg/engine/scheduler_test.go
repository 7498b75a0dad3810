package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/telemetry"
)

func TestApply_OrdersLevels(t *testing.T) {
	h := newRecordingHandler()
	e := newTestEngine(t, h)

	cat := mustBuild(t, e, bucketOf(
		declared("service", "nginx", "require", "File[/etc/nginx.conf]"),
		declared("file", "/etc/nginx.conf", "require", "Package[nginx]"),
		declared("package", "nginx"),
	))

	if err := cat.Apply(context.Background()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	pkg, file, svc := h.position("Package[nginx]"), h.position("File[/etc/nginx.conf]"), h.position("Service[nginx]")
	if !(pkg < file && file < svc) {
		t.Errorf("Expected package, file, service order, got calls %v", h.calls)
	}

	report := cat.Report()
	if len(report.Outcomes) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(report.Outcomes))
	}
	// Outcomes follow bucket order.
	if report.Outcomes[0].Ref != "Service[nginx]" || report.Outcomes[2].Ref != "Package[nginx]" {
		t.Errorf("Expected outcomes in bucket order, got %+v", report.Outcomes)
	}
	if report.Counts()[StatusUnchanged] != 3 {
		t.Errorf("Expected 3 unchanged, got %v", report.Counts())
	}
}

func TestApply_ParallelWithinLevel(t *testing.T) {
	h := newRecordingHandler()
	h.delay = 50 * time.Millisecond
	e := newTestEngine(t, h, WithParallelism(2))

	cat := mustBuild(t, e, bucketOf(
		declared("exec", "a"),
		declared("exec", "b"),
		declared("exec", "c"),
		declared("exec", "d"),
	))

	if err := cat.Apply(context.Background()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if h.maxActive < 2 {
		t.Errorf("Expected resources of one level to run concurrently, max active %d", h.maxActive)
	}
	if h.maxActive > 2 {
		t.Errorf("Expected parallelism limit of 2, max active %d", h.maxActive)
	}
}

func TestApply_FailureSkipsDependents(t *testing.T) {
	h := newRecordingHandler()
	h.fail["Package[nginx]"] = true
	e := newTestEngine(t, h)

	cat := mustBuild(t, e, bucketOf(
		declared("package", "nginx"),
		declared("file", "/etc/nginx.conf", "require", "Package[nginx]"),
		declared("service", "nginx", "require", "File[/etc/nginx.conf]"),
		declared("exec", "unrelated"),
	))

	err := cat.Apply(context.Background())
	if err == nil {
		t.Fatal("Expected apply error, got nil")
	}
	if !HasCode(err, ErrCodeResourceFailed) {
		t.Errorf("Expected %s in error, got %v", ErrCodeResourceFailed, err)
	}
	if HasCode(err, ErrCodeDependencyFailed) {
		t.Errorf("Expected skipped dependents not to be joined into the error, got %v", err)
	}

	if h.called("File[/etc/nginx.conf]") || h.called("Service[nginx]") {
		t.Error("Expected dependents of a failed resource not to run")
	}
	if !h.called("Exec[unrelated]") {
		t.Error("Expected unrelated resource to run")
	}

	file := outcomeOf(t, cat, "File[/etc/nginx.conf]")
	if file.Status != StatusSkipped || !HasCode(file.Err, ErrCodeDependencyFailed) {
		t.Errorf("Expected file skipped with %s, got %+v", ErrCodeDependencyFailed, file)
	}
	// Skips propagate transitively.
	svc := outcomeOf(t, cat, "Service[nginx]")
	if svc.Status != StatusSkipped || !HasCode(svc.Err, ErrCodeDependencyFailed) {
		t.Errorf("Expected service skipped with %s, got %+v", ErrCodeDependencyFailed, svc)
	}

	failed := cat.Report().Failed()
	if len(failed) != 1 || failed[0].Ref != "Package[nginx]" {
		t.Errorf("Expected only Package[nginx] failed, got %+v", failed)
	}
}

func TestApply_JoinsFailures(t *testing.T) {
	h := newRecordingHandler()
	h.fail["Exec[a]"] = true
	h.fail["Exec[b]"] = true
	e := newTestEngine(t, h)

	cat := mustBuild(t, e, bucketOf(declared("exec", "a"), declared("exec", "b")))

	err := cat.Apply(context.Background())
	if err == nil {
		t.Fatal("Expected apply error")
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("Expected joined error, got %T", err)
	}
	if len(joined.Unwrap()) != 2 {
		t.Errorf("Expected 2 joined failures, got %d", len(joined.Unwrap()))
	}
	if !strings.Contains(err.Error(), "Exec[a] failed") || !strings.Contains(err.Error(), "Exec[b] failed") {
		t.Errorf("Expected both failures in message, got %s", err.Error())
	}
}

func TestApply_HandlerPanic(t *testing.T) {
	h := newRecordingHandler()
	h.panics["Exec[a]"] = true
	e := newTestEngine(t, h)

	cat := mustBuild(t, e, bucketOf(declared("exec", "a")))
	err := cat.Apply(context.Background())
	if err == nil || !strings.Contains(err.Error(), "handler panic: boom") {
		t.Errorf("Expected recovered panic, got %v", err)
	}
}

func TestApply_ReferencesAreNotApplied(t *testing.T) {
	h := newRecordingHandler()
	e := newTestEngine(t, h)

	cat := mustBuild(t, e, bucketOf(
		reference("package", "nginx"),
		declared("service", "nginx", "require", "Package[nginx]"),
	))
	if err := cat.Apply(context.Background()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if h.called("Package[nginx]") {
		t.Error("Expected reference not to reach the handler")
	}
	o := outcomeOf(t, cat, "Package[nginx]")
	if o.Status != StatusUnchanged || o.Message != "reference" {
		t.Errorf("Expected unchanged reference outcome, got %+v", o)
	}
	if !h.called("Service[nginx]") {
		t.Error("Expected the declared service to run")
	}
}

func TestApply_Refresh(t *testing.T) {
	tests := []struct {
		name          string
		resources     []catalog.Resource
		changed       []string
		target        string
		wantCalled    bool
		wantRefreshed bool
		wantStatus    Status
	}{
		{
			name: "subscribe with changed source",
			resources: []catalog.Resource{
				declared("file", "/etc/nginx.conf"),
				declared("service", "nginx", "subscribe", "File[/etc/nginx.conf]"),
			},
			changed:       []string{"File[/etc/nginx.conf]"},
			target:        "Service[nginx]",
			wantCalled:    true,
			wantRefreshed: true,
			wantStatus:    StatusUnchanged,
		},
		{
			name: "subscribe with unchanged source",
			resources: []catalog.Resource{
				declared("file", "/etc/nginx.conf"),
				declared("service", "nginx", "subscribe", "File[/etc/nginx.conf]"),
			},
			target:     "Service[nginx]",
			wantCalled: true,
			wantStatus: StatusUnchanged,
		},
		{
			name: "notify with changed source",
			resources: []catalog.Resource{
				declared("file", "/etc/nginx.conf", "notify", "Service[nginx]"),
				declared("service", "nginx"),
			},
			changed:       []string{"File[/etc/nginx.conf]"},
			target:        "Service[nginx]",
			wantCalled:    true,
			wantRefreshed: true,
			wantStatus:    StatusUnchanged,
		},
		{
			name: "require never refreshes",
			resources: []catalog.Resource{
				declared("file", "/etc/nginx.conf"),
				declared("service", "nginx", "require", "File[/etc/nginx.conf]"),
			},
			changed:    []string{"File[/etc/nginx.conf]"},
			target:     "Service[nginx]",
			wantCalled: true,
			wantStatus: StatusUnchanged,
		},
		{
			name: "refreshonly without event",
			resources: []catalog.Resource{
				declared("file", "/etc/app.conf"),
				declared("exec", "reload", "refreshonly", "true", "subscribe", "File[/etc/app.conf]"),
			},
			target:     "Exec[reload]",
			wantCalled: false,
			wantStatus: StatusSkipped,
		},
		{
			name: "refreshonly with event",
			resources: []catalog.Resource{
				declared("file", "/etc/app.conf"),
				declared("exec", "reload", "refreshonly", "true", "subscribe", "File[/etc/app.conf]"),
			},
			changed:       []string{"File[/etc/app.conf]", "Exec[reload]"},
			target:        "Exec[reload]",
			wantCalled:    true,
			wantRefreshed: true,
			wantStatus:    StatusChanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRecordingHandler()
			for _, ref := range tt.changed {
				h.changed[ref] = true
			}
			e := newTestEngine(t, h)
			cat := mustBuild(t, e, bucketOf(tt.resources...))

			if err := cat.Apply(context.Background()); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}

			if h.called(tt.target) != tt.wantCalled {
				t.Errorf("Expected called=%v for %s", tt.wantCalled, tt.target)
			}
			if h.refreshed[tt.target] != tt.wantRefreshed {
				t.Errorf("Expected refresh=%v for %s", tt.wantRefreshed, tt.target)
			}

			o := outcomeOf(t, cat, tt.target)
			if o.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, o.Status)
			}
			if o.Refresh != tt.wantRefreshed {
				t.Errorf("Expected outcome refresh=%v, got %v", tt.wantRefreshed, o.Refresh)
			}
		})
	}
}

func TestApply_Noop(t *testing.T) {
	h := newRecordingHandler()
	h.changed["Package[nginx]"] = true
	e := newTestEngine(t, h, WithNoop(true))

	cat := mustBuild(t, e, bucketOf(
		declared("package", "nginx"),
		declared("exec", "warm", "refreshonly", "true", "subscribe", "Package[nginx]"),
	))
	if err := cat.Apply(context.Background()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !h.noop["Package[nginx]"] {
		t.Error("Expected handler to receive noop requests")
	}
	if o := outcomeOf(t, cat, "Package[nginx]"); o.Status != StatusNoop {
		t.Errorf("Expected noop status, got %s", o.Status)
	}
	// Would-be changes still refresh subscribers.
	if !h.refreshed["Exec[warm]"] {
		t.Error("Expected refreshonly subscriber to be refreshed in noop mode")
	}
	if !cat.Report().Noop {
		t.Error("Expected report to be marked noop")
	}
}

func TestApply_Cancelled(t *testing.T) {
	h := newRecordingHandler()
	e := newTestEngine(t, h)

	cat := mustBuild(t, e, bucketOf(
		declared("exec", "a"),
		declared("exec", "b", "require", "Exec[a]"),
	))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cat.Apply(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(h.calls) != 0 {
		t.Errorf("Expected no handler calls, got %v", h.calls)
	}
	if counts := cat.Report().Counts(); counts[StatusSkipped] != 2 {
		t.Errorf("Expected 2 skipped, got %v", counts)
	}
}

func TestApply_ReapplyReplacesReport(t *testing.T) {
	h := newRecordingHandler()
	h.changed["Exec[a]"] = true
	e := newTestEngine(t, h)

	cat := mustBuild(t, e, bucketOf(declared("exec", "a")))
	if cat.Report() != nil {
		t.Error("Expected no report before the first apply")
	}

	if err := cat.Apply(context.Background()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	first := cat.Report()

	h.mu.Lock()
	h.changed["Exec[a]"] = false
	h.mu.Unlock()

	if err := cat.Apply(context.Background()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if first == cat.Report() {
		t.Error("Expected a new report")
	}
	if o := outcomeOf(t, cat, "Exec[a]"); o.Status != StatusUnchanged {
		t.Errorf("Expected unchanged on second apply, got %s", o.Status)
	}
}

func TestApply_Telemetry(t *testing.T) {
	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}

	var mu sync.Mutex
	var events []telemetry.Event
	tel.Events.Subscribe(func(ev telemetry.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}, nil)

	h := newRecordingHandler()
	h.changed["Exec[a]"] = true
	h.fail["Exec[b]"] = true
	e := newTestEngine(t, h, WithTelemetry(tel))

	cat := mustBuild(t, e, bucketOf(declared("exec", "a"), declared("exec", "b")))
	_ = cat.Apply(context.Background())

	reg := tel.Metrics.Registry()
	if reg == nil {
		t.Fatal("Expected a metrics registry")
	}
	count, err := testutil.GatherAndCount(reg, "froyo_manifest_resources_applied_total")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 applied series, got %d", count)
	}

	mu.Lock()
	defer mu.Unlock()
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	joined := strings.Join(types, ",")
	for _, want := range []string{
		telemetry.EventTypeCatalogStarted,
		telemetry.EventTypeResourceChanged,
		telemetry.EventTypeResourceFailed,
		telemetry.EventTypeCatalogCompleted,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected event %s, got %s", want, joined)
		}
	}
	if types[0] != telemetry.EventTypeCatalogStarted || types[len(types)-1] != telemetry.EventTypeCatalogCompleted {
		t.Errorf("Expected catalog events to bracket resource events, got %s", joined)
	}
}

func TestCatalog_DOT(t *testing.T) {
	h := newRecordingHandler()
	h.changed["Package[nginx]"] = true
	e := newTestEngine(t, h)

	cat := mustBuild(t, e, bucketOf(
		declared("package", "nginx"),
		declared("service", "nginx", "require", "Package[nginx]"),
	))

	before := cat.DOT("")
	if !strings.HasPrefix(before, `digraph "test#1" {`) {
		t.Errorf("Expected bucket name as default title, got %s", before)
	}
	if strings.Contains(before, "lightgreen") {
		t.Error("Expected no status colors before apply")
	}

	if err := cat.Apply(context.Background()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	after := cat.DOT("web")
	if !strings.Contains(after, `"Package[nginx]" [fillcolor="lightgreen"`) {
		t.Errorf("Expected changed package colored green, got %s", after)
	}
}

func TestRequest_Params(t *testing.T) {
	req := &Request{Params: map[string]string{
		"enable":  "true",
		"broken":  "maybe",
		"command": "",
	}}

	if !req.Bool("enable", false) {
		t.Error("Expected enable to be true")
	}
	if !req.Bool("broken", true) {
		t.Error("Expected unparsable bool to fall back to default")
	}
	if req.Bool("missing", false) {
		t.Error("Expected missing bool to fall back to default")
	}
	if got := req.ParamDefault("command", "true"); got != "true" {
		t.Errorf("Expected default for empty param, got %q", got)
	}
	if _, ok := req.Param("missing"); ok {
		t.Error("Expected missing param to be absent")
	}
}

func TestRequest_List(t *testing.T) {
	tests := []struct {
		value    string
		expected []string
	}{
		{value: "", expected: nil},
		{value: "[]", expected: nil},
		{value: "FOO=1", expected: []string{"FOO=1"}},
		{value: "[FOO=1, BAR=2]", expected: []string{"FOO=1", "BAR=2"}},
		{value: "[0, 2]", expected: []string{"0", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			req := &Request{Params: map[string]string{"p": tt.value}}
			got := req.List("p")
			if strings.Join(got, "|") != strings.Join(tt.expected, "|") || len(got) != len(tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}
