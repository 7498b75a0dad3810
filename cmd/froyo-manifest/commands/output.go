package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/manifests/pkg/telemetry"
)

var (
	colorChanged = color.New(color.FgYellow)
	colorOK      = color.New(color.FgGreen)
	colorFailed  = color.New(color.FgRed, color.Bold)
	colorSkipped = color.New(color.FgMagenta)
	colorDim     = color.New(color.Faint)
	colorHeader  = color.New(color.Bold)
)

// resourcePrinter writes one line per resource event published while a
// catalog is applied.
type resourcePrinter struct {
	mu      sync.Mutex
	events  *telemetry.EventPublisher
	w       io.Writer
	inSync  bool
	changed int
	failed  int
}

// watch subscribes the printer to resource and policy events.
func (p *resourcePrinter) watch(events *telemetry.EventPublisher) {
	p.events = events
	events.Subscribe(p.print, telemetry.FilterByType(
		telemetry.EventTypeResourceChanged,
		telemetry.EventTypeResourceInSync,
		telemetry.EventTypeResourceFailed,
		telemetry.EventTypeResourceSkipped,
		telemetry.EventTypePolicyViolation,
	))
}

func (p *resourcePrinter) print(ev telemetry.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case telemetry.EventTypeResourceChanged:
		p.changed++
		fmt.Fprintf(p.w, "%s %s: %s\n", colorChanged.Sprint("~"), ev.Resource, ev.Message)
	case telemetry.EventTypeResourceInSync:
		if p.inSync {
			fmt.Fprintf(p.w, "%s %s\n", colorOK.Sprint("="), colorDim.Sprint(ev.Resource))
		}
	case telemetry.EventTypeResourceFailed:
		p.failed++
		fmt.Fprintf(p.w, "%s %s: %s\n", colorFailed.Sprint("!"), ev.Resource, ev.Message)
	case telemetry.EventTypeResourceSkipped:
		fmt.Fprintf(p.w, "%s %s: %s\n", colorSkipped.Sprint("-"), ev.Resource, ev.Message)
	case telemetry.EventTypePolicyViolation:
		fmt.Fprintf(p.w, "%s %s: %s\n", colorFailed.Sprint("policy"), ev.Resource, ev.Message)
	}
}

// counts waits for queued events to be printed, then returns the changed
// and failed totals since the last reset.
func (p *resourcePrinter) counts(ctx context.Context) (changed, failed int) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.events.Flush(flushCtx); err != nil {
		log.Warn().Err(err).Msg("Resource events not fully delivered")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed, p.failed
}

func (p *resourcePrinter) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed, p.failed = 0, 0
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
