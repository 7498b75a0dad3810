package stores

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// RenderResources renders a resource snapshot one line per resource and
// parameter, in submission order.
func RenderResources(resources []*RunResource) string {
	var b strings.Builder
	for _, res := range resources {
		b.WriteString(res.String())
		if !res.Declared {
			b.WriteString(" (reference)")
		}
		b.WriteByte('\n')
		for _, p := range res.Parameters {
			fmt.Fprintf(&b, "  %s => %s\n", p.Name, p.Value)
		}
	}
	return b.String()
}

// DiffResources returns a unified diff between two resource snapshots. An
// empty string means the snapshots are identical.
func DiffResources(from, to *Run, fromResources, toResources []*RunResource) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(RenderResources(fromResources)),
		B:        difflib.SplitLines(RenderResources(toResources)),
		FromFile: runLabel(from),
		ToFile:   runLabel(to),
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("failed to diff runs: %w", err)
	}
	return out, nil
}

func runLabel(r *Run) string {
	if r == nil {
		return "empty"
	}
	return fmt.Sprintf("%s (%s, %s)", r.ID, r.Manifest, r.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
}
