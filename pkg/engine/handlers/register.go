package handlers

import (
	"fmt"

	"github.com/openfroyo/manifests/pkg/engine"
)

// All returns every handler keyed by resource type. A nil runner means
// OSRunner.
func All(r Runner) map[string]engine.Handler {
	if r == nil {
		r = OSRunner{}
	}
	return map[string]engine.Handler{
		"exec":    NewExec(r),
		"file":    NewFile(),
		"package": NewPackage(r),
		"service": NewService(r),
		"notify":  NewNotify(),
	}
}

// Register installs every handler on e.
func Register(e *engine.Engine, r Runner) error {
	for typ, h := range All(r) {
		if err := e.Register(typ, h); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", typ, err)
		}
	}
	return nil
}
