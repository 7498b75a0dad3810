package handlers

import (
	"context"

	"github.com/openfroyo/manifests/pkg/engine"
)

// Notify logs a message and always reports a change, which makes it a
// convenient refresh source. Parameter: message, defaulting to the name.
type Notify struct{}

// NewNotify returns the notify handler.
func NewNotify() *Notify {
	return &Notify{}
}

// Apply logs the message.
func (h *Notify) Apply(ctx context.Context, req *engine.Request) (engine.Result, error) {
	msg := req.ParamDefault("message", req.Resource.Name)
	if !req.Noop {
		req.Logger.Info().Str("message", msg).Msg("Notify")
	}
	return engine.Result{Changed: true, Message: msg}, nil
}
