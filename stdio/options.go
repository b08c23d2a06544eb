package stdio

import (
	"io"
	"log/slog"

	"github.com/parleyproto/parley/engine"
)

type newConfig struct {
	engineOpts []engine.Option
}

// Option customizes a Handler.
type Option func(*Handler, *newConfig)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler, _ *newConfig) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler, _ *newConfig) {
		if l != nil {
			h.l = l
		}
	}
}

// WithEngineOptions forwards options to the embedded engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(_ *Handler, cfg *newConfig) {
		cfg.engineOpts = append(cfg.engineOpts, opts...)
	}
}
