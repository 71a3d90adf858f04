// Package logging holds the structured logger shared by the renderer packages.
// Nothing is logged until SetLogger installs a real logger.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (discard) WithAttrs([]slog.Attr) slog.Handler        { return discard{} }
func (discard) WithGroup(string) slog.Handler             { return discard{} }

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(discard{}))
}

// SetLogger replaces the logger used by every package in the module.
// Passing nil restores the silent default.
//
// Levels in use:
//   - Debug: per-frame bookkeeping (reclaimed entries, flushed transfers)
//   - Info: device selection, swapchain recreation
//   - Warn: skipped frames, validation-layer warnings
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(discard{})
	}
	current.Store(l)
}

// Logger returns the active logger.
func Logger() *slog.Logger {
	return current.Load()
}
