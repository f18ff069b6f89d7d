package testutil

import (
	"log/slog"
	"strings"
	"testing"
)

// NewLogger returns a debug-level logger that writes through tb.Log, so
// engine output only shows up for failing or verbose tests.
func NewLogger(tb testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(tbWriter{tb}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type tbWriter struct {
	tb testing.TB
}

func (w tbWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
