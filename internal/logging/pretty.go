// Package logging provides a colorized, human-first slog handler used
// across every Fortémi component in place of the default text handler.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"
)

// PrettyHandlerOptions wraps the standard slog.HandlerOptions so callers
// can construct a PrettyHandler the same way they would any other
// slog.Handler implementation.
type PrettyHandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

// PrettyHandler renders records as `[HH:MM:SS.mmm] LEVEL: message {attrs}`,
// colorizing the level token so CPU/GPU job tiers and error kinds stand out
// in a terminal.
type PrettyHandler struct {
	slog.Handler
	l    *slog.Logger
	w    io.Writer
	mu   *sync.Mutex
	attr []slog.Attr
}

// NewPrettyHandler builds a PrettyHandler writing to w.
func NewPrettyHandler(w io.Writer, opts PrettyHandlerOptions) *PrettyHandler {
	h := &PrettyHandler{
		Handler: slog.NewJSONHandler(w, &opts.SlogOpts),
		w:       w,
		mu:      &sync.Mutex{},
	}
	h.l = slog.New(h)
	return h
}

var levelColor = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgMagenta),
	slog.LevelInfo:  color.New(color.FgCyan),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed, color.Bold),
}

func levelLabel(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Handle implements slog.Handler.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, r.NumAttrs()+len(h.attr))
	for _, a := range h.attr {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal log attrs: %w", err)
	}

	label := levelLabel(r.Level)
	c, ok := levelColor[r.Level]
	if !ok {
		c = color.New(color.FgWhite)
	}

	timestamp := r.Time.Format("15:04:05.000")
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = fmt.Fprintf(h.w, "[%s] %s %s\n", timestamp, c.Sprintf("%s:", label)+" "+r.Message, string(b))
	return err
}

// WithAttrs implements slog.Handler.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attr)+len(attrs))
	merged = append(merged, h.attr...)
	merged = append(merged, attrs...)
	return &PrettyHandler{Handler: h.Handler.WithAttrs(attrs), w: h.w, mu: h.mu, attr: merged}
}

// New builds a ready-to-use *slog.Logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	h := NewPrettyHandler(w, PrettyHandlerOptions{SlogOpts: slog.HandlerOptions{Level: level}})
	return slog.New(h)
}
