package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// RunHandler is a human-friendly log handler for the flowtime CLI.
type RunHandler struct {
	mu     sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

// NewRunHandler creates a new human-friendly log handler.
func NewRunHandler(out io.Writer, level slog.Level) *RunHandler {
	return &RunHandler{
		out:   out,
		level: level,
	}
}

func (h *RunHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *RunHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(r.Time.Format("15:04:05"))
	buf.WriteString(" ")

	buf.WriteString(levelTag(r.Level))
	buf.WriteString(" ")

	buf.WriteString(r.Message)

	var attrs []string
	for _, a := range h.attrs {
		if s := formatAttr(a); s != "" {
			attrs = append(attrs, s)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if s := formatAttr(a); s != "" {
			attrs = append(attrs, s)
		}
		return true
	})

	if len(attrs) > 0 {
		buf.WriteString(" (")
		buf.WriteString(strings.Join(attrs, ", "))
		buf.WriteString(")")
	}

	buf.WriteString("\n")

	_, err := h.out.Write([]byte(buf.String()))
	return err
}

func (h *RunHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := &RunHandler{
		out:    h.out,
		level:  h.level,
		attrs:  make([]slog.Attr, len(h.attrs)+len(attrs)),
		groups: h.groups,
	}
	copy(h2.attrs, h.attrs)
	copy(h2.attrs[len(h.attrs):], attrs)
	return h2
}

func (h *RunHandler) WithGroup(name string) slog.Handler {
	h2 := &RunHandler{
		out:    h.out,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(h.groups, name),
	}
	return h2
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}

func formatAttr(a slog.Attr) string {
	key := a.Key
	val := a.Value

	if val.Kind() == slog.KindString && val.String() == "" {
		return ""
	}

	switch val.Kind() {
	case slog.KindDuration:
		d := val.Duration()
		if d < time.Second {
			return fmt.Sprintf("%s=%dms", key, d.Milliseconds())
		}
		return fmt.Sprintf("%s=%s", key, d.Round(time.Millisecond))
	case slog.KindTime:
		return fmt.Sprintf("%s=%s", key, val.Time().Format(time.RFC3339))
	case slog.KindInt64:
		return fmt.Sprintf("%s=%d", key, val.Int64())
	case slog.KindString:
		s := val.String()
		if !strings.Contains(s, " ") && !strings.Contains(s, ",") {
			return fmt.Sprintf("%s=%s", key, s)
		}
		return fmt.Sprintf("%s=%q", key, s)
	default:
		return fmt.Sprintf("%s=%v", key, val.Any())
	}
}
