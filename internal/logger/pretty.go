package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// PrettyHandler is a slog.Handler that renders records as single colored
// lines for terminal output.
type PrettyHandler struct {
	opts slog.HandlerOptions
	// prefix is the dotted group path applied to attribute keys.
	prefix string
	// bound holds attributes added via WithAttrs, already rendered.
	bound string
	mu    *sync.Mutex
	w     io.Writer
}

// NewPrettyHandler creates a new PrettyHandler.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{mu: &sync.Mutex{}, w: w}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

// Enabled reports whether the handler handles records at the given level.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

// Handle formats and writes a log record.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.Grow(256)

	sb.WriteString(ansiGray)
	sb.WriteString(r.Time.Format(time.DateTime))
	sb.WriteString(ansiReset)
	sb.WriteByte(' ')
	sb.WriteString(levelTag(r.Level))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	sb.WriteString(h.bound)
	r.Attrs(func(a slog.Attr) bool {
		appendPretty(&sb, h.prefix, a)
		return true
	})

	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

// WithAttrs returns a new handler with additional attributes.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var sb strings.Builder
	sb.WriteString(h.bound)
	for _, a := range attrs {
		appendPretty(&sb, h.prefix, a)
	}
	nh := *h
	nh.bound = sb.String()
	return &nh
}

// WithGroup returns a new handler with a group name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed + ansiBold + "ERROR" + ansiReset
	case l >= slog.LevelWarn:
		return ansiYellow + ansiBold + "WARN " + ansiReset
	case l >= slog.LevelInfo:
		return ansiBlue + ansiBold + "INFO " + ansiReset
	default:
		return ansiGray + ansiBold + "DEBUG" + ansiReset
	}
}

// appendPretty renders one attribute as " key=value", flattening groups
// into dotted keys.
func appendPretty(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendPretty(sb, p, ga)
		}
		return
	}
	if a.Equal(slog.Attr{}) {
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(ansiCyan)
	sb.WriteString(prefix)
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(prettyValue(a.Value))
	sb.WriteString(ansiReset)
}

func prettyValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if needsQuoting(s) {
			return strconv.Quote(s)
		}
		return s
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return fmt.Sprint(v.Any())
	}
}

func needsQuoting(s string) bool {
	return strings.ContainsAny(s, " \t\n\"")
}
