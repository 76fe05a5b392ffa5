// Package logging builds the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Options selects the output format and level.
type Options struct {
	// Format is "json", "text", "pretty" or "auto". Auto picks pretty when
	// the output is a terminal and json otherwise.
	Format string
	Level  string
	// NoColor disables ANSI colours in pretty mode.
	NoColor bool
}

// ParseLevel maps a level name onto slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns the handler described by opts writing to out.
func NewHandler(out io.Writer, opts Options) slog.Handler {
	level := ParseLevel(opts.Level)

	format := strings.ToLower(opts.Format)
	if format == "" || format == "auto" {
		format = "json"
		if isTerminal(out) {
			format = "pretty"
		}
	}

	switch format {
	case "pretty":
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    opts.NoColor || !isTerminal(out),
		})
	case "text":
		return slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	default:
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
}

// Setup installs a handler on stdout as the slog default and returns the logger.
func Setup(opts Options) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, opts))
	slog.SetDefault(logger)
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
