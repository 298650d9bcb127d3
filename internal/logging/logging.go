// Package logging wires the process-wide structured logger every component
// of the risk control plane logs through: the pool engine, the breaker, the
// scheduler, and the simulator's CLI driver all take an injected
// *slog.Logger rather than reaching for the global logger directly.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the process logger to emit structured JSON to stdout and
// returns the slog.Logger every component should be constructed with. Log
// lines carry the component name and deployment environment as base
// attributes so a single aggregated stream can be filtered by either.
func Setup(component, env string) *slog.Logger {
	return setupWith(os.Stdout, component, env)
}

// SetupFile configures the process logger the same way Setup does, but also
// tees output to a size-rotated file at path. This is for the simulator's
// CLI driver, which can run for hours against a large parameter grid: a
// rotated file survives a terminal that gets closed mid-run, where stdout
// alone would not.
func SetupFile(component, env, path string) *slog.Logger {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	return setupWith(io.MultiWriter(os.Stdout, rotator), component, env)
}

func setupWith(w io.Writer, component, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("component", strings.TrimSpace(component))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge anything still using the standard library logger (third-party
	// dependencies, panics recovered via log.Fatal) into the same stream.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
