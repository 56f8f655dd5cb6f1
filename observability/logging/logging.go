package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

const levelEnv = "CLAWSCROW_LOG_LEVEL"

// Setup wires structured JSON logging for the daemon and returns the base
// logger. Every line carries the service name, plus the environment when one
// is configured. The minimum level comes from CLAWSCROW_LOG_LEVEL (debug,
// info, warn, error) and defaults to info. The standard library logger is
// bridged onto the same handler so legacy log calls stay structured.
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       levelFromEnv(),
		ReplaceAttr: renameCoreAttrs,
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	base := slog.New(handler).With(args...)
	slog.SetDefault(base)

	bridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(levelEnv))) {
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

// renameCoreAttrs maps slog's default keys onto the field names the log
// pipeline indexes: timestamp, severity, message.
func renameCoreAttrs(groups []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: attr.Value}
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: attr.Value}
	}
	return attr
}
