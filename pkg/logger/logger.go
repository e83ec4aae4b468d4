// Package logger is the component-scoped logging facade used across the service.
// Every call names the component that produced it ("session", "api", "webhook", ...)
// so log lines can be filtered per subsystem.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init configures the global logger. format is "console" or "json".
func Init(level, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit destination (tests, files).
func InitWithWriter(level, format string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	out := w
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	mu.Lock()
	base = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// Logger returns the underlying zerolog logger, for libraries that take one.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a logger tagged with a component name.
func Component(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}

func emit(ev *zerolog.Event, component, msg string, fields map[string]interface{}) {
	ev = ev.Str("component", component)
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(msg)
}

func DebugC(component, msg string) {
	l := Logger()
	emit(l.Debug(), component, msg, nil)
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	l := Logger()
	emit(l.Debug(), component, msg, fields)
}

func InfoC(component, msg string) {
	l := Logger()
	emit(l.Info(), component, msg, nil)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	l := Logger()
	emit(l.Info(), component, msg, fields)
}

func WarnC(component, msg string) {
	l := Logger()
	emit(l.Warn(), component, msg, nil)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	l := Logger()
	emit(l.Warn(), component, msg, fields)
}

func ErrorC(component, msg string) {
	l := Logger()
	emit(l.Error(), component, msg, nil)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	l := Logger()
	emit(l.Error(), component, msg, fields)
}
