// Package logx is the engine's single leveled-logging facade.
//
// It replaces the teacher's text_color_set/dw_printf pair (a class-of-message
// color selector followed by a printf) with a single structured call per
// component, backed by github.com/charmbracelet/log. Every component gets
// its own *Logger tagged with a "component" field so a operator grepping the
// console output can isolate, say, just the "duc" or "cat" stream.
package logx

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is a component-scoped leveled logger.
type Logger struct {
	l *charmlog.Logger
}

var root = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// SetDebug toggles debug-level logging process-wide, mirroring the
// teacher's -d flag gating of debug_client/AGW debug dumps.
func SetDebug(enabled bool) {
	if enabled {
		root.SetLevel(charmlog.DebugLevel)
	} else {
		root.SetLevel(charmlog.InfoLevel)
	}
}

// For returns a logger scoped to the named component (e.g. "ddc", "session").
func For(component string) *Logger {
	return &Logger{l: root.With("component", component)}
}

func (lg *Logger) Debugf(format string, args ...any) { lg.l.Debugf(format, args...) }
func (lg *Logger) Infof(format string, args ...any)  { lg.l.Infof(format, args...) }
func (lg *Logger) Warnf(format string, args ...any)  { lg.l.Warnf(format, args...) }
func (lg *Logger) Errorf(format string, args ...any) { lg.l.Errorf(format, args...) }
