package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

// Logger is passed around by value. The zero value discards everything,
// so components can accept an empty Logger in tests.
type Logger struct {
	// src yields the zerolog logger to write to. Loggers built by a Service
	// read it on every call so Apply takes effect immediately.
	src    func() zerolog.Logger
	fields []Field
}

func fixed(zl zerolog.Logger) Logger {
	return Logger{src: func() zerolog.Logger { return zl }}
}

// Nop returns a logger that never writes anything.
func Nop() Logger { return fixed(zerolog.Nop()) }

// NewConsole writes human readable lines to stdout. main uses it before the
// config file has been read.
func NewConsole(level string) Logger {
	return fixed(newRoot(consoleWriter(os.Stdout), ParseLevel(level, LevelInfo)))
}

// NewWriter writes JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	return fixed(newRoot(w, ParseLevel(level, LevelInfo)))
}

func newRoot(w io.Writer, lvl Level) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	if l.src == nil {
		return zerolog.Nop()
	}
	return l.src()
}

// Enabled reports whether an event at level would be written.
func (l Logger) Enabled(level Level) bool {
	return level >= l.zl().GetLevel()
}

// With returns a child logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	child := l
	child.fields = make([]Field, 0, len(l.fields)+len(fields))
	child.fields = append(append(child.fields, l.fields...), fields...)
	return child
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l Logger) emit(level Level, msg string, fields []Field) {
	zl := l.zl()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// 0 is callerAt, 1 emit, 2 Info/Warn/..., 3 the caller we want.
	if at := callerAt(3); at != "" {
		e.Str(zerolog.CallerFieldName, at)
	}
	applyFields(e, l.fields, fields)
	e.Msg(msg)
}

func callerAt(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// ParseLevel maps a config level name to a Level, def when unrecognized.
func ParseLevel(s string, def Level) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return def
}

// consoleWriter prints "[TAG] message key=value" using the comp field as TAG.
func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
		FormatPrepare: func(evt map[string]any) error {
			if tag, _ := evt[TagField].(string); tag != "" {
				delete(evt, TagField)
				msg, _ := evt[zerolog.MessageFieldName].(string)
				evt[zerolog.MessageFieldName] = tagPrefix(tag) + msg
			}
			return nil
		},
	}
}

func tagPrefix(tag string) string { return "[" + strings.ToUpper(tag) + "] " }
