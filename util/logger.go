// Package util provides low-level helpers shared by all other packages.
package util

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// LogOptions selects the encoder and destination of a Logger.
type LogOptions struct {
	Verbosity int
	Format    string // "console" (default) or "json"
	File      string // optional log file, rotated by size

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger writes levelled messages through zerolog.  Verbosity gating
// happens here; zerolog only formats and writes.
type Logger struct {
	mu         sync.RWMutex
	level      LogLevel
	output     io.Writer
	json       bool
	timestamps bool // if true, prepend timestamps in console mode
	zl         zerolog.Logger
	rotator    *lumberjack.Logger
}

// levelTags keeps console output in the familiar [INF]/[ERR] form.
var levelTags = map[string]string{
	zerolog.LevelErrorValue: "ERR",
	zerolog.LevelWarnValue:  "WRN",
	zerolog.LevelInfoValue:  "INF",
	zerolog.LevelDebugValue: "VRB",
	zerolog.LevelTraceValue: "DBG",
}

// Verbosity is gated per Logger, so the process-wide zerolog floor
// must not hide trace events.
func init() { zerolog.SetGlobalLevel(zerolog.TraceLevel) }

// NewLogger returns a console Logger on stderr that prints messages at
// or below the given verbosity (0 = quiet, 1 = normal, 2 = verbose,
// 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// NewLoggerWith builds a Logger from options.  When File is set, output
// goes to a size-rotated file instead of stderr.
func NewLoggerWith(opts LogOptions) *Logger {
	l := &Logger{
		level:      LogLevel(opts.Verbosity),
		output:     os.Stderr,
		json:       strings.EqualFold(opts.Format, "json"),
		timestamps: opts.Verbosity >= 3 || opts.File != "",
	}
	if opts.File != "" {
		l.rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    max(opts.MaxSizeMB, 1),
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		l.output = l.rotator
	}
	l.rebuild()
	return l
}

// Nop returns a Logger that discards everything, for tests.
func Nop() *Logger {
	l := &Logger{level: LogQuiet, output: io.Discard}
	l.zl = zerolog.Nop()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	l.timestamps = on
	l.rebuild()
	l.mu.Unlock()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.rebuild()
	l.mu.Unlock()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Close flushes and closes the rotating log file, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zerolog.InfoLevel, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zerolog.WarnLevel, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write(zerolog.DebugLevel, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write(zerolog.TraceLevel, format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(zerolog.ErrorLevel, format, args...)
}

func (l *Logger) write(level zerolog.Level, format string, args ...interface{}) {
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()
	zl.WithLevel(level).Msgf(format, args...)
}

// rebuild recreates the zerolog logger after an output or format
// change.  Callers hold l.mu (or own l exclusively).
func (l *Logger) rebuild() {
	out := zerolog.SyncWriter(l.output)

	if l.json {
		ctx := zerolog.New(out).Level(zerolog.TraceLevel).With()
		if l.timestamps {
			ctx = ctx.Timestamp()
		}
		l.zl = ctx.Logger()
		return
	}

	cw := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		TimeFormat: "15:04:05.000",
		FormatLevel: func(i interface{}) string {
			s, _ := i.(string)
			if tag, ok := levelTags[s]; ok {
				return "[" + tag + "]"
			}
			return "[" + strings.ToUpper(s) + "]"
		},
	}
	if !l.timestamps {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(cw).Level(zerolog.TraceLevel).With()
	if l.timestamps {
		ctx = ctx.Timestamp()
	}
	l.zl = ctx.Logger()
}
