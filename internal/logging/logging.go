// Package logging provides rift's structured logging, replacing the bare
// log.Printf calls scattered through the copied imposter/api/cmd code.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config selects a Logger's level, format, and destination.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// Logger wraps a zerolog.Logger in rift's own key-value field idiom.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	var out io.Writer = cfg.Output
	if cfg.Format == FormatText {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).With().Timestamp().Logger().Level(levelOf(cfg.Level))
	return &Logger{zl: zl}
}

func levelOf(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.emit(l.zl.Error(), msg, fields) }

// WithField returns a child Logger carrying one additional structured field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a child Logger carrying several additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) emit(event *zerolog.Event, msg string, fields []interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// global is the process-wide logger installed by InitGlobal, used by the
// package-level Debug/Info/Warn/Error helpers that call sites reach for
// when they don't hold a *Logger.
var global = New(Config{Level: LevelInfo})

// InitGlobal installs cfg as the process-wide logger, called once from
// cmd/tartuffe/main.go at startup.
func InitGlobal(cfg Config) {
	global = New(cfg)
	log.Logger = global.zl
}

func Debug(msg string, fields ...interface{}) { global.Debug(msg, fields...) }
func Info(msg string, fields ...interface{})  { global.Info(msg, fields...) }
func Warn(msg string, fields ...interface{})  { global.Warn(msg, fields...) }
func Error(msg string, fields ...interface{}) { global.Error(msg, fields...) }
