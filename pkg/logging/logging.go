// Package logging provides the structured logger used throughout the
// update orchestration core, grounded on the teacher's pkg/logger package:
// a zerolog core with level-filtered routing (info/warn to stdout,
// error+ to stderr) and package-level convenience functions, plus
// component loggers for types that want a named child logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	base = New(zerolog.InfoLevel)
}

// New builds a zerolog.Logger with the teacher's stdout/stderr split: debug,
// info, and warn go to stdout; error, fatal, and panic go to stderr.
func New(level zerolog.Level) zerolog.Logger {
	writer := zerolog.MultiLevelWriter(
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
			Levels: []zerolog.Level{zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel},
		},
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			Levels: []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		},
	)
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// SetLevel reconfigures the package-level logger's minimum level. Used by
// cmd/du-agent's -l/--log-level flag.
func SetLevel(level zerolog.Level) {
	base = New(level)
}

// Component returns a child logger tagged with a component name, the
// pattern engine.go / workflow packages in the teacher use for per-struct
// loggers (logger.With().Str("component", name).Logger()).
func Component(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

func Info(msg string)                          { base.Info().Msg(msg) }
func Infof(format string, args ...interface{})  { base.Info().Msgf(format, args...) }
func Warn(msg string)                          { base.Warn().Msg(msg) }
func Warnf(format string, args ...interface{})  { base.Warn().Msgf(format, args...) }
func Error(msg string)                         { base.Error().Msg(msg) }
func Errorf(format string, args ...interface{}) { base.Error().Msgf(format, args...) }
func Debug(msg string)                         { base.Debug().Msg(msg) }
func Debugf(format string, args ...interface{}) { base.Debug().Msgf(format, args...) }

// LevelFromInt maps CLI log-level integers (0=debug..3=error, per
// spec.md §6) to zerolog levels.
func LevelFromInt(n int) zerolog.Level {
	switch n {
	case 0:
		return zerolog.DebugLevel
	case 1:
		return zerolog.InfoLevel
	case 2:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// specificLevelWriter routes writes only for the configured levels, per
// https://stackoverflow.com/questions/76858037 as credited in the teacher's
// own logger.go.
type specificLevelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w specificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}
