// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured, leveled logger shared by every
// component of the IPS, plus a syslog forwarder for the produced
// "[ACCEPT|DROP|ERROR] <src> -> <dst>; proto: <p>; <reason>" event lines.
package logging

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors charmbracelet/log's level set so callers never import that
// package directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toCharm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config controls how a root Logger is constructed.
type Config struct {
	Output io.Writer
	Level  Level
}

// Logger is a thin, component-scoped wrapper around charmbracelet/log.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a root Logger. A nil Output defaults to os.Stderr.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		Level:           cfg.Level.toCharm(),
	})
	return &Logger{inner: l}
}

// WithComponent returns a child logger tagging every line with the given
// component name, e.g. "matcher", "worker.q0", "supervisor".
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// With returns a child logger with additional fixed key/value fields.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{inner: l.inner.With(keyvals...)}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.inner.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.inner.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.inner.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.inner.Error(msg, keyvals...) }

// SetLevel adjusts the logger's minimum level at runtime.
func (l *Logger) SetLevel(level Level) {
	l.inner.SetLevel(level.toCharm())
}
