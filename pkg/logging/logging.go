// SPDX-License-Identifier: Apache-2.0

// Package logging builds the agent's logr.Logger, backed by zap, with a
// mutable level: USR1/USR2 raise and lower verbosity at runtime without
// restarting the process.
package logging

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is one of the four verbosity levels this agent recognizes,
// ordered from least to most verbose.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// ParseLevel maps a LOG_LEVEL environment value onto Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "ERROR":
		return LevelError, nil
	case "WARN":
		return LevelWarn, nil
	case "INFO":
		return LevelInfo, nil
	case "DEBUG":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unrecognized log level %q", s)
	}
}

// Logger wraps a logr.Logger with the atomic level USR1/USR2 adjust.
type Logger struct {
	logr.Logger
	atom zap.AtomicLevel
}

// New builds a Logger starting at initial, JSON-encoded for production
// use.
func New(initial Level) *Logger {
	atom := zap.NewAtomicLevelAt(initial.zapLevel())

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), atom)
	zl := zap.New(core, zap.AddCaller())

	return &Logger{Logger: zapr.NewLogger(zl), atom: atom}
}

// Raise moves the level one step more verbose (SIGUSR1), bounded at
// DEBUG.
func (l *Logger) Raise() {
	if cur := l.atom.Level(); cur > zapcore.DebugLevel {
		l.atom.SetLevel(cur - 1)
	}
}

// Lower moves the level one step less verbose (SIGUSR2), bounded at
// ERROR.
func (l *Logger) Lower() {
	if cur := l.atom.Level(); cur < zapcore.ErrorLevel {
		l.atom.SetLevel(cur + 1)
	}
}
