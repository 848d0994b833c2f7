// Package logging contains the leveled, appender-based logger used throughout controlpi.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// GlobalLogLevel forces every logger to debug when lowered to zap's DebugLevel. Above that, loggers
// keep their own level.
var GlobalLogLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

// NewBlankLogger returns a logger at DEBUG with no appenders. Times are in UTC.
func NewBlankLogger(name string) Logger {
	return &impl{name: name, level: NewAtomicLevelAt(DEBUG), inUTC: true}
}

// NewTestLogger returns a DEBUG logger writing to tb in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is NewTestLogger that also records every entry for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	return &impl{
		level:     NewAtomicLevelAt(DEBUG),
		appenders: []Appender{NewTestAppender(tb), core},
	}, observed
}
