package config

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"go.viam.com/controlpi/logging"
)

var globalLogger struct {
	// These variables are initialized once at startup. No need for special synchronization.
	logger           logging.Logger
	cmdLineDebugFlag bool

	// The file config can be re-read while a REPL is running. Every change re-evaluates the log
	// level under this mutex.
	mu                  sync.Mutex
	fileConfigDebugFlag bool
}

// InitLoggingSettings initializes the global logging settings.
func InitLoggingSettings(logger logging.Logger, cmdLineDebugFlag bool) {
	globalLogger.logger = logger
	globalLogger.cmdLineDebugFlag = cmdLineDebugFlag
	if cmdLineDebugFlag {
		logging.GlobalLogLevel.SetLevel(zapcore.DebugLevel)
	} else {
		logging.GlobalLogLevel.SetLevel(zapcore.InfoLevel)
	}
	globalLogger.logger.Info("Log level initialized: ", logging.GlobalLogLevel.Level())
}

// UpdateFileConfigDebug is used to update the debug flag whenever the config file is read.
func UpdateFileConfigDebug(fileDebug bool) {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	globalLogger.fileConfigDebugFlag = fileDebug
	refreshLogLevelInLock()
}

func refreshLogLevelInLock() {
	var newLevel zapcore.Level
	if globalLogger.cmdLineDebugFlag || globalLogger.fileConfigDebugFlag {
		newLevel = zap.DebugLevel
	} else {
		newLevel = zap.InfoLevel
	}

	if logging.GlobalLogLevel.Level() == newLevel {
		return
	}
	if globalLogger.logger != nil {
		globalLogger.logger.Info("New log level: ", newLevel)
	}
	logging.GlobalLogLevel.SetLevel(newLevel)
}
