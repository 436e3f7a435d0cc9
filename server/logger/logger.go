package logger

import (
	"log"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	sugar  *zap.SugaredLogger
	levels = map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
)

// NewLogger returns the process wide logger. The level can be
// overridden with SAFELINE_LOG_LEVEL (debug|info|warn|error).
func NewLogger() *zap.SugaredLogger {
	once.Do(func() {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

		if level, ok := levels[os.Getenv("SAFELINE_LOG_LEVEL")]; ok {
			config.Level = zap.NewAtomicLevelAt(level)
		}

		logger, err := config.Build()
		if err != nil {
			log.Panic(err)
		}

		sugar = logger.Sugar()
	})

	return sugar
}

// Sync flushes any buffered log entries
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
