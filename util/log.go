package util

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLog replaces zap's global logger.
// LINKD_LOG_DEV=1 selects the console encoder; LINKD_LOG_LEVEL sets the minimum level (default info).
func SetupLog() {
	var cfg zap.Config
	if os.Getenv("LINKD_LOG_DEV") == "1" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if raw := os.Getenv("LINKD_LOG_LEVEL"); raw != "" {
		level, err := zapcore.ParseLevel(raw)
		if err != nil {
			panic(err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}
