package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig controls the zap backend used by stackd binaries.
type ZapConfig struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoding with human-readable timestamps
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger creates a zap-backed Logger. Falls back to info level on
// an unknown level string.
func NewZapLogger(config ZapConfig) (Logger, error) {
	level := zapcore.InfoLevel
	if config.Level != "" {
		if parsed, err := zapcore.ParseLevel(config.Level); err == nil {
			level = parsed
		}
	}

	var zapConfig zap.Config
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	base, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &zapLogger{sugar: base.Sugar()}, nil
}

func (z *zapLogger) Debugf(msg string, args ...interface{}) {
	z.sugar.Debugf(msg, args...)
}

func (z *zapLogger) Infof(msg string, args ...interface{}) {
	z.sugar.Infof(msg, args...)
}

func (z *zapLogger) Warnf(msg string, args ...interface{}) {
	z.sugar.Warnf(msg, args...)
}

func (z *zapLogger) Errorf(msg string, args ...interface{}) {
	z.sugar.Errorf(msg, args...)
}
