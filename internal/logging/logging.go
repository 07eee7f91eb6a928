package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. An unparsable level falls back to info.
func NewLogger(level string, development bool) *zap.Logger {
	return newLogger(level, development, zapcore.Lock(os.Stdout))
}

// NewCLILogger is NewLogger writing to stderr, leaving stdout to the command's output
func NewCLILogger(level string, development bool) *zap.Logger {
	return newLogger(level, development, zapcore.Lock(os.Stderr))
}

func newLogger(level string, development bool, sink zapcore.WriteSyncer) *zap.Logger {
	logLevel, levelErr := zapcore.ParseLevel(level)
	if levelErr != nil {
		logLevel = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	if development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	logger := zap.New(zapcore.NewCore(
		encoder,
		sink,
		logLevel,
	)).Named("streamer")

	if levelErr != nil && level != "" {
		logger.Warn("Unable to parse log level, using INFO", zap.String("level", level))
	}

	return logger
}
