package log

import (
	"context"

	"github.com/NixM0nk3y/chinook-migrate/version"
	"go.uber.org/zap"
)

// https://blog.gopheracademy.com/advent-2016/context-logging/
type correlationIDType int

const (
	runIDKey correlationIDType = iota
)

// Default logger of the system.
var logger *zap.Logger

func init() {

	buildVersion := version.Version
	buildHash := version.BuildHash
	buildDate := version.BuildDate

	defaultLogger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		panic("failed to initilize logger: " + loggerErr.Error())
	}
	defer defaultLogger.Sync()
	logger = defaultLogger.With(zap.String("v", buildVersion), zap.String("bh", buildHash), zap.String("bd", buildDate))
}

// WithRunID returns a context which knows its migration run ID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// Logger returns a zap logger with as much context as possible
func Logger(ctx context.Context) *zap.Logger {

	newLogger := logger

	if ctx == nil {
		return newLogger
	}

	if ctxRunID, ok := ctx.Value(runIDKey).(string); ok {
		newLogger = newLogger.With(zap.String("runID", ctxRunID))
	}

	return newLogger
}
