package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestContext creates a context with a logger that captures every entry
// at debug level and above.
func TestContext() (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return ContextWithLogger(context.Background(), zap.New(core)), logs
}
