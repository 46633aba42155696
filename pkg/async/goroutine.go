package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/calyptra/pulse/pkg/observability"
)

// SafeGo executes fn in a goroutine with panic recovery, a bounded timeout,
// and error logging. The caller never observes the outcome; use it only for
// side writes whose failure must not affect the primary path.
//
// The task gets a fresh context detached from the request so the side write
// survives the handler returning.
func SafeGo(logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}
