package async

import (
	"context"
	"time"

	"github.com/platinummonkey/fursona/pkg/observability"
)

// SafeGo executes fn in a goroutine bounded by timeout. Panics are recovered
// and errors are logged with the task name; nothing is returned to the caller.
//
// The task keeps running after parentCtx is canceled only if the caller
// detaches it first, e.g. with context.WithoutCancel.
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}
