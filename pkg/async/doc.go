// Package async runs background work with panic recovery and timeouts.
//
// Fire-and-forget tasks log their error instead of returning it:
//
//	async.SafeGo(ctx, logger, 5*time.Minute, "prune-billing-events", func(ctx context.Context) error {
//		_, err := store.PruneEvents(ctx, cutoff)
//		return err
//	})
//
// A panic inside the task is recovered and logged with the task name.
package async
