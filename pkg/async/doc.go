// Package async provides panic-safe background tasks.
//
// SafeGo runs a function on its own goroutine with a timeout derived from the parent
// context, recovers panics, and logs errors instead of propagating them:
//
//	done := async.SafeGo(ctx, log, time.Minute, "refresh plugins", func(ctx context.Context) error {
//		return registry.RefreshAll(ctx)
//	})
//	<-done
package async
