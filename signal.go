package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The cancellation is the process-wide token
// the sync loop observes at each suspension point: no further asset is
// started, an in-progress download is cut off with its .part file left in
// place for resume, and unattempted deletion intents are discarded. Nothing
// is written to the session store at shutdown; it is saved when a login
// completes. A first signal is therefore always safe, while a second lets
// an operator force-quit a pass that is stuck on an unresponsive transport
// call.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping the current pass",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		// Wait for second signal — force exit. Any .part file mid-write
		// stays on disk and resumes on the next pass (spec.md §4.2); only
		// the deletion intents of the current pass are lost.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
