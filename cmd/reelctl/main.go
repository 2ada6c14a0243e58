// Command reelctl operates on the media library directly through the
// persistence layer: publication steps, accounts, schema maintenance and
// API tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx := newCommandContext()
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(ctx).ExecuteContext(sigCtx)
	stop()

	// Deferred writes are flushed even when the command failed.
	ctx.close(context.Background())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
