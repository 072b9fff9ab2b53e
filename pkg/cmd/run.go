package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// RunAll runs every component until ctx is done or one of them fails.
func RunAll(ctx context.Context, components ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, start := range components {
		g.Go(func() error { return start(ctx) })
	}

	return g.Wait()
}
