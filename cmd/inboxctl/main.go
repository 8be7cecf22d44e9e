// Command inboxctl drives an inbox session from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"inboxsync/internal/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var se *api.StatusError
	if errors.As(err, &se) && (se.Status == 401 || se.Status == 403) {
		return 3
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
