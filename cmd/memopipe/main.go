package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"memopipe/internal/cli"
)

// main cancels the run on SIGINT/SIGTERM; in-flight tasks finish, the rest
// are reported NOT_RUN.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
