package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var (
	successExitCode = 0
	usageExitCode   = 1
	failureExitCode = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
