package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/healthsync/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
