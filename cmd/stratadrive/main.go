// cmd/stratadrive/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dalemusser/stratadrive/internal/app/bootstrap"
	"github.com/dalemusser/waffle/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, bootstrap.Hooks); err != nil {
		fmt.Fprintf(os.Stderr, "stratadrive: %v\n", err)
		os.Exit(1)
	}
}
