package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/onexay/catapult/internal/command"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := command.Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
