package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := newApp(logger)
	if err := application.Run(ctx, os.Args); err != nil {
		stop()
		logger.Fatal(err)
	}
}
