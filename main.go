package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"video-search-bot/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, "dev"); err != nil {
		stop()
		log.Fatalf("videobot: %v", err)
	}
}
