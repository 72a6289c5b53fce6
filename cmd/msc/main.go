package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/switchpoint/msc/internal/audio"
	"github.com/switchpoint/msc/internal/config"
	"github.com/switchpoint/msc/internal/node"
)

func main() {
	cfg, err := config.Load[node.Config]()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Speaker playback is a hardware concern handled outside the core;
	// the headless node discards decoded media after recording it.
	n, err := node.New(cfg, audio.Discard{})
	if err != nil {
		log.Fatalf("Failed to start MSC: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Run(ctx); err != nil {
		log.Fatalf("MSC error: %v", err)
	}
}
