package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/switchpoint/msc/internal/audio"
	"github.com/switchpoint/msc/internal/config"
	"github.com/switchpoint/msc/internal/mobile"
	"github.com/switchpoint/msc/internal/voice"
)

func main() {
	cfg, err := config.Load[mobile.Config]()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	client, err := mobile.Dial(cfg)
	if err != nil {
		log.Fatalf("Failed to reach MSC: %v", err)
	}
	defer client.Close()

	// Microphone capture is device-backed and out of scope; stream a
	// test tone instead.
	source, err := audio.NewToneSource(cfg.ToneHz, voice.ChunkSize)
	if err != nil {
		log.Fatalf("Invalid audio source: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting voice call as MSISDN %s", cfg.MSISDN)
	if err := client.Run(ctx, source); err != nil {
		log.Fatalf("Call failed: %v", err)
	}
}
