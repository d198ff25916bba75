package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqui/messenger/internal/messaging"
	"github.com/loqui/messenger/internal/push"
)

func main() {
	log.Println("Starting Loqui push worker...")

	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "loqui-pusher"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("connect to NATS: %v", err)
	}

	worker := push.NewWorker(natsClient, push.LogProvider{})
	if err := worker.Start(); err != nil {
		log.Fatalf("subscribe to push requests: %v", err)
	}

	log.Printf("Loqui push worker running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
