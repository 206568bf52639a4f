package main

import (
	"Go2FlowSpectra/internal/api"
	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/streamaggregator"
	"Go2FlowSpectra/internal/logging"
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	log.Println("Starting ns-engine...")

	// 2. Initialize a new StreamAggregator
	streamAgg, err := streamaggregator.NewStreamAggregator(cfg)
	if err != nil {
		log.Fatalf("Failed to create stream aggregator: %v", err)
	}

	// 3. Start the aggregator and the API
	if err := streamAgg.Start(); err != nil {
		log.Fatalf("Failed to start stream aggregator: %v", err)
	}

	server := api.NewServer(cfg.API.ListenAddr, streamAgg)
	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	// 4. Wait for a shutdown signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping aggregator...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("API server forced to shutdown: %v", err)
	}
	streamAgg.Stop()
	log.Println("Shutdown complete.")
}
