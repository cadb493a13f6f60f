// Package main runs a fake simulation backend for testing rlbridge.
// It serves the backend's WebSocket endpoint (/ws/simulate) and the
// episode history (/episodes) with a deterministic rocket model.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/landingbay/rlbridge/internal/mocksim"
)

var (
	listenAddr    string
	steps         int
	trainEpisodes int
	delay         time.Duration
	verbose       bool
)

func main() {
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:8000", "Address to listen on")
	flag.IntVar(&steps, "steps", 20, "State frames per auto episode")
	flag.IntVar(&trainEpisodes, "train-episodes", 3, "Training episodes per train run")
	flag.DurationVar(&delay, "delay", 50*time.Millisecond, "Delay between scripted frames")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging to stderr")
	flag.Parse()

	var logger *slog.Logger
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	sim := mocksim.New(mocksim.Options{
		Steps:         steps,
		TrainEpisodes: trainEpisodes,
		Interval:      delay,
		Logger:        logger,
	})
	defer sim.Close()

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatalf("Listen error: %v", err)
	}
	// The address line is parsed by tests started with -listen 127.0.0.1:0.
	fmt.Printf("listening on %s\n", listener.Addr())

	srv := &http.Server{Handler: sim.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		srv.Close()
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
