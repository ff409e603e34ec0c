// Package main is the entry point for the pipeline's worker process: a
// single EventBus consumer role, selected by --role, per spec.md §5.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"brokle/internal/app"
	"brokle/internal/config"
)

func main() {
	var (
		role         = flag.String("role", "", "worker role: persistence|security|cost|broadcast")
		consumerName = flag.String("consumer-name", "", "consumer identity within this role's group (default: hostname)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	workerRole, err := parseRole(*role)
	if err != nil {
		log.Fatal(err)
	}

	name := *consumerName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "worker-unknown"
		}
		name = hostname
	}

	worker, err := app.NewWorker(cfg, workerRole, name)
	if err != nil {
		log.Fatalf("failed to initialize worker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- worker.Start(ctx)
	}()

	failed := false
	select {
	case <-ctx.Done():
		fmt.Println("shutting down worker...")
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			log.Printf("worker stopped unexpectedly: %v", err)
			failed = true
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := worker.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker forced to shutdown: %v", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}

	fmt.Println("worker stopped")
}

func parseRole(s string) (app.WorkerRole, error) {
	switch app.WorkerRole(s) {
	case app.RolePersistence, app.RoleSecurity, app.RoleCost, app.RoleBroadcast:
		return app.WorkerRole(s), nil
	default:
		return "", fmt.Errorf("invalid --role %q: must be one of persistence|security|cost|broadcast", s)
	}
}
