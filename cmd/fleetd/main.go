package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taxifleet/internal/api"
	"taxifleet/internal/buildinfo"
	"taxifleet/internal/config"
	"taxifleet/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (default $FLEET_CONFIG)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *version {
		fmt.Println(buildinfo.String())
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Runs
	mux.HandleFunc("/v1/runs", srvDeps.RunsHandler)
	mux.HandleFunc("/v1/runs/", srvDeps.RunByIDHandler) // includes /itineraries, /checkpoints, /metrics, /events
	mux.HandleFunc("/v1/sources", srvDeps.SourcesHandler)
	mux.HandleFunc("/v1/stations/placement", srvDeps.PlacementHandler)

	// Webhooks
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/webhooks/dlq", srvDeps.WebhookDLQHandler)

	// Health and introspection
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.HandleFunc("/debug/vars.json", srvDeps.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(metricsMiddleware(rateLimitMiddleware(cfg.RateRPS, cfg.RateBurst, mux))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvDeps.Runner.Start()
	worker := srvDeps.NewWebhookWorker()
	worker.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("fleetd %s listening on %s (region %q)", buildinfo.String(), addr, cfg.Region)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	close(worker.Stop)
	srvDeps.Runner.Stop()
	log.Printf("fleetd stopped")
}
