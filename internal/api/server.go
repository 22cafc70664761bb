package api

import (
	"context"
	"log"
	"strings"

	"taxifleet/internal/auth"
	"taxifleet/internal/config"
	"taxifleet/internal/ingest"
	"taxifleet/internal/ingest/csvfile"
	"taxifleet/internal/store"
	"taxifleet/internal/webhooks"
)

type Server struct {
	Cfg     config.Config
	Store   store.Store
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Runner  *Runner
	Sources map[string]ingest.Source
}

// NewServer wires the service from cfg. Without a database URL the in-memory
// store is used; without a Redis URL events fan out in process.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := sp.MigrateDir(cfg.MigrationsDir); err != nil {
				log.Printf("[api] migrate %s: %v", cfg.MigrationsDir, err)
			}
		}
		s = sp
	}
	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("[api] redis broker unavailable, using memory: %v", err)
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	sources := map[string]ingest.Source{}
	for _, spec := range cfg.Sources {
		sources[spec.Name] = csvfile.New(spec, cfg.Optimizer.MaxRiders)
	}
	pub := webhooks.NewPublisher(s)
	srv := &Server{
		Cfg:     cfg,
		Store:   s,
		Pub:     pub,
		Auth:    auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret, cfg.Auth.JWKSURL),
		Broker:  broker,
		Sources: sources,
	}
	srv.Runner = NewRunner(s, broker, pub)
	return srv, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhooks.MaxAttempts)
}

type pinger interface {
	Ping(ctx context.Context) error
}
