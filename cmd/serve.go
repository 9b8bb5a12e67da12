package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	crmindexer "github.com/iziplay/crm-indexer"
	routing "github.com/iziplay/crm-indexer/pkg/api"
	"github.com/iziplay/crm-indexer/pkg/config"
	"github.com/iziplay/crm-indexer/pkg/crm"
	"github.com/iziplay/crm-indexer/pkg/fetch"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
	"github.com/iziplay/crm-indexer/pkg/sync"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const retryDelay = 5 * time.Minute

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Serve the HTTP API and run the scheduled pipeline",
	Action: serveAction,
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := setupTracing(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	client, err := salesforce.Connect(ctx, cfg.Salesforce)
	if err != nil {
		return err
	}
	slog.Info("Connected to Salesforce", "instance", client.InstanceURL())

	b := openBackends(cfg, cfg.Elastic.Index)
	syncer := sync.New(fetch.New(client, fetch.WithWorkers(cfg.Workers)), b.syncOptions()...)

	router := chi.NewRouter()

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Server"},
		AllowCredentials: false,
	}))
	router.Handle("/metrics", promhttp.Handler())

	humaConfig := huma.DefaultConfig("CRM Indexer API", "1.0.0")
	humaConfig.OpenAPI.Info.Description = crmindexer.Readme
	humaConfig.OpenAPI.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	humaConfig.DocsPath = "/"
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.API.URL()},
	}
	api := humachi.New(router, humaConfig)

	server := &routing.Server{
		Syncer:     syncer,
		Indexes:    b.indexes,
		Store:      b.store,
		JWTSecret:  cfg.API.JWTSecret,
		RunTimeout: cfg.RunTimeout,
	}
	server.Setup(api)

	httpServer := &http.Server{
		Addr:    cfg.API.Addr(),
		Handler: otelhttp.NewHandler(router, "api"),
	}

	go func() {
		slog.Info("Starting server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	if cfg.SyncInterval > 0 && cfg.SyncPipeline != "" && cfg.SyncFile != "" {
		go scheduleRuns(ctx, syncer, cfg)
	}

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// scheduleRuns runs the configured pipeline every SyncInterval, counting
// from the last complete run so restarts do not trigger extra runs.
func scheduleRuns(ctx context.Context, syncer *sync.Syncer, cfg config.Config) {
	if _, ok := crm.Lookup(cfg.SyncPipeline); !ok {
		slog.Error("Scheduled pipeline does not exist", "pipeline", cfg.SyncPipeline)
		return
	}

	for {
		sleepDuration, err := syncer.NextSync(ctx, cfg.SyncPipeline, cfg.SyncInterval)
		if err != nil {
			slog.Error("Failed to get last run", "error", err)
			sleepDuration = cfg.SyncInterval
		}

		slog.Info("Next sync scheduled", "pipeline", cfg.SyncPipeline, "in", sleepDuration)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
		}

		refs, err := readReferences(cfg.SyncFile)
		if err == nil {
			err = scheduledRun(ctx, syncer, cfg, refs)
		}
		if err != nil {
			// only complete runs count, wait before retrying
			slog.Error("Sync failed", "error", err, "retryIn", retryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

func scheduledRun(ctx context.Context, syncer *sync.Syncer, cfg config.Config, refs []string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	_, err := syncer.Run(ctx, sync.Options{Pipeline: cfg.SyncPipeline, References: refs})
	return err
}
