package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/opencivic/eventbrite-warehouse/internal/config"
	"github.com/opencivic/eventbrite-warehouse/internal/eventbrite"
	"github.com/opencivic/eventbrite-warehouse/internal/httpserver"
	"github.com/opencivic/eventbrite-warehouse/internal/loader"
	"github.com/opencivic/eventbrite-warehouse/internal/warehouse"
)

// main runs one load: config → DB → token probe → ingest → view refresh.
// The scheduler (cron) decides when this binary runs.
func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Every line of this run carries the same run id.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).
		With("run_id", uuid.NewString())

	wh, err := warehouse.New(cfg.DBURL(), cfg.PGSchema)
	if err != nil {
		log.Fatalf("connect warehouse: %v", err)
	}
	defer wh.Close()

	api := eventbrite.New(cfg.EventbriteToken, logger)

	// Fail on a bad token before touching the warehouse.
	if _, err := api.Me(ctx); err != nil {
		log.Fatalf("verify token: %v", err)
	}

	job := loader.New(wh, api, cfg.EventbriteOrg, logger)

	// Status surface for the duration of the run; ingestion itself stays
	// fully sequential.
	if cfg.StatusAddr != "" {
		router := httpserver.NewRouter(wh, job.Progress)
		go func() {
			if err := router.Run(cfg.StatusAddr); err != nil {
				logger.Error("status server stopped", "error", err)
			}
		}()
		logger.Info("status server started", "addr", cfg.StatusAddr)
	}

	if err := job.Run(ctx); err != nil {
		log.Fatalf("load failed: %v", err)
	}
	logger.Info("load complete")
}
