package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/bootstrap"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	"github.com/civiclens/civiclens/backend/pkg/config"
	"github.com/civiclens/civiclens/backend/pkg/secrets"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		stage   string
		status  string
		force   bool
		workers int
	)
	flag.StringVar(&stage, "stage", string(entities.StageTextExtraction), "Stage to run")
	flag.StringVar(&status, "status", string(entities.PolicyStatusUploaded), "Only policies in this status (empty for all)")
	flag.BoolVar(&force, "force", false, "Re-run even when the stage already has a result")
	flag.IntVar(&workers, "workers", 0, "Number of concurrent workers (defaults to PIPELINE_BACKFILL_WORKERS)")
	flag.Parse()

	if _, err := secrets.ApplyFromEnv(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets from Vault: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger("civiclens-backfill", cfg.App.Environment)

	if workers <= 0 {
		workers = cfg.Pipeline.BackfillWorkers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, err := bootstrap.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer components.Close()

	svc := services.NewBackfillService(components.Policies, components.Coordinator, workers)

	start := time.Now()
	log.Info().Str("stage", stage).Str("status", status).Bool("force", force).Int("workers", workers).Msg("Starting backfill")

	summary, err := svc.Run(ctx, services.BackfillRequest{
		Stage:  entities.Stage(stage),
		Status: entities.PolicyStatus(status),
		Force:  force,
	})
	if err != nil {
		log.Error().Err(err).Msg("Backfill failed")
		return
	}

	log.Info().
		Dur("duration", time.Since(start)).
		Int("total", summary.TotalProcessed).
		Int("success", summary.SuccessCount).
		Int("skipped", summary.SkippedCount).
		Int("failed", summary.FailureCount).
		Msg("Backfill complete")
}
