package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
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
	var force bool
	var intervalFlag string
	flag.BoolVar(&force, "force", false, "re-index policies that are already indexed")
	flag.StringVar(&intervalFlag, "interval", "", "repeat interval for reindexing (e.g. 6h, 30m)")
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
	observability.InitLogger("civiclens-indexer", cfg.App.Environment)

	intervalValue := strings.TrimSpace(intervalFlag)
	if intervalValue == "" {
		intervalValue = strings.TrimSpace(os.Getenv("REINDEX_INTERVAL"))
	}

	var interval time.Duration
	if intervalValue != "" {
		interval, err = time.ParseDuration(intervalValue)
		if err != nil {
			log.Fatal().Err(err).Str("interval", intervalValue).Msg("Invalid interval")
		}
		if interval <= 0 {
			log.Fatal().Msg("Interval must be greater than zero")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer components.Close()

	if _, ok := components.Registry.Get(entities.StageSearchIndexing); !ok {
		log.Fatal().Msg("Search indexing is not available; set TYPESENSE_ENABLED=true and check the Typesense connection")
	}

	svc := services.NewBackfillService(components.Policies, components.Coordinator, cfg.Pipeline.BackfillWorkers)

	for {
		if err := indexOnce(ctx, svc, force); err != nil {
			log.Error().Err(err).Msg("Reindex failed")
		}

		if interval <= 0 {
			break
		}

		log.Info().Dur("next_run_in", interval).Msg("Reindex complete")

		select {
		case <-ctx.Done():
			log.Info().Msg("Reindexer shutting down")
			return
		case <-time.After(interval):
		}
	}
}

// indexOnce indexes every analyzed policy whose text is not yet searchable
func indexOnce(ctx context.Context, svc *services.BackfillService, force bool) error {
	start := time.Now()
	summary, err := svc.Run(ctx, services.BackfillRequest{
		Stage:  entities.StageSearchIndexing,
		Status: entities.PolicyStatusAnalyzed,
		Force:  force,
	})
	if err != nil {
		return err
	}

	log.Info().
		Dur("duration", time.Since(start)).
		Int("indexed", summary.SuccessCount).
		Int("already_indexed", summary.SkippedCount).
		Int("failed", summary.FailureCount).
		Msg("Indexed policies")
	return nil
}
