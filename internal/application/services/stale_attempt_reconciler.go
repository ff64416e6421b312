package services

import (
	"context"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	"github.com/rs/zerolog/log"
)

// StaleAttemptReconciler fails open attempts whose holder never finished them
type StaleAttemptReconciler struct {
	log         repositories.ProcessingLogRepository
	coordinator *PipelineCoordinator
	events      eventPublisher
	metrics     *observability.Metrics
	staleAfter  time.Duration
	now         func() time.Time
}

// NewStaleAttemptReconciler creates a new reconciler
func NewStaleAttemptReconciler(
	processingLog repositories.ProcessingLogRepository,
	coordinator *PipelineCoordinator,
	bus providers.EventBus,
	metrics *observability.Metrics,
	staleAfter time.Duration,
) *StaleAttemptReconciler {
	return &StaleAttemptReconciler{
		log:         processingLog,
		coordinator: coordinator,
		events:      eventPublisher{bus: bus},
		metrics:     metrics,
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// ReconcileOnce expires stale attempts, re-projects the affected policies and
// returns how many attempts were expired
func (r *StaleAttemptReconciler) ReconcileOnce(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.staleAfter)
	expired, err := r.log.ReconcileStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	observability.RecordReconciled(ctx, r.metrics, len(expired))

	statuses := make(map[string]entities.PolicyStatus)
	for _, entry := range expired {
		status, seen := statuses[entry.PolicyID]
		if !seen {
			status = r.coordinator.refresh(ctx, entry.PolicyID)
			statuses[entry.PolicyID] = status
		}
		r.events.publish(ctx, entities.NewAttemptEvent(entities.PipelineEventStageReconciled, entry, status))

		log.Warn().
			Str("policy_id", entry.PolicyID).
			Str("stage", string(entry.Stage)).
			Int64("processing_id", entry.ID).
			Time("opened_at", entry.OpenedAt()).
			Msg("Expired stale processing attempt")
	}
	return len(expired), nil
}

// StartPeriodic runs a reconciliation pass now and then every interval until ctx is done
func (r *StaleAttemptReconciler) StartPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	// Attempts left open by a previous process are expired right away
	if _, err := r.ReconcileOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Initial stale attempt reconciliation failed")
	}

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Stale attempt reconciler stopped")
				return
			case <-ticker.C:
				if _, err := r.ReconcileOnce(ctx); err != nil {
					log.Error().Err(err).Msg("Stale attempt reconciliation failed")
				}
			}
		}
	}()

	log.Info().Dur("interval", interval).Dur("stale_after", r.staleAfter).Msg("Stale attempt reconciler started")
}
