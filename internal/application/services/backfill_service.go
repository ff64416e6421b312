package services

import (
	"context"
	"sync/atomic"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BackfillRequest selects which policies a backfill runs a stage against
type BackfillRequest struct {
	Stage  entities.Stage
	Status entities.PolicyStatus
	Force  bool
}

// BackfillSummary counts the outcome of a backfill
type BackfillSummary struct {
	TotalProcessed int
	SuccessCount   int
	SkippedCount   int
	FailureCount   int
}

// BackfillService runs one stage across many policies with bounded concurrency
type BackfillService struct {
	policies    repositories.PolicyRepository
	coordinator *PipelineCoordinator
	workerCount int
}

// NewBackfillService creates a new backfill service
func NewBackfillService(policies repositories.PolicyRepository, coordinator *PipelineCoordinator, workers int) *BackfillService {
	if workers <= 0 {
		workers = 1
	}
	return &BackfillService{
		policies:    policies,
		coordinator: coordinator,
		workerCount: workers,
	}
}

// Run runs req.Stage for every matching policy. Conflicts count as skipped;
// only listing errors and cancellation abort the run.
func (s *BackfillService) Run(ctx context.Context, req BackfillRequest) (*BackfillSummary, error) {
	if _, ok := s.coordinator.Registry().Get(req.Stage); !ok {
		return nil, apperrors.NewValidationError("unknown stage: " + string(req.Stage))
	}

	// Statuses move while stages run, so the id set is fixed before any work starts
	ids, err := s.collectIDs(ctx, req.Status)
	if err != nil {
		return nil, err
	}

	var processed, success, skipped, failure int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workerCount)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			_, err := s.coordinator.RunStage(gctx, id, req.Stage, req.Force)
			atomic.AddInt64(&processed, 1)
			switch {
			case err == nil:
				atomic.AddInt64(&success, 1)
			case apperrors.IsType(err, apperrors.ErrorTypeConflict):
				atomic.AddInt64(&skipped, 1)
				log.Debug().Err(err).Str("policy_id", id).Msg("Backfill skipped policy")
			default:
				atomic.AddInt64(&failure, 1)
				log.Warn().Err(err).Str("policy_id", id).Str("stage", string(req.Stage)).Msg("Backfill failed for policy")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &BackfillSummary{
		TotalProcessed: int(processed),
		SuccessCount:   int(success),
		SkippedCount:   int(skipped),
		FailureCount:   int(failure),
	}, nil
}

func (s *BackfillService) collectIDs(ctx context.Context, status entities.PolicyStatus) ([]string, error) {
	var ids []string
	filter := repositories.PolicyFilter{Status: status, Limit: repositories.MaxListLimit}
	for {
		page, total, err := s.policies.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, policy := range page {
			ids = append(ids, policy.ID)
		}
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			return ids, nil
		}
	}
}
