package repositories

import (
	"context"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
)

// ProcessingLogRepository is the append-only ledger of stage attempts
type ProcessingLogRepository interface {
	// StartAttempt claims the (policy, stage) slot following entities.DecideClaim
	// and returns the new entry already in_progress
	StartAttempt(ctx context.Context, params entities.StartAttemptParams) (*entities.ProcessingLogEntry, error)

	// CompleteAttempt moves an in_progress entry to completed with its result
	CompleteAttempt(ctx context.Context, id int64, result entities.StageResult) (*entities.ProcessingLogEntry, error)

	// FailAttempt moves an in_progress entry to failed
	FailAttempt(ctx context.Context, id int64, kind, message string) (*entities.ProcessingLogEntry, error)

	// LatestCompleted returns the authoritative completed entry, or nil when none exists
	LatestCompleted(ctx context.Context, policyID string, stage entities.Stage) (*entities.ProcessingLogEntry, error)

	// ListByPolicy returns every entry of a policy ordered by id
	ListByPolicy(ctx context.Context, policyID string) ([]*entities.ProcessingLogEntry, error)

	// ReconcileStale fails open entries opened before cutoff and returns them
	ReconcileStale(ctx context.Context, cutoff time.Time) ([]*entities.ProcessingLogEntry, error)
}
