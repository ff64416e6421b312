package services

import (
	"context"
	"fmt"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// TerminalStage is the stage whose completion marks a policy analyzed
const TerminalStage = entities.StageTextExtraction

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"

	// recordTimeout bounds the writes that close an attempt after its executor returned
	recordTimeout = 30 * time.Second
)

// CoordinatorOptions tunes the pipeline coordinator
type CoordinatorOptions struct {
	StaleAfter   time.Duration
	StageTimeout time.Duration
	LockTTL      time.Duration
}

// PipelineCoordinator runs registered stages against policies and keeps the
// processing log and the denormalized policy status in step
type PipelineCoordinator struct {
	policies repositories.PolicyRepository
	log      repositories.ProcessingLogRepository
	registry *StageRegistry
	blobs    providers.BlobStore
	locker   providers.Locker
	events   eventPublisher
	metrics  *observability.Metrics
	opts     CoordinatorOptions
}

// NewPipelineCoordinator creates a new pipeline coordinator. bus and metrics may be nil.
func NewPipelineCoordinator(
	policies repositories.PolicyRepository,
	log repositories.ProcessingLogRepository,
	registry *StageRegistry,
	blobs providers.BlobStore,
	locker providers.Locker,
	bus providers.EventBus,
	metrics *observability.Metrics,
	opts CoordinatorOptions,
) *PipelineCoordinator {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 2 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	opts.StageTimeout = boundStageTimeout(opts.StageTimeout, opts.StaleAfter)
	return &PipelineCoordinator{
		policies: policies,
		log:      log,
		registry: registry,
		blobs:    blobs,
		locker:   locker,
		events:   eventPublisher{bus: bus},
		metrics:  metrics,
		opts:     opts,
	}
}

// Options returns the effective coordinator settings
func (c *PipelineCoordinator) Options() CoordinatorOptions {
	return c.opts
}

// Registry returns the stages this coordinator can run
func (c *PipelineCoordinator) Registry() *StageRegistry {
	return c.registry
}

// RunStage runs one stage against one policy. On an executor failure the
// failed entry is returned together with the typed error.
func (c *PipelineCoordinator) RunStage(ctx context.Context, policyID string, stage entities.Stage, force bool) (*entities.ProcessingLogEntry, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.RunStage")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("policy.id", policyID),
		attribute.String("pipeline.stage", string(stage)),
		attribute.Bool("pipeline.force", force),
	)

	entry, err := c.runStage(ctx, policyID, stage, force)
	if err != nil {
		observability.RecordError(span, err)
	}
	return entry, err
}

func (c *PipelineCoordinator) runStage(ctx context.Context, policyID string, stage entities.Stage, force bool) (*entities.ProcessingLogEntry, error) {
	executor, ok := c.registry.Get(stage)
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown stage: %s", stage))
	}

	policy, err := c.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy.IsArchived() {
		return nil, apperrors.NewConflictError(fmt.Sprintf("policy %s is archived", policyID))
	}

	upstream, err := c.upstream(ctx, policyID, executor.Requires())
	if err != nil {
		return nil, err
	}

	entry, err := c.claim(ctx, policyID, stage, force)
	if err != nil {
		return nil, err
	}

	logger := observability.LoggerFromContext(ctx)
	logger.Info().
		Str("policy_id", policyID).
		Str("stage", string(stage)).
		Int64("processing_id", entry.ID).
		Bool("force", force).
		Msg("Stage attempt started")

	status := c.refresh(ctx, policyID)
	c.events.publish(ctx, entities.NewAttemptEvent(entities.PipelineEventStageStarted, entry, status))

	// The attempt must reach a terminal state even when the caller goes away.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.StageTimeout)
	defer cancel()

	input := providers.StageInput{
		Policy: policy,
		Content: func(ctx context.Context) ([]byte, error) {
			return c.blobs.Get(ctx, policy.StorageKey)
		},
		Upstream: upstream,
	}

	started := time.Now()
	result, execErr := c.execute(runCtx, executor, input)

	// runCtx may already be past its deadline; the outcome is still recorded
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancelRecord()

	if execErr != nil {
		observability.RecordStageRun(recordCtx, c.metrics, string(stage), outcomeFailed, time.Since(started))
		return c.fail(recordCtx, entry, execErr)
	}
	observability.RecordStageRun(recordCtx, c.metrics, string(stage), outcomeCompleted, time.Since(started))

	completed, err := c.log.CompleteAttempt(recordCtx, entry.ID, result)
	if err != nil {
		c.logTransitionError(recordCtx, entry, err)
		return nil, err
	}

	logger.Info().
		Str("policy_id", policyID).
		Str("stage", string(stage)).
		Int64("processing_id", completed.ID).
		Dur("duration", time.Since(started)).
		Msg("Stage attempt completed")

	status = c.refresh(recordCtx, policyID)
	c.events.publish(recordCtx, entities.NewAttemptEvent(entities.PipelineEventStageCompleted, completed, status))
	return completed, nil
}

// claim opens the attempt while holding the (policy, stage) lock. The lock only
// covers the claim; the open entry itself keeps other callers out afterwards.
func (c *PipelineCoordinator) claim(ctx context.Context, policyID string, stage entities.Stage, force bool) (*entities.ProcessingLogEntry, error) {
	release, err := c.locker.Acquire(ctx, attemptLockKey(policyID, stage), c.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.log.StartAttempt(ctx, entities.StartAttemptParams{
		PolicyID:   policyID,
		Stage:      stage,
		Force:      force,
		StaleAfter: c.opts.StaleAfter,
	})
}

func (c *PipelineCoordinator) upstream(ctx context.Context, policyID string, required []entities.Stage) (map[entities.Stage]*entities.ProcessingLogEntry, error) {
	upstream := make(map[entities.Stage]*entities.ProcessingLogEntry, len(required))
	for _, stage := range required {
		entry, err := c.log.LatestCompleted(ctx, policyID, stage)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("stage %s must complete before this stage can run", stage))
		}
		upstream[stage] = entry
	}
	return upstream, nil
}

func (c *PipelineCoordinator) execute(ctx context.Context, executor providers.StageExecutor, input providers.StageInput) (result entities.StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Sprintf("stage %s panicked", executor.Stage()), fmt.Errorf("%v", r))
		}
	}()
	return executor.Execute(ctx, input)
}

func (c *PipelineCoordinator) fail(ctx context.Context, entry *entities.ProcessingLogEntry, execErr error) (*entities.ProcessingLogEntry, error) {
	message := execErr.Error()
	appErr, ok := apperrors.As(execErr)
	if ok {
		message = appErr.Message
	} else {
		appErr = apperrors.NewInternalError(fmt.Sprintf("stage %s failed", entry.Stage), execErr)
	}

	failed, err := c.log.FailAttempt(ctx, entry.ID, string(appErr.Type), message)
	if err != nil {
		c.logTransitionError(ctx, entry, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Warn().
		Err(execErr).
		Str("policy_id", entry.PolicyID).
		Str("stage", string(entry.Stage)).
		Int64("processing_id", entry.ID).
		Str("error_kind", string(appErr.Type)).
		Msg("Stage attempt failed")

	status := c.refresh(ctx, entry.PolicyID)
	c.events.publish(ctx, entities.NewAttemptEvent(entities.PipelineEventStageFailed, failed, status))
	return failed, appErr
}

func (c *PipelineCoordinator) logTransitionError(ctx context.Context, entry *entities.ProcessingLogEntry, err error) {
	logger := observability.LoggerFromContext(ctx)
	event := logger.Warn()
	if apperrors.IsType(err, apperrors.ErrorTypeInvalidState) {
		event = logger.Error()
	}
	event.Err(err).
		Str("policy_id", entry.PolicyID).
		Str("stage", string(entry.Stage)).
		Int64("processing_id", entry.ID).
		Msg("Failed to record attempt outcome")
}

// RefreshStatus re-projects the policy status from its processing log and
// stores it when it changed
func (c *PipelineCoordinator) RefreshStatus(ctx context.Context, policyID string) (entities.PolicyStatus, error) {
	release, err := c.locker.Acquire(ctx, statusLockKey(policyID), c.opts.LockTTL)
	if err != nil {
		return "", err
	}
	defer release()

	policy, err := c.policies.GetByID(ctx, policyID)
	if err != nil {
		return "", err
	}
	entries, err := c.log.ListByPolicy(ctx, policyID)
	if err != nil {
		return "", err
	}

	status := entities.ProjectStatus(entries, TerminalStage, policy.IsArchived())
	if status != policy.Status {
		if err := c.policies.UpdateStatus(ctx, policyID, status); err != nil {
			return "", err
		}
	}
	return status, nil
}

func (c *PipelineCoordinator) refresh(ctx context.Context, policyID string) entities.PolicyStatus {
	status, err := c.RefreshStatus(ctx, policyID)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("policy_id", policyID).Msg("Failed to refresh policy status")
	}
	return status
}

// GetExtractedText returns the policy and its authoritative extracted text
func (c *PipelineCoordinator) GetExtractedText(ctx context.Context, policyID string) (*entities.PolicyDocument, *entities.ExtractedText, error) {
	policy, err := c.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, nil, err
	}

	entry, err := c.log.LatestCompleted(ctx, policyID, entities.StageTextExtraction)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, apperrors.NewNotFoundError(fmt.Sprintf("no extracted text for policy '%s'", policyID))
	}

	text, err := entities.ExtractedTextFromResult(entry.Result)
	if err != nil {
		return nil, nil, apperrors.NewInternalError("failed to decode extracted text", err)
	}
	return policy, text, nil
}

// History returns every processing attempt of a policy ordered by id
func (c *PipelineCoordinator) History(ctx context.Context, policyID string) ([]*entities.ProcessingLogEntry, error) {
	if _, err := c.policies.GetByID(ctx, policyID); err != nil {
		return nil, err
	}
	return c.log.ListByPolicy(ctx, policyID)
}

// boundStageTimeout keeps a running attempt from outliving the stale window,
// otherwise expiry could hand its slot to a second executor while it still runs
func boundStageTimeout(timeout, staleAfter time.Duration) time.Duration {
	if staleAfter <= 0 || timeout < staleAfter {
		return timeout
	}
	bounded := staleAfter / 2
	log.Warn().
		Dur("stage_timeout", timeout).
		Dur("stale_after", staleAfter).
		Dur("bounded_timeout", bounded).
		Msg("Stage timeout is not shorter than the stale window; lowering it")
	return bounded
}

func attemptLockKey(policyID string, stage entities.Stage) string {
	return fmt.Sprintf("policy:%s:%s", policyID, stage)
}

func statusLockKey(policyID string) string {
	return fmt.Sprintf("policy:%s:status", policyID)
}
