package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PipelineAdvanceService starts follow-up stages when a policy is uploaded or
// one of its stages completes. It never forces a run.
type PipelineAdvanceService struct {
	coordinator *PipelineCoordinator
	eventBus    providers.EventBus
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewPipelineAdvanceService creates a new pipeline advance service
func NewPipelineAdvanceService(coordinator *PipelineCoordinator, eventBus providers.EventBus) *PipelineAdvanceService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PipelineAdvanceService{
		coordinator: coordinator,
		eventBus:    eventBus,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes to pipeline events
func (s *PipelineAdvanceService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelPipeline)
	if err != nil {
		return fmt.Errorf("failed to subscribe to pipeline events: %w", err)
	}

	s.wg.Add(1)
	go s.processEvents(eventChan)
	log.Info().Strs("entry_stages", stageNames(s.coordinator.Registry().EntryStages())).Msg("Pipeline auto-advance started")
	return nil
}

// Stop stops listening and waits for triggered runs to finish
func (s *PipelineAdvanceService) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Pipeline auto-advance stopped")
}

func (s *PipelineAdvanceService) processEvents(eventChan <-chan *entities.PipelineEvent) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			for _, stage := range s.nextStages(event) {
				s.wg.Add(1)
				go s.run(event.PolicyID, stage)
			}
		}
	}
}

func (s *PipelineAdvanceService) nextStages(event *entities.PipelineEvent) []entities.Stage {
	registry := s.coordinator.Registry()
	switch event.Type {
	case entities.PipelineEventPolicyUploaded:
		return registry.EntryStages()
	case entities.PipelineEventStageCompleted:
		return registry.Dependents(event.Stage)
	}
	return nil
}

func (s *PipelineAdvanceService) run(policyID string, stage entities.Stage) {
	defer s.wg.Done()

	_, err := s.coordinator.RunStage(s.ctx, policyID, stage, false)
	switch {
	case err == nil:
	case apperrors.IsType(err, apperrors.ErrorTypeConflict),
		apperrors.IsType(err, apperrors.ErrorTypeValidation),
		apperrors.IsType(err, apperrors.ErrorTypeNotFound):
		log.Debug().Err(err).Str("policy_id", policyID).Str("stage", string(stage)).Msg("Skipped automatic stage run")
	default:
		log.Warn().Err(err).Str("policy_id", policyID).Str("stage", string(stage)).Msg("Automatic stage run failed")
	}
}

func stageNames(stages []entities.Stage) []string {
	names := make([]string, len(stages))
	for i, stage := range stages {
		names[i] = string(stage)
	}
	return names
}
