package services

import (
	"context"
	"fmt"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/rs/zerolog/log"
)

// CacheInvalidationService evicts cached processing results based on pipeline events
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for events and invalidating cache
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelPipeline)
	if err != nil {
		return fmt.Errorf("failed to subscribe to pipeline events: %w", err)
	}

	go s.processEvents(eventChan)
	log.Info().Msg("Cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	log.Info().Msg("Cache invalidation service stopped")
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.PipelineEvent) {
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
			s.handleEvent(event)
		}
	}
}

// handleEvent evicts on deletion only. Completions are written through by the
// cached log, and an eviction racing a slow cache fill would let that fill
// store an older entry.
func (s *CacheInvalidationService) handleEvent(event *entities.PipelineEvent) {
	if event.Type != entities.PipelineEventPolicyDeleted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.InvalidatePolicy(ctx, event.PolicyID); err != nil {
		log.Warn().Err(err).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Failed to invalidate processing cache")
	}
}

// InvalidatePolicy drops every cached processing result of a policy
func (s *CacheInvalidationService) InvalidatePolicy(ctx context.Context, policyID string) error {
	pattern := providers.PolicyProcessingCachePattern(policyID)
	if err := s.cache.DeletePattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to invalidate pattern %s: %w", pattern, err)
	}
	log.Debug().Str("policy_id", policyID).Msg("Invalidated processing cache")
	return nil
}
