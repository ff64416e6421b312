package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	"github.com/rs/zerolog/log"
)

const (
	// latestCompletedTTL bounds how long a cached authoritative result lives (seconds)
	latestCompletedTTL  = 600
	processingCacheName = "processing_log"
)

// CachedProcessingLogAdapter caches LatestCompleted lookups, which back every
// extracted text read. CompleteAttempt writes the new entry through to the
// cache; a read miss only fills an absent key, so a reader holding an older
// entry can never replace the one a forced re-run just stored.
type CachedProcessingLogAdapter struct {
	adapter repositories.ProcessingLogRepository
	cache   providers.CacheProvider
	metrics *observability.Metrics
}

var _ repositories.ProcessingLogRepository = (*CachedProcessingLogAdapter)(nil)

// NewCachedProcessingLogAdapter creates a new cached processing log adapter
func NewCachedProcessingLogAdapter(adapter repositories.ProcessingLogRepository, cache providers.CacheProvider, metrics *observability.Metrics) *CachedProcessingLogAdapter {
	return &CachedProcessingLogAdapter{
		adapter: adapter,
		cache:   cache,
		metrics: metrics,
	}
}

// StartAttempt delegates to the underlying log
func (a *CachedProcessingLogAdapter) StartAttempt(ctx context.Context, params entities.StartAttemptParams) (*entities.ProcessingLogEntry, error) {
	return a.adapter.StartAttempt(ctx, params)
}

// CompleteAttempt records the completion and stores it as the cached authoritative entry
func (a *CachedProcessingLogAdapter) CompleteAttempt(ctx context.Context, id int64, result entities.StageResult) (*entities.ProcessingLogEntry, error) {
	entry, err := a.adapter.CompleteAttempt(ctx, id, result)
	if err != nil {
		return nil, err
	}
	a.store(ctx, entry)
	return entry, nil
}

// FailAttempt delegates to the underlying log; failures never change the authoritative entry
func (a *CachedProcessingLogAdapter) FailAttempt(ctx context.Context, id int64, kind, message string) (*entities.ProcessingLogEntry, error) {
	return a.adapter.FailAttempt(ctx, id, kind, message)
}

// LatestCompleted serves the authoritative entry from cache when present
func (a *CachedProcessingLogAdapter) LatestCompleted(ctx context.Context, policyID string, stage entities.Stage) (*entities.ProcessingLogEntry, error) {
	cacheKey := providers.LatestCompletedCacheKey(policyID, stage)

	if cached, err := a.cache.Get(ctx, cacheKey); err == nil {
		var entry entities.ProcessingLogEntry
		if err := json.Unmarshal(cached, &entry); err == nil {
			observability.RecordCacheHit(ctx, a.metrics, processingCacheName)
			return &entry, nil
		}
		log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to unmarshal cached processing entry")
	}

	observability.RecordCacheMiss(ctx, a.metrics, processingCacheName)
	entry, err := a.adapter.LatestCompleted(ctx, policyID, stage)
	if err != nil || entry == nil {
		return entry, err
	}

	if data, err := json.Marshal(entry); err == nil {
		if _, err := a.cache.SetNX(ctx, cacheKey, data, latestCompletedTTL); err != nil {
			log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache processing entry")
		}
	}
	return entry, nil
}

// ListByPolicy delegates to the underlying log
func (a *CachedProcessingLogAdapter) ListByPolicy(ctx context.Context, policyID string) ([]*entities.ProcessingLogEntry, error) {
	return a.adapter.ListByPolicy(ctx, policyID)
}

// ReconcileStale delegates to the underlying log
func (a *CachedProcessingLogAdapter) ReconcileStale(ctx context.Context, cutoff time.Time) ([]*entities.ProcessingLogEntry, error) {
	return a.adapter.ReconcileStale(ctx, cutoff)
}

// store overwrites the cached entry; if that fails the key is dropped so the
// next read goes to the log
func (a *CachedProcessingLogAdapter) store(ctx context.Context, entry *entities.ProcessingLogEntry) {
	cacheKey := providers.LatestCompletedCacheKey(entry.PolicyID, entry.Stage)
	data, err := json.Marshal(entry)
	if err == nil {
		err = a.cache.Set(ctx, cacheKey, data, latestCompletedTTL)
	}
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to store processing entry in cache")
	if err := a.cache.Delete(ctx, cacheKey); err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to invalidate processing entry cache")
	}
}
