package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

const leaseExpiredMessage = "attempt lease expired before completion"

// ProcessingLog implements repositories.ProcessingLogRepository in memory
type ProcessingLog struct {
	store *Store
}

var _ repositories.ProcessingLogRepository = (*ProcessingLog)(nil)

// StartAttempt claims the (policy, stage) slot and returns an in_progress entry
func (l *ProcessingLog) StartAttempt(ctx context.Context, params entities.StartAttemptParams) (*entities.ProcessingLogEntry, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[params.PolicyID]; !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("policy with ID '%s' not found", params.PolicyID))
	}

	var history []*entities.ProcessingLogEntry
	for _, entry := range s.entries {
		if entry.PolicyID == params.PolicyID && entry.Stage == params.Stage {
			history = append(history, entry)
		}
	}

	now := s.now()
	stale, err := entities.DecideClaim(history, params, now)
	for _, entry := range stale {
		expire(entry, now)
	}
	if err != nil {
		return nil, err
	}

	s.nextID++
	entry := &entities.ProcessingLogEntry{
		ID:        s.nextID,
		PolicyID:  params.PolicyID,
		Stage:     params.Stage,
		Status:    entities.AttemptStatusPending,
		CreatedAt: now,
	}
	s.entries[entry.ID] = entry

	started := now
	entry.Status = entities.AttemptStatusInProgress
	entry.StartedAt = &started

	return cloneEntry(entry), nil
}

// CompleteAttempt moves an in_progress entry to completed
func (l *ProcessingLog) CompleteAttempt(ctx context.Context, id int64, result entities.StageResult) (*entities.ProcessingLogEntry, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.inProgress(id)
	if err != nil {
		return nil, err
	}

	completed := s.now()
	entry.Status = entities.AttemptStatusCompleted
	entry.Result = result
	entry.CompletedAt = &completed
	return cloneEntry(entry), nil
}

// FailAttempt moves an in_progress entry to failed
func (l *ProcessingLog) FailAttempt(ctx context.Context, id int64, kind, message string) (*entities.ProcessingLogEntry, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.inProgress(id)
	if err != nil {
		return nil, err
	}

	completed := s.now()
	entry.Status = entities.AttemptStatusFailed
	entry.ErrorKind = kind
	entry.ErrorMessage = message
	entry.CompletedAt = &completed
	return cloneEntry(entry), nil
}

// LatestCompleted returns the authoritative completed entry, or nil
func (l *ProcessingLog) LatestCompleted(ctx context.Context, policyID string, stage entities.Stage) (*entities.ProcessingLogEntry, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*entities.ProcessingLogEntry
	for _, entry := range s.entries {
		if entry.PolicyID == policyID && entry.Stage == stage {
			candidates = append(candidates, entry)
		}
	}
	latest := entities.LatestCompletedOf(candidates)
	if latest == nil {
		return nil, nil
	}
	return cloneEntry(latest), nil
}

// ListByPolicy returns every entry of a policy ordered by id
func (l *ProcessingLog) ListByPolicy(ctx context.Context, policyID string) ([]*entities.ProcessingLogEntry, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []*entities.ProcessingLogEntry{}
	for _, entry := range s.entries {
		if entry.PolicyID == policyID {
			entries = append(entries, cloneEntry(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// ReconcileStale fails open entries opened before cutoff
func (l *ProcessingLog) ReconcileStale(ctx context.Context, cutoff time.Time) ([]*entities.ProcessingLogEntry, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := []*entities.ProcessingLogEntry{}
	for _, entry := range s.entries {
		if entry.Status.IsOpen() && entry.OpenedAt().Before(cutoff) {
			expire(entry, now)
			expired = append(expired, cloneEntry(entry))
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (s *Store) inProgress(id int64) (*entities.ProcessingLogEntry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("processing entry %d not found", id))
	}
	if entry.Status != entities.AttemptStatusInProgress {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf(
			"processing entry %d is %s, expected %s", id, entry.Status, entities.AttemptStatusInProgress))
	}
	return entry, nil
}

func expire(entry *entities.ProcessingLogEntry, now time.Time) {
	completed := now
	entry.Status = entities.AttemptStatusFailed
	entry.ErrorKind = entities.ErrorKindLeaseExpired
	entry.ErrorMessage = leaseExpiredMessage
	entry.CompletedAt = &completed
}
