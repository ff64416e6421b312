package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestStaleAttemptReconciler_ReconcileOnce(t *testing.T) {
	c := &clock{now: time.Now().UTC().Add(-time.Hour)}
	p := newPipeline(t, withClock(c.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := p.upload(t, "abandoned")

	// An attempt whose holder died an hour ago
	_, err := p.store.ProcessingLog().StartAttempt(ctx, entities.StartAttemptParams{
		PolicyID: policy.ID,
		Stage:    entities.StageTextExtraction,
	})
	require.NoError(t, err)
	_, err = p.coordinator.RefreshStatus(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PolicyStatusProcessing, p.status(t, policy.ID))

	c.Set(time.Now().UTC())
	eventChan, err := p.bus.Subscribe(ctx, providers.EventChannelPipeline)
	require.NoError(t, err)

	reconciler := services.NewStaleAttemptReconciler(p.store.ProcessingLog(), p.coordinator, p.bus, nil, 15*time.Minute)
	count, err := reconciler.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, entities.PolicyStatusFailed, p.status(t, policy.ID))

	event := <-eventChan
	assert.Equal(t, entities.PipelineEventStageReconciled, event.Type)
	assert.Equal(t, entities.ErrorKindLeaseExpired, event.ErrorKind)

	count, err = reconciler.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	t.Run("expired attempt needs force", func(t *testing.T) {
		_, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, false)
		assert.Error(t, err)

		entry, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, true)
		require.NoError(t, err)
		assert.Equal(t, entities.AttemptStatusCompleted, entry.Status)
	})
}

func TestStaleAttemptReconciler_LeavesLiveAttempts(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	policy := p.upload(t, "in flight")

	_, err := p.store.ProcessingLog().StartAttempt(ctx, entities.StartAttemptParams{
		PolicyID: policy.ID,
		Stage:    entities.StageTextExtraction,
	})
	require.NoError(t, err)

	reconciler := services.NewStaleAttemptReconciler(p.store.ProcessingLog(), p.coordinator, nil, nil, 15*time.Minute)
	count, err := reconciler.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
