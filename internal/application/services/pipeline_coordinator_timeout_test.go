package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civiclens/civiclens/backend/internal/adapters/locking"
	"github.com/civiclens/civiclens/backend/internal/adapters/memory"
	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hangingStage blocks its first run until the context ends and counts how
// many runs overlap
type hangingStage struct {
	entered  chan struct{}
	once     sync.Once
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *hangingStage) Stage() entities.Stage      { return entities.StageTextExtraction }
func (s *hangingStage) Requires() []entities.Stage { return nil }

func (s *hangingStage) Execute(ctx context.Context, input providers.StageInput) (entities.StageResult, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if current <= seen || s.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	if s.calls.Add(1) == 1 {
		s.once.Do(func() { close(s.entered) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return entities.StageResult{"extracted_text": "done"}, nil
}

func TestPipelineCoordinator_StageTimeoutStaysInsideStaleWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Policies().Create(ctx, &entities.PolicyDocument{
		ID: "pol_1", Filename: "a.pdf", FileSize: 10, ContentType: "application/pdf",
	}))

	stage := &hangingStage{entered: make(chan struct{})}
	registry, err := services.NewStageRegistry(stage)
	require.NoError(t, err)

	coordinator := services.NewPipelineCoordinator(
		store.Policies(), store.ProcessingLog(), registry, newBlobStore(),
		locking.NewMemoryLocker(), nil, nil,
		services.CoordinatorOptions{StaleAfter: 100 * time.Millisecond, StageTimeout: time.Minute},
	)
	assert.Equal(t, 50*time.Millisecond, coordinator.Options().StageTimeout)

	type outcome struct {
		entry *entities.ProcessingLogEntry
		err   error
	}
	first := make(chan outcome, 1)
	go func() {
		entry, err := coordinator.RunStage(ctx, "pol_1", entities.StageTextExtraction, false)
		first <- outcome{entry, err}
	}()
	<-stage.entered

	_, err = coordinator.RunStage(ctx, "pol_1", entities.StageTextExtraction, true)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict), "force does not override a live attempt")

	// The first attempt ends on its own timeout before it could be expired
	got := <-first
	assert.True(t, apperrors.IsType(got.err, apperrors.ErrorTypeInternal))
	require.NotNil(t, got.entry)
	assert.Equal(t, entities.AttemptStatusFailed, got.entry.Status)
	policy, err := store.Policies().GetByID(ctx, "pol_1")
	require.NoError(t, err)
	assert.Equal(t, entities.PolicyStatusFailed, policy.Status, "a timed out attempt is still recorded")

	time.Sleep(120 * time.Millisecond)
	retried, err := coordinator.RunStage(ctx, "pol_1", entities.StageTextExtraction, true)
	require.NoError(t, err)
	assert.Equal(t, entities.AttemptStatusCompleted, retried.Status)

	assert.Equal(t, int32(1), stage.maxSeen.Load())
	assert.Equal(t, int32(2), stage.calls.Load())
}
