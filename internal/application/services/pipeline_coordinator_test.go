package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineCoordinator_ExtractConflictForce(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	policy := p.upload(t, "Section 1 covers maternal health services")

	first, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, false)
	require.NoError(t, err)
	assert.Equal(t, entities.AttemptStatusCompleted, first.Status)
	assert.Equal(t, entities.PolicyStatusAnalyzed, p.status(t, policy.ID))

	_, text, err := p.coordinator.GetExtractedText(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, "Section 1 covers maternal health services", text.Text)
	assert.Equal(t, 6, text.WordCount)
	assert.Equal(t, 41, text.CharacterCount)

	t.Run("second run without force conflicts", func(t *testing.T) {
		_, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, false)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
		assert.Equal(t, int32(1), p.reader.calls.Load())
	})

	t.Run("forced run appends a new authoritative entry", func(t *testing.T) {
		second, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, true)
		require.NoError(t, err)
		assert.Greater(t, second.ID, first.ID)

		history, err := p.coordinator.History(ctx, policy.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		for _, entry := range history {
			assert.Equal(t, entities.AttemptStatusCompleted, entry.Status)
		}

		latest, err := p.store.ProcessingLog().LatestCompleted(ctx, policy.ID, entities.StageTextExtraction)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
		assert.Equal(t, entities.PolicyStatusAnalyzed, p.status(t, policy.ID))
	})
}

func TestPipelineCoordinator_EncryptedDocumentFails(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	policy := p.upload(t, "locked")
	p.reader.on("locked", func() ([]string, error) {
		return nil, apperrors.NewEncryptedDocumentError("document is password protected", nil)
	})

	entry, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, false)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeEncryptedDocument))
	require.NotNil(t, entry)
	assert.Equal(t, entities.AttemptStatusFailed, entry.Status)
	assert.Equal(t, string(apperrors.ErrorTypeEncryptedDocument), entry.ErrorKind)
	assert.Equal(t, "document is password protected", entry.ErrorMessage)
	assert.Equal(t, entities.PolicyStatusFailed, p.status(t, policy.ID))

	_, _, err = p.coordinator.GetExtractedText(ctx, policy.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	t.Run("failed attempt needs force", func(t *testing.T) {
		_, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, false)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	})

	t.Run("forced retry can succeed", func(t *testing.T) {
		p.reader.on("locked", func() ([]string, error) { return []string{"unlocked text"}, nil })

		entry, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, true)
		require.NoError(t, err)
		assert.Equal(t, entities.AttemptStatusCompleted, entry.Status)
		assert.Equal(t, entities.PolicyStatusAnalyzed, p.status(t, policy.ID))
	})
}

func TestPipelineCoordinator_ForeignErrorsBecomeInternal(t *testing.T) {
	p := newPipeline(t)
	policy := p.upload(t, "boom")
	p.reader.on("boom", func() ([]string, error) { panic("reader exploded") })

	entry, err := p.coordinator.RunStage(context.Background(), policy.ID, entities.StageTextExtraction, false)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
	require.NotNil(t, entry)
	assert.Equal(t, string(apperrors.ErrorTypeInternal), entry.ErrorKind)
}

func TestPipelineCoordinator_RejectsInvalidRuns(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	policy := p.upload(t, "some text")

	t.Run("unregistered stage", func(t *testing.T) {
		_, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageEmbedding, false)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := p.coordinator.RunStage(ctx, "pol_000000000000", entities.StageTextExtraction, false)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})

	t.Run("missing prerequisite", func(t *testing.T) {
		_, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageSearchIndexing, false)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})

	t.Run("archived policy", func(t *testing.T) {
		archived := p.upload(t, "archived text")
		_, err := p.policies.Archive(ctx, archived.ID)
		require.NoError(t, err)

		_, err = p.coordinator.RunStage(ctx, archived.ID, entities.StageTextExtraction, true)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	})

	history, err := p.coordinator.History(ctx, policy.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, entities.PolicyStatusUploaded, p.status(t, policy.ID))
}

func TestPipelineCoordinator_AtMostOneInFlight(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	policy := p.upload(t, "slow document")

	release := make(chan struct{})
	p.reader.on("slow document", func() ([]string, error) {
		<-release
		return []string{"slow document"}, nil
	})

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, i%2 == 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case apperrors.IsType(err, apperrors.ErrorTypeConflict):
				conflicts++
			}
		}()
	}

	require.Eventually(t, func() bool { return p.reader.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, entities.PolicyStatusProcessing, p.status(t, policy.ID))

	// Callers that were refused return without waiting for the executor
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conflicts == callers-1
	}, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, int32(1), p.reader.calls.Load())
}

func TestPipelineCoordinator_CallerCancellationDoesNotStrandAttempt(t *testing.T) {
	p := newPipeline(t)
	policy := p.upload(t, "cancel me")

	ctx, cancel := context.WithCancel(context.Background())
	p.reader.on("cancel me", func() ([]string, error) {
		cancel()
		return []string{"cancel me"}, nil
	})

	entry, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, false)
	require.NoError(t, err)
	assert.Equal(t, entities.AttemptStatusCompleted, entry.Status)
}

func TestPipelineCoordinator_PublishesAttemptEvents(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	policy := p.upload(t, "event text")

	eventChan, err := p.bus.Subscribe(ctx, providers.GetPolicyChannel(policy.ID))
	require.NoError(t, err)

	_, err = p.coordinator.RunStage(context.Background(), policy.ID, entities.StageTextExtraction, false)
	require.NoError(t, err)

	started := <-eventChan
	assert.Equal(t, entities.PipelineEventStageStarted, started.Type)
	assert.Equal(t, entities.PolicyStatusProcessing, started.PolicyStatus)

	completed := <-eventChan
	assert.Equal(t, entities.PipelineEventStageCompleted, completed.Type)
	assert.Equal(t, entities.StageTextExtraction, completed.Stage)
	assert.Equal(t, entities.PolicyStatusAnalyzed, completed.PolicyStatus)
}

func TestPipelineCoordinator_SearchIndexing(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	policy := p.upload(t, "indexable policy text")

	_, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageTextExtraction, false)
	require.NoError(t, err)

	entry, err := p.coordinator.RunStage(ctx, policy.ID, entities.StageSearchIndexing, false)
	require.NoError(t, err)
	assert.Equal(t, "policies", entry.Result["collection"])

	text, ok := p.search.text(policy.ID)
	require.True(t, ok)
	assert.Equal(t, "indexable policy text", text)
	assert.Equal(t, entities.PolicyStatusAnalyzed, p.status(t, policy.ID))
}
