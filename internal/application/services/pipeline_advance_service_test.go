package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineAdvanceService_RunsFollowUpStages(t *testing.T) {
	p := newPipeline(t)
	advance := services.NewPipelineAdvanceService(p.coordinator, p.bus)
	require.NoError(t, advance.Start())

	policy := p.upload(t, "auto advancing policy")

	require.Eventually(t, func() bool {
		_, ok := p.search.text(policy.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	advance.Stop()

	history, err := p.coordinator.History(context.Background(), policy.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, entities.StageTextExtraction, history[0].Stage)
	assert.Equal(t, entities.StageSearchIndexing, history[1].Stage)
	assert.Equal(t, entities.AttemptStatusCompleted, history[1].Status)
}
