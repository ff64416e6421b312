package services

import (
	"context"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

// SearchIndexingStage pushes the authoritative extracted text into the search index
type SearchIndexingStage struct {
	search     repositories.PolicySearchRepository
	collection string
}

var _ providers.StageExecutor = (*SearchIndexingStage)(nil)

// NewSearchIndexingStage creates the search indexing executor
func NewSearchIndexingStage(search repositories.PolicySearchRepository, collection string) *SearchIndexingStage {
	return &SearchIndexingStage{search: search, collection: collection}
}

// Stage implements providers.StageExecutor
func (s *SearchIndexingStage) Stage() entities.Stage {
	return entities.StageSearchIndexing
}

// Requires implements providers.StageExecutor
func (s *SearchIndexingStage) Requires() []entities.Stage {
	return []entities.Stage{entities.StageTextExtraction}
}

// Execute implements providers.StageExecutor
func (s *SearchIndexingStage) Execute(ctx context.Context, input providers.StageInput) (entities.StageResult, error) {
	upstream := input.Upstream[entities.StageTextExtraction]
	if upstream == nil {
		return nil, apperrors.NewInternalError("text extraction result is missing", nil)
	}
	extracted, err := entities.ExtractedTextFromResult(upstream.Result)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read extracted text", err)
	}

	if err := s.search.Index(ctx, input.Policy, extracted.Text); err != nil {
		return nil, err
	}

	return entities.StageResult{
		"indexed_at":      time.Now().UTC().Format(time.RFC3339Nano),
		"collection":      s.collection,
		"character_count": extracted.CharacterCount,
		"source_entry_id": upstream.ID,
	}, nil
}
