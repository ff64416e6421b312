package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

const pageSeparator = "\n\n"

// TextExtractionStage turns a stored policy PDF into plain text with counts
type TextExtractionStage struct {
	reader providers.DocumentTextReader
	now    func() time.Time
}

var _ providers.StageExecutor = (*TextExtractionStage)(nil)

// NewTextExtractionStage creates the text extraction executor
func NewTextExtractionStage(reader providers.DocumentTextReader) *TextExtractionStage {
	return &TextExtractionStage{
		reader: reader,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Stage implements providers.StageExecutor
func (s *TextExtractionStage) Stage() entities.Stage {
	return entities.StageTextExtraction
}

// Requires implements providers.StageExecutor
func (s *TextExtractionStage) Requires() []entities.Stage {
	return nil
}

// Execute reads the document and returns the extracted text payload
func (s *TextExtractionStage) Execute(ctx context.Context, input providers.StageInput) (entities.StageResult, error) {
	if input.Content == nil {
		return nil, apperrors.NewInternalError("no content loader for policy", nil)
	}
	data, err := input.Content(ctx)
	if err != nil {
		return nil, err
	}

	extracted, err := s.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	return extracted.Result(), nil
}

// Extract runs the extraction on raw document bytes
func (s *TextExtractionStage) Extract(ctx context.Context, data []byte) (*entities.ExtractedText, error) {
	pages, err := s.reader.ReadPages(ctx, data)
	if err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(pages))
	for _, page := range pages {
		if page = strings.TrimSpace(page); page != "" {
			kept = append(kept, page)
		}
	}
	text := strings.TrimSpace(strings.Join(kept, pageSeparator))
	if text == "" {
		return nil, apperrors.NewEmptyContentError("document contains no extractable text")
	}

	return &entities.ExtractedText{
		Text:                text,
		CharacterCount:      utf8.RuneCountInString(text),
		WordCount:           len(strings.Fields(text)),
		PageCount:           len(pages),
		ExtractionTimestamp: s.now(),
	}, nil
}
