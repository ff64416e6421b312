package providers

import (
	"context"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
)

// StageInput is everything an executor may read about a policy
type StageInput struct {
	Policy *entities.PolicyDocument

	// Content loads the stored file bytes on demand
	Content func(ctx context.Context) ([]byte, error)

	// Upstream holds the latest completed entry of each required stage
	Upstream map[entities.Stage]*entities.ProcessingLogEntry
}

// StageExecutor runs one pipeline stage. Executors are pure with respect to
// the processing log: they return a result or a typed failure and never
// record attempts themselves.
type StageExecutor interface {
	// Stage names the stage this executor runs
	Stage() entities.Stage

	// Requires lists stages that must be completed before this one runs
	Requires() []entities.Stage

	// Execute produces the stage result
	Execute(ctx context.Context, input StageInput) (entities.StageResult, error)
}

// DocumentTextReader extracts the plain text of each page of a document
type DocumentTextReader interface {
	ReadPages(ctx context.Context, data []byte) ([]string, error)
}
