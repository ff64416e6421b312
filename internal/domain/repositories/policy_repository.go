package repositories

import (
	"context"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
)

// PolicyRepository defines the interface for policy record operations
type PolicyRepository interface {
	// Create persists a new policy with status uploaded
	Create(ctx context.Context, policy *entities.PolicyDocument) error

	// GetByID retrieves a policy by ID
	GetByID(ctx context.Context, id string) (*entities.PolicyDocument, error)

	// GetByFileHash retrieves the policy holding the given content hash
	GetByFileHash(ctx context.Context, hash string) (*entities.PolicyDocument, error)

	// List retrieves policies matching the filter and the total match count
	List(ctx context.Context, filter PolicyFilter) ([]*entities.PolicyDocument, int, error)

	// UpdateStatus overwrites the denormalized status
	UpdateStatus(ctx context.Context, id string, status entities.PolicyStatus) error

	// Archive marks the policy archived
	Archive(ctx context.Context, id string, at time.Time) error

	// Delete removes the policy and its processing log entries
	Delete(ctx context.Context, id string) error
}

// PolicyFilter defines filters for listing policies. Jurisdiction is a
// case-sensitive substring match; the other fields match exactly.
type PolicyFilter struct {
	Status       entities.PolicyStatus
	PolicyType   entities.PolicyType
	Jurisdiction string
	Limit        int
	Offset       int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalize applies default paging values.
func (f PolicyFilter) Normalize() PolicyFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
