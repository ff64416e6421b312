package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

// PolicyStore implements repositories.PolicyRepository in memory
type PolicyStore struct {
	store *Store
}

var _ repositories.PolicyRepository = (*PolicyStore)(nil)

// Create persists a new policy with status uploaded
func (r *PolicyStore) Create(ctx context.Context, policy *entities.PolicyDocument) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[policy.ID]; exists {
		return apperrors.NewConflictError(fmt.Sprintf("policy %s already exists", policy.ID))
	}
	if policy.FileHash != "" {
		for _, existing := range s.policies {
			if existing.FileHash == policy.FileHash {
				return apperrors.NewConflictError(fmt.Sprintf("file already exists with policy_id: %s", existing.ID))
			}
		}
	}

	now := s.now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	policy.Status = entities.PolicyStatusUploaded
	if policy.Language == "" {
		policy.Language = entities.DefaultLanguage
	}

	s.policies[policy.ID] = clonePolicy(policy)
	return nil
}

// GetByID retrieves a policy by ID
func (r *PolicyStore) GetByID(ctx context.Context, id string) (*entities.PolicyDocument, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("policy with ID '%s' not found", id))
	}
	return clonePolicy(policy), nil
}

// GetByFileHash retrieves the policy holding the given content hash
func (r *PolicyStore) GetByFileHash(ctx context.Context, hash string) (*entities.PolicyDocument, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, policy := range s.policies {
		if policy.FileHash == hash {
			return clonePolicy(policy), nil
		}
	}
	return nil, apperrors.NewNotFoundError("no policy with hash " + hash)
}

// List retrieves policies ordered by created_at DESC, id DESC
func (r *PolicyStore) List(ctx context.Context, filter repositories.PolicyFilter) ([]*entities.PolicyDocument, int, error) {
	filter = filter.Normalize()

	s := r.store
	s.mu.Lock()
	matched := make([]*entities.PolicyDocument, 0, len(s.policies))
	for _, policy := range s.policies {
		if filter.Status != "" && policy.Status != filter.Status {
			continue
		}
		if filter.PolicyType != "" && policy.PolicyType != filter.PolicyType {
			continue
		}
		if filter.Jurisdiction != "" && !containsFold(policy.Jurisdiction, filter.Jurisdiction) {
			continue
		}
		matched = append(matched, clonePolicy(policy))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*entities.PolicyDocument{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

// UpdateStatus overwrites the denormalized status
func (r *PolicyStore) UpdateStatus(ctx context.Context, id string, status entities.PolicyStatus) error {
	if !status.Valid() {
		return apperrors.NewValidationError("unknown policy status: " + string(status))
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("policy with ID '%s' not found", id))
	}
	policy.Status = status
	policy.UpdatedAt = s.now()
	return nil
}

// Archive marks the policy archived
func (r *PolicyStore) Archive(ctx context.Context, id string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("policy with ID '%s' not found", id))
	}
	archivedAt := at
	policy.ArchivedAt = &archivedAt
	policy.Status = entities.PolicyStatusArchived
	policy.UpdatedAt = s.now()
	return nil
}

// Delete removes the policy and cascades to its processing log entries
func (r *PolicyStore) Delete(ctx context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("policy with ID '%s' not found", id))
	}
	delete(s.policies, id)
	for entryID, entry := range s.entries {
		if entry.PolicyID == id {
			delete(s.entries, entryID)
		}
	}
	return nil
}

// containsFold matches the Postgres ILIKE '%sub%' filter
func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
